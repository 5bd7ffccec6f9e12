package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Enrichment hooks call an external captioning or prompt service to fill or
// improve the positive prompt before dispatch. Both are best effort: when the
// service is down the submission proceeds with the values it already has,
// matching how these steps behaved as manual pre-processing.

const (
	ImageCaptionHookID  = "image_caption"
	PromptEnhanceHookID = "prompt_enhance"
)

type ImageCaptionHook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewImageCaptionHook captions Values["image_base"] into
// Values["positive_prompt"] when no prompt was supplied.
func NewImageCaptionHook(url string, logger *slog.Logger) *ImageCaptionHook {
	return &ImageCaptionHook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("hook", ImageCaptionHookID),
	}
}

func (h *ImageCaptionHook) ID() string {
	return ImageCaptionHookID
}

func (h *ImageCaptionHook) Run(ctx context.Context, req *Request) error {
	if prompt, _ := req.Values["positive_prompt"].(string); prompt != "" {
		h.logger.InfoContext(ctx, "Prompt already present, skipping caption", "task_id", req.TaskID)

		return nil
	}

	imageURL, _ := req.Values["image_base"].(string)
	if imageURL == "" {
		return nil
	}

	var out struct {
		Caption string `json:"caption"`
	}

	err := postJSON(ctx, h.client, h.url, map[string]any{"image_url": imageURL}, &out)
	if err != nil {
		h.logger.WarnContext(ctx, "Caption service failed, continuing without caption",
			"task_id", req.TaskID, "error", err)

		return nil
	}

	req.Values["positive_prompt"] = out.Caption

	return nil
}

type PromptEnhanceHook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewPromptEnhanceHook rewrites Values["positive_prompt"] through an external
// prompt improvement service.
func NewPromptEnhanceHook(url string, logger *slog.Logger) *PromptEnhanceHook {
	return &PromptEnhanceHook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("hook", PromptEnhanceHookID),
	}
}

func (h *PromptEnhanceHook) ID() string {
	return PromptEnhanceHookID
}

func (h *PromptEnhanceHook) Run(ctx context.Context, req *Request) error {
	prompt, _ := req.Values["positive_prompt"].(string)
	if prompt == "" {
		return nil
	}

	var out struct {
		Prompt string `json:"prompt"`
	}

	err := postJSON(ctx, h.client, h.url, map[string]any{"prompt": prompt}, &out)
	if err != nil {
		h.logger.WarnContext(ctx, "Prompt enhancement failed, keeping original prompt",
			"task_id", req.TaskID, "error", err)

		return nil
	}

	req.Values["positive_prompt"] = out.Prompt

	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in map[string]any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	return json.Unmarshal(body, out)
}
