// Package comfy is the HTTP client for ComfyUI-style compute nodes. One
// logical interface, replicated per node endpoint: /prompt submits a filled
// job graph, /history/{prompt_id} reports completions, /view serves output
// artifacts and /upload/image stages input images on the node.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/promptgate/promptgate/pkg/otelhelper"
)

// ErrImageTransfer marks failures moving image bytes to or from a node, both
// staging uploads and preview downloads.
var ErrImageTransfer = errors.New("image transfer failed")

const (
	defaultTimeout = 30 * time.Second

	// uploadAttempts is the total number of tries for staging an image on
	// a node. No delay between tries.
	uploadAttempts = 3
)

// PromptRequest is the body of POST {node}/prompt.
type PromptRequest struct {
	ClientID string `json:"client_id"`
	Prompt   any    `json:"prompt"`
}

// SubmitResult captures the engine's submission response verbatim. A non-200
// still yields a usable result so the task record can capture the failure.
type SubmitResult struct {
	StatusCode int
	Body       string
	PromptID   string
}

// OK reports whether the engine accepted the submission.
func (r SubmitResult) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Client talks to one pool of compute nodes. The node endpoint is chosen per
// call because routing happens upstream in the selector.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClient creates a compute-node client.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		tracer:     otel.Tracer("promptgate/comfy"),
	}
}

// SubmitPrompt POSTs a filled job graph to the node. Transport errors are
// returned as errors; engine-level rejections come back as a SubmitResult
// with a non-200 status code.
func (c *Client) SubmitPrompt(ctx context.Context, node string, request PromptRequest) (SubmitResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "comfy.submit_prompt",
		attribute.String(otelhelper.NodeKey, node),
	)
	defer span.End()

	body, err := json.Marshal(request)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to encode prompt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node+"/prompt", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to create prompt request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		otelhelper.SetError(span, err)

		return SubmitResult{}, fmt.Errorf("prompt request to %s failed: %w", node, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to read prompt response: %w", err)
	}

	result := SubmitResult{StatusCode: resp.StatusCode, Body: string(raw)}

	if result.OK() {
		var parsed struct {
			PromptID string `json:"prompt_id"`
		}

		if err := json.Unmarshal(raw, &parsed); err != nil {
			return result, fmt.Errorf("failed to decode prompt response: %w", err)
		}

		result.PromptID = parsed.PromptID
	}

	c.logger.InfoContext(ctx, "Submitted prompt", "node", node, "status_code", result.StatusCode, "prompt_id", result.PromptID)

	return result, nil
}

// History fetches completion payloads keyed by job id. An empty map means
// the job is still running.
func (c *Client) History(ctx context.Context, node, promptID string) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "comfy.history",
		attribute.String(otelhelper.NodeKey, node),
		attribute.String(otelhelper.PromptIDKey, promptID),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+"/history/"+promptID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("history request to %s failed: %w", node, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request to %s returned %d: %s", node, resp.StatusCode, string(raw))
	}

	var history map[string]any
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	return history, nil
}

// View fetches the raw binary content of a named output artifact.
func (c *Client) View(ctx context.Context, node, fileType, filename string) ([]byte, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "comfy.view",
		attribute.String(otelhelper.NodeKey, node),
	)
	defer span.End()

	query := url.Values{}
	query.Set("filename", filename)
	query.Set("subfolder", "")
	query.Set("type", fileType)
	// Cache buster, same trick the node's own UI uses.
	query.Set("rand", strconv.FormatInt(time.Now().UnixNano(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create view request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("view request to %s failed: %w", node, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: view request to %s returned %d for %s", ErrImageTransfer, node, resp.StatusCode, filename)
	}

	return io.ReadAll(resp.Body)
}

// UploadImage downloads the image behind imageURL and stages it on the node
// via multipart upload, returning the server-side filename to reference from
// a filled template. The whole download-and-upload is retried up to three
// times with no delay; exhaustion is a hard dispatch error.
func (c *Client) UploadImage(ctx context.Context, node, imageURL string) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "comfy.upload_image",
		attribute.String(otelhelper.NodeKey, node),
	)
	defer span.End()

	var staged string

	operation := func() error {
		name, err := c.uploadImageOnce(ctx, node, imageURL)
		if err != nil {
			c.logger.WarnContext(ctx, "Image upload attempt failed", "node", node, "image_url", imageURL, "error", err)

			return err
		}

		staged = name

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uploadAttempts-1), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		otelhelper.SetError(span, err)

		return "", fmt.Errorf("%w: failed to stage image %s on %s: %v", ErrImageTransfer, imageURL, node, err)
	}

	return staged, nil
}

func (c *Client) uploadImageOnce(ctx context.Context, node, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned %d", resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	filename := uuid.New().String() + "_" + path.Base(imageURL)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart field: %w", err)
	}

	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, node+"/upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())

	uploadResp, err := c.httpClient.Do(uploadReq)
	if err != nil {
		return "", fmt.Errorf("upload request to %s failed: %w", node, err)
	}

	defer func() {
		_ = uploadResp.Body.Close()
	}()

	raw, err := io.ReadAll(uploadResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if uploadResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload request to %s returned %d: %s", node, uploadResp.StatusCode, string(raw))
	}

	var parsed struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	return parsed.Name, nil
}
