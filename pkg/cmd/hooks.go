package cmd

import (
	"log/slog"
	"os"

	"github.com/promptgate/promptgate/pkg/hooks"
)

// NewHooks builds the hook registry. Enrichment hooks are registered only
// when their service endpoints are configured; a workflow referencing an
// unconfigured hook fails at submission, which is the loud failure we want.
func NewHooks(logger *slog.Logger) *hooks.Registry {
	registry := hooks.NewRegistry(logger)

	if url := os.Getenv("CAPTION_SERVICE_URL"); url != "" {
		registry.Register(hooks.NewImageCaptionHook(url, logger))
	}

	if url := os.Getenv("PROMPT_ENHANCE_URL"); url != "" {
		registry.Register(hooks.NewPromptEnhanceHook(url, logger))
	}

	return registry
}
