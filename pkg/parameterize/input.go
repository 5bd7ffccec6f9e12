package parameterize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptgate/promptgate/pkg/jsonpath"
	"github.com/promptgate/promptgate/pkg/models"
)

// Image-like rule types whose string values are URLs that must be staged on
// the compute node before submission. The engine expects images by staged
// filename, not by URL.
const (
	RuleImage      = "IMAGE"
	RuleViewFinder = "VIEW_FINDER"
)

// NodeClient is the slice of the compute-node client the engine needs.
type NodeClient interface {
	UploadImage(ctx context.Context, node, imageURL string) (string, error)
	View(ctx context.Context, node, fileType, filename string) ([]byte, error)
}

// ArtifactStore is the slice of the object store the engine needs.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Engine fills templates with request values and extracts results from
// completion payloads. Stateless apart from its collaborators.
type Engine struct {
	nodes     NodeClient
	artifacts ArtifactStore
	logger    *slog.Logger

	// now is swapped in tests to pin seed substitution.
	now func() time.Time
}

// NewEngine creates a parameterization engine.
func NewEngine(nodes NodeClient, artifacts ArtifactStore, logger *slog.Logger) *Engine {
	return &Engine{
		nodes:     nodes,
		artifacts: artifacts,
		logger:    logger,
		now:       time.Now,
	}
}

// FillRequest carries everything needed to fill one template.
type FillRequest struct {
	TaskID   string
	Params   []models.InputParam
	Mapping  map[string]string
	Template any
	Values   map[string]any
	Node     string
}

// FillInputs applies the declared input schema to the template in place, in
// declaration order, and returns the filled template. Every matched location
// is overwritten; a parameter whose mapping matches nothing is a
// configuration failure, not a skip.
func (e *Engine) FillInputs(ctx context.Context, req FillRequest) (any, error) {
	for _, param := range req.Params {
		if err := e.fillParam(ctx, req, param); err != nil {
			return nil, newError(req.TaskID, err)
		}
	}

	return req.Template, nil
}

func (e *Engine) fillParam(ctx context.Context, req FillRequest, param models.InputParam) error {
	value, supplied := req.Values[param.Name]

	if param.Required && !supplied {
		return fmt.Errorf("%w: %s", ErrMissingParam, param.Name)
	}

	src, mapped := req.Mapping[param.Name]
	if !mapped {
		return fmt.Errorf("%w: %s", ErrMappingMissing, param.Name)
	}

	expr, err := jsonpath.Parse(src)
	if err != nil {
		return err
	}

	if len(expr.Find(req.Template)) == 0 {
		return fmt.Errorf("%w: %s (%s)", ErrPathNotInTemplate, param.Name, src)
	}

	if supplied {
		if param.Type == "str" && (param.RuleType == RuleImage || param.RuleType == RuleViewFinder) {
			imageURL, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: %s must be an image URL", ErrMissingParam, param.Name)
			}

			staged, err := e.nodes.UploadImage(ctx, req.Node, imageURL)
			if err != nil {
				return err
			}

			value = staged
		}
	} else {
		value = param.Default
	}

	if param.Type == "seed" && isUnsetSeed(value) {
		value = e.randomSeed()
		e.logger.DebugContext(ctx, "Substituted random seed", "task_id", req.TaskID, "seed", value)
	}

	if _, err := expr.Set(req.Template, value); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Filled parameter", "task_id", req.TaskID, "param", param.Name, "path", src)

	return nil
}

// isUnsetSeed reports whether the caller asked for a fresh seed. "-1" and
// "0" are the engine's conventional placeholders, in whatever numeric or
// string shape JSON decoding produced.
func isUnsetSeed(value any) bool {
	s := fmt.Sprint(value)

	return s == "-1" || s == "0"
}

// randomSeed derives a positive seed from the clock so identical requests
// made at different times do not collide on a fixed seed.
func (e *Engine) randomSeed() int64 {
	return e.now().UnixMicro()
}
