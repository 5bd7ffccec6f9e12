package parameterize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/promptgate/promptgate/pkg/jsonpath"
	"github.com/promptgate/promptgate/pkg/models"
)

// ExtractRequest carries everything needed to extract one task's outputs
// from a completion payload. Params and Mapping come from the task record's
// snapshot, not from a re-read of the workflow.
type ExtractRequest struct {
	TaskID  string
	Params  []models.OutputParam
	Mapping map[string]string
	Payload any
	Node    string
}

// ExtractOutputs evaluates the output mapping against the completion payload
// and coerces matches into the public schema. Unlike inputs, absent outputs
// are tolerated: a parameter whose expression matches nothing is skipped.
// Any failure in the pass is wrapped into a single parameterization error
// carrying the task id.
func (e *Engine) ExtractOutputs(ctx context.Context, req ExtractRequest) (map[string]any, error) {
	result := make(map[string]any)

	for _, param := range req.Params {
		src, mapped := req.Mapping[param.Name]
		if !mapped {
			continue
		}

		expr, err := jsonpath.Parse(src)
		if err != nil {
			return nil, newError(req.TaskID, err)
		}

		matches := expr.Find(req.Payload)
		if len(matches) == 0 {
			continue
		}

		value, err := e.coerceOutput(ctx, req, param, matches[0])
		if err != nil {
			return nil, newError(req.TaskID, err)
		}

		result[param.Name] = value
	}

	return result, nil
}

func (e *Engine) coerceOutput(ctx context.Context, req ExtractRequest, param models.OutputParam, matched any) (any, error) {
	switch param.Type {
	case "int":
		return toInt(matched)
	case "float":
		return toFloat(matched)
	case "base64":
		body, err := e.fetchArtifact(ctx, req, param, matched)
		if err != nil {
			return nil, err
		}

		return base64.StdEncoding.EncodeToString(body), nil
	case "url":
		body, err := e.fetchArtifact(ctx, req, param, matched)
		if err != nil {
			return nil, err
		}

		key := "preview_image/" + req.TaskID + ".png"

		return e.artifacts.Upload(ctx, key, body, "image/png")
	default:
		return matched, nil
	}
}

// fetchArtifact treats the matched value as the engine's image descriptor
// ({type, filename}) and pulls its binary content from the node's preview
// endpoint.
func (e *Engine) fetchArtifact(ctx context.Context, req ExtractRequest, param models.OutputParam, matched any) ([]byte, error) {
	descriptor, ok := matched.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("output %s: matched value is not an image descriptor", param.Name)
	}

	fileType, _ := descriptor["type"].(string)

	filename, ok := descriptor["filename"].(string)
	if !ok || filename == "" {
		return nil, fmt.Errorf("output %s: image descriptor has no filename", param.Name)
	}

	return e.nodes.View(ctx, req.Node, fileType, filename)
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %q as int: %w", v, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to int", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %q as float: %w", v, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", value)
	}
}
