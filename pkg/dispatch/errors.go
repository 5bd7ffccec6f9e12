package dispatch

import (
	"errors"

	"github.com/promptgate/promptgate/pkg/comfy"
	"github.com/promptgate/promptgate/pkg/hooks"
	"github.com/promptgate/promptgate/pkg/jsonpath"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
)

// Stable business error codes, part of the public API contract. HTTP status
// alone is too coarse for callers that route on failure cause.
const (
	CodeParamError           = 40001
	CodeInvokeFailed         = 40002
	CodeWorkflowNotFound     = 40003
	CodeParameterizationFail = 40004
	CodeTaskNotFound         = 40005
	CodeTaskExists           = 40006
	CodeImageTransfer        = 40007
	CodeResultWait           = 40008
)

var (
	// ErrInvokeFailed means the compute node rejected or never received
	// the submission or a history request.
	ErrInvokeFailed = errors.New("compute node invocation failed")

	// ErrResultWait means the node never produced a completion entry
	// within the polling window.
	ErrResultWait = errors.New("timed out waiting for task result")

	// ErrSchemaViolation means the submitted values failed the workflow's
	// input schema.
	ErrSchemaViolation = errors.New("input values violate workflow schema")
)

// CodeOf maps any dispatch-path error onto the numeric taxonomy. Unknown
// errors map to the parameterization catch-all the way unclassified
// failures always have.
func CodeOf(err error) int {
	switch {
	case errors.Is(err, persistence.ErrTaskAlreadyExists):
		return CodeTaskExists
	case errors.Is(err, persistence.ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return CodeWorkflowNotFound
	case errors.Is(err, comfy.ErrImageTransfer):
		return CodeImageTransfer
	case errors.Is(err, ErrResultWait):
		return CodeResultWait
	case errors.Is(err, ErrInvokeFailed):
		return CodeInvokeFailed
	case errors.Is(err, ErrSchemaViolation),
		errors.Is(err, hooks.ErrHookNotRegistered),
		errors.Is(err, jsonpath.ErrInvalidExpression),
		errors.Is(err, parameterize.ErrMissingParam),
		parameterize.IsConfigError(err):
		return CodeParamError
	default:
		return CodeParameterizationFail
	}
}

// IsCallerError reports whether the code points at the caller's request or
// the workflow configuration rather than at this service or a node.
func IsCallerError(code int) bool {
	switch code {
	case CodeParamError, CodeWorkflowNotFound, CodeTaskNotFound, CodeTaskExists:
		return true
	default:
		return false
	}
}
