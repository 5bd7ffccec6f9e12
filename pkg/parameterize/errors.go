// Package parameterize applies a workflow's declared parameter schema to a
// job-graph template on the way in, and to the engine's completion payload
// on the way out.
package parameterize

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParam indicates a required parameter was absent from the
	// request values. A caller error, never retried.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrMappingMissing indicates a declared parameter has no entry in the
	// workflow's mapping. The declared schema and the mapping are out of
	// sync; a configuration error that must never be silently tolerated.
	ErrMappingMissing = errors.New("parameter missing from workflow mapping")

	// ErrPathNotInTemplate indicates the mapping expression matched nothing
	// in the template: the template does not contain the path the schema
	// claims. A configuration error.
	ErrPathNotInTemplate = errors.New("mapping path not present in template")
)

// Error wraps any failure during parameterization with the task it belongs
// to, so operators can line it up with the task record.
type Error struct {
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("parameterization failed for task %s: %v", e.TaskID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(taskID string, err error) *Error {
	return &Error{TaskID: taskID, Err: err}
}

// IsConfigError reports whether the failure is a workflow configuration
// problem rather than a caller problem.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMappingMissing) || errors.Is(err, ErrPathNotInTemplate)
}
