// Package hooks runs workflow-configured pre-processing over submission
// values. Hooks are compiled in and registered by id; a workflow referencing
// an unregistered id is a configuration error.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrHookNotRegistered = errors.New("hook not registered")

// Request is the mutable view of a submission a hook may rewrite before
// parameterization runs.
type Request struct {
	TaskID     string
	WorkflowID string
	TenantID   int64
	Values     map[string]any
}

type Hook interface {
	ID() string
	Run(ctx context.Context, req *Request) error
}

type Registry struct {
	logger *slog.Logger
	hooks  map[string]Hook
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("module", "hooks"),
		hooks:  make(map[string]Hook),
	}
}

func (r *Registry) Register(hook Hook) {
	r.hooks[hook.ID()] = hook
}

func (r *Registry) Available() []string {
	ids := make([]string, 0, len(r.hooks))
	for id := range r.hooks {
		ids = append(ids, id)
	}

	return ids
}

// Apply runs the named hooks in order. The hook list comes from the workflow
// definition, so an unknown id fails the submission rather than being
// silently skipped.
func (r *Registry) Apply(ctx context.Context, ids []string, req *Request) error {
	for _, id := range ids {
		hook, ok := r.hooks[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrHookNotRegistered, id)
		}

		r.logger.InfoContext(ctx, "Running hook", "task_id", req.TaskID, "hook", id)

		if err := hook.Run(ctx, req); err != nil {
			return fmt.Errorf("hook %s: %w", id, err)
		}
	}

	return nil
}
