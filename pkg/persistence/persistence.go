// Package persistence provides the storage abstraction for workflow
// definitions and task records.
package persistence

import (
	"context"
	"time"

	"github.com/promptgate/promptgate/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TaskRepository() TaskRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository serves workflow definitions. The dispatch engine only
// reads; Save and Delete exist for the administrative surface.
type WorkflowRepository interface {
	// List returns released, non-deleted workflows visible to the tenant,
	// including wildcard-tenant workflows, ordered by workflow id.
	List(ctx context.Context, tenantID int64) ([]*models.Workflow, error)

	// GetByID returns a non-deleted workflow visible to the tenant, or
	// ErrWorkflowNotFound.
	GetByID(ctx context.Context, tenantID int64, id string) (*models.Workflow, error)

	Save(ctx context.Context, workflow *models.Workflow) error

	// Delete soft-deletes a workflow.
	Delete(ctx context.Context, tenantID int64, id string) error
}

// TaskRepository is the authority for task existence and state. Create must
// be a unique insert: a second create with the same task id fails with
// ErrTaskAlreadyExists even under concurrent submission, which is the
// gateway's idempotency guard for at-least-once callers.
type TaskRepository interface {
	// GetByID returns a task visible to the tenant, or ErrTaskNotFound.
	GetByID(ctx context.Context, tenantID int64, id string) (*models.Task, error)

	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error

	// ListStalePending returns PENDING tasks created before the cutoff,
	// oldest first. Feeds the janitor that fails orphaned tasks.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Task, error)
}
