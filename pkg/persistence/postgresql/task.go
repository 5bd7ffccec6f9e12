package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/persistence"
)

// TaskRepository handles task-related database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

const taskColumns = `
	id
  , workflow_id
  , tenant_id
  , input
  , output_params
  , output_mapping
  , node
  , status_code
  , response
  , prompt_id
  , duration_ms
  , sync
  , status
  , result
  , created_at
  , updated_at
`

// GetByID returns a task visible to the tenant.
func (r *TaskRepository) GetByID(ctx context.Context, tenantID int64, id string) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1 AND tenant_id IN ($2, $3)
	`

	row := r.db.QueryRowContext(ctx, query, id, models.WildcardTenant, tenantID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTaskError("GetByID", id, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewTaskError("GetByID", id, err)
	}

	return task, nil
}

// Create inserts a new task record. The primary key constraint turns a
// duplicate task id into ErrTaskAlreadyExists atomically, so concurrent
// submissions of the same id cannot both win.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	input, err := json.Marshal(task.Input)
	if err != nil {
		return persistence.NewTaskError("Create", task.ID, err)
	}

	outputParams, err := json.Marshal(task.OutputParams)
	if err != nil {
		return persistence.NewTaskError("Create", task.ID, err)
	}

	outputMapping, err := json.Marshal(task.OutputMapping)
	if err != nil {
		return persistence.NewTaskError("Create", task.ID, err)
	}

	query := `
		INSERT INTO tasks (
			id, workflow_id, tenant_id, input, output_params, output_mapping,
			node, status_code, response, prompt_id, duration_ms, sync,
			status, result, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.WorkflowID, task.TenantID, input, outputParams, outputMapping,
		task.Node, task.StatusCode, task.Response, task.PromptID, task.DurationMs, task.Sync,
		task.Status, task.Result, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error

		// 23505 is unique_violation.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewTaskError("Create", task.ID, persistence.ErrTaskAlreadyExists)
		}

		return persistence.NewTaskError("Create", task.ID, err)
	}

	return nil
}

// Update replaces the mutable columns of an existing task record.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tasks
		SET response = $2, status = $3, result = $4, duration_ms = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		task.ID, task.Response, task.Status, task.Result, task.DurationMs, task.UpdatedAt,
	)
	if err != nil {
		return persistence.NewTaskError("Update", task.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewTaskError("Update", task.ID, err)
	}

	if affected == 0 {
		return persistence.NewTaskError("Update", task.ID, persistence.ErrTaskNotFound)
	}

	return nil
}

// ListStalePending returns PENDING tasks created before the cutoff. Used by
// the janitor to fail orphans left behind by crashed workers.
func (r *TaskRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, models.TaskPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale tasks: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task          models.Task
		input         []byte
		outputParams  []byte
		outputMapping []byte
	)

	err := row.Scan(
		&task.ID, &task.WorkflowID, &task.TenantID, &input, &outputParams, &outputMapping,
		&task.Node, &task.StatusCode, &task.Response, &task.PromptID, &task.DurationMs, &task.Sync,
		&task.Status, &task.Result, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(input, &task.Input); err != nil {
		return nil, fmt.Errorf("failed to decode task input: %w", err)
	}

	if err := json.Unmarshal(outputParams, &task.OutputParams); err != nil {
		return nil, fmt.Errorf("failed to decode output params: %w", err)
	}

	if err := json.Unmarshal(outputMapping, &task.OutputMapping); err != nil {
		return nil, fmt.Errorf("failed to decode output mapping: %w", err)
	}

	return &task, nil
}
