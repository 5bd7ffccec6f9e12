package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , tenant_id
  , name
  , description
  , input_params
  , output_params
  , input_mapping
  , output_mapping
  , before_hooks
  , after_hooks
  , template_key
  , schema_key
  , status
  , created_at
  , updated_at
  , deleted_at
`

// List returns released workflows visible to the tenant, including the
// wildcard tenant's, ordered by workflow id.
func (r *WorkflowRepository) List(ctx context.Context, tenantID int64) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE tenant_id IN ($1, $2)
		  AND status = $3
		  AND deleted_at IS NULL
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, models.WildcardTenant, tenantID, models.WorkflowReleased)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a non-deleted workflow visible to the tenant.
func (r *WorkflowRepository) GetByID(ctx context.Context, tenantID int64, id string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1
		  AND tenant_id IN ($2, $3)
		  AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id, models.WildcardTenant, tenantID)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save upserts a workflow definition.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	inputParams, err := json.Marshal(workflow.InputParams)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	outputParams, err := json.Marshal(workflow.OutputParams)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	inputMapping, err := json.Marshal(workflow.InputMapping)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	outputMapping, err := json.Marshal(workflow.OutputMapping)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	beforeHooks, err := json.Marshal(workflow.BeforeHooks)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	afterHooks, err := json.Marshal(workflow.AfterHooks)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (
			id, tenant_id, name, description,
			input_params, output_params, input_mapping, output_mapping,
			before_hooks, after_hooks, template_key, schema_key,
			status, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id      = EXCLUDED.tenant_id,
			name           = EXCLUDED.name,
			description    = EXCLUDED.description,
			input_params   = EXCLUDED.input_params,
			output_params  = EXCLUDED.output_params,
			input_mapping  = EXCLUDED.input_mapping,
			output_mapping = EXCLUDED.output_mapping,
			before_hooks   = EXCLUDED.before_hooks,
			after_hooks    = EXCLUDED.after_hooks,
			template_key   = EXCLUDED.template_key,
			schema_key     = EXCLUDED.schema_key,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at,
			deleted_at     = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID, workflow.TenantID, workflow.Name, workflow.Description,
		inputParams, outputParams, inputMapping, outputMapping,
		beforeHooks, afterHooks, workflow.TemplateKey, workflow.SchemaKey,
		workflow.Status, workflow.CreatedAt, workflow.UpdatedAt, workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete soft-deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, tenantID int64, id string) error {
	query := `
		UPDATE workflows
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND tenant_id IN ($2, $3)
		  AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, models.WildcardTenant, tenantID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		inputParams   []byte
		outputParams  []byte
		inputMapping  []byte
		outputMapping []byte
		beforeHooks   []byte
		afterHooks    []byte
		deletedAt     sql.NullTime
	)

	err := row.Scan(
		&workflow.ID, &workflow.TenantID, &workflow.Name, &workflow.Description,
		&inputParams, &outputParams, &inputMapping, &outputMapping,
		&beforeHooks, &afterHooks, &workflow.TemplateKey, &workflow.SchemaKey,
		&workflow.Status, &workflow.CreatedAt, &workflow.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(inputParams, &workflow.InputParams); err != nil {
		return nil, fmt.Errorf("failed to decode input params: %w", err)
	}

	if err := json.Unmarshal(outputParams, &workflow.OutputParams); err != nil {
		return nil, fmt.Errorf("failed to decode output params: %w", err)
	}

	if err := json.Unmarshal(inputMapping, &workflow.InputMapping); err != nil {
		return nil, fmt.Errorf("failed to decode input mapping: %w", err)
	}

	if err := json.Unmarshal(outputMapping, &workflow.OutputMapping); err != nil {
		return nil, fmt.Errorf("failed to decode output mapping: %w", err)
	}

	if err := json.Unmarshal(beforeHooks, &workflow.BeforeHooks); err != nil {
		return nil, fmt.Errorf("failed to decode before hooks: %w", err)
	}

	if err := json.Unmarshal(afterHooks, &workflow.AfterHooks); err != nil {
		return nil, fmt.Errorf("failed to decode after hooks: %w", err)
	}

	if deletedAt.Valid {
		workflow.DeletedAt = &deletedAt.Time
	}

	return &workflow, nil
}
