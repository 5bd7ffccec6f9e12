package file

import (
	"context"
	"testing"

	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func releasedWorkflow(id string, tenantID int64) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		TenantID:    tenantID,
		Name:        "txt2img base",
		TemplateKey: "templates/" + id + ".json",
		Status:      models.WorkflowReleased,
	}
}

func TestWorkflowRepository_TenantVisibility(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.WorkflowRepository().Save(ctx, releasedWorkflow("10001", models.WildcardTenant)))
	require.NoError(t, p.WorkflowRepository().Save(ctx, releasedWorkflow("10002", 7)))
	require.NoError(t, p.WorkflowRepository().Save(ctx, releasedWorkflow("10003", 8)))

	workflows, err := p.WorkflowRepository().List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "10001", workflows[0].ID)
	assert.Equal(t, "10002", workflows[1].ID)

	// Another tenant's workflow is invisible by id lookup too.
	_, err = p.WorkflowRepository().GetByID(ctx, 7, "10003")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	// Wildcard-owned workflows resolve for any tenant.
	workflow, err := p.WorkflowRepository().GetByID(ctx, 7, "10001")
	require.NoError(t, err)
	assert.Equal(t, models.WildcardTenant, workflow.TenantID)
}

func TestWorkflowRepository_ListSkipsUnreleased(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	draft := releasedWorkflow("20001", 7)
	draft.Status = models.WorkflowUnreleased
	require.NoError(t, p.WorkflowRepository().Save(ctx, draft))

	workflows, err := p.WorkflowRepository().List(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, workflows)

	// GetByID still serves unreleased workflows; only the listing filters.
	_, err = p.WorkflowRepository().GetByID(ctx, 7, "20001")
	require.NoError(t, err)
}

func TestWorkflowRepository_SoftDelete(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.WorkflowRepository().Save(ctx, releasedWorkflow("10001", 7)))
	require.NoError(t, p.WorkflowRepository().Delete(ctx, 7, "10001"))

	_, err := p.WorkflowRepository().GetByID(ctx, 7, "10001")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestTaskRepository_CreateRejectsDuplicateID(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	task := &models.Task{
		ID:         "task-1",
		WorkflowID: "10001",
		TenantID:   7,
		Status:     models.TaskPending,
	}

	require.NoError(t, p.TaskRepository().Create(ctx, task))

	// Resubmission with the same id must fail regardless of payload.
	dup := &models.Task{ID: "task-1", WorkflowID: "99999", TenantID: 7}
	err := p.TaskRepository().Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, persistence.IsTaskAlreadyExists(err))
}

func TestTaskRepository_UpdateAndGet(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	task := &models.Task{
		ID:         "task-2",
		WorkflowID: "10001",
		TenantID:   7,
		Status:     models.TaskPending,
	}
	require.NoError(t, p.TaskRepository().Create(ctx, task))

	task.Status = models.TaskFinished
	task.Result = "ok"
	require.NoError(t, p.TaskRepository().Update(ctx, task))

	loaded, err := p.TaskRepository().GetByID(ctx, 7, "task-2")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFinished, loaded.Status)
	assert.Equal(t, "ok", loaded.Result)

	// Other tenants cannot read the task.
	_, err = p.TaskRepository().GetByID(ctx, 8, "task-2")
	require.Error(t, err)
	assert.True(t, persistence.IsTaskNotFound(err))
}

func TestTaskRepository_UpdateMissingTask(t *testing.T) {
	p := newTestPersistence(t)

	err := p.TaskRepository().Update(context.Background(), &models.Task{ID: "absent"})
	require.Error(t, err)
	assert.True(t, persistence.IsTaskNotFound(err))
}
