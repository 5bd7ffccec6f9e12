package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/persistence"
)

// TaskRepository handles task-related file operations.
type TaskRepository struct {
	root string
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(root string) *TaskRepository {
	return &TaskRepository{root: root}
}

func (tr *TaskRepository) dir() string {
	return filepath.Join(tr.root, "tasks")
}

func (tr *TaskRepository) path(id string) string {
	return filepath.Join(tr.dir(), id+".json")
}

// GetByID returns a task visible to the tenant.
func (tr *TaskRepository) GetByID(ctx context.Context, tenantID int64, id string) (*models.Task, error) {
	data, err := os.ReadFile(tr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewTaskError("GetByID", id, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewTaskError("GetByID", id, err)
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, persistence.NewTaskError("GetByID", id, fmt.Errorf("failed to decode task: %w", err))
	}

	if task.TenantID != tenantID && tenantID != models.WildcardTenant {
		return nil, persistence.NewTaskError("GetByID", id, persistence.ErrTaskNotFound)
	}

	return &task, nil
}

// Create inserts a new task record. The exclusive-create open closes the
// duplicate-submission race: two concurrent creates with the same id resolve
// to exactly one winner at the file system level.
func (tr *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := os.MkdirAll(tr.dir(), 0o755); err != nil {
		return persistence.NewTaskError("Create", task.ID, err)
	}

	task.CreatedAt = time.Now().UTC()
	task.UpdatedAt = task.CreatedAt

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return persistence.NewTaskError("Create", task.ID, err)
	}

	f, err := os.OpenFile(tr.path(task.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return persistence.NewTaskError("Create", task.ID, persistence.ErrTaskAlreadyExists)
		}

		return persistence.NewTaskError("Create", task.ID, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()

		return persistence.NewTaskError("Create", task.ID, err)
	}

	if err := f.Close(); err != nil {
		return persistence.NewTaskError("Create", task.ID, err)
	}

	return nil
}

// ListStalePending returns PENDING tasks created before the cutoff, oldest
// first.
func (tr *TaskRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Task, error) {
	entries, err := os.ReadDir(tr.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list task files: %w", err)
	}

	tasks := make([]*models.Task, 0)

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		id := entry.Name()[:len(entry.Name())-5]

		task, err := tr.GetByID(ctx, models.WildcardTenant, id)
		if err != nil {
			return nil, err
		}

		if task.Status == models.TaskPending && task.CreatedAt.Before(cutoff) {
			tasks = append(tasks, task)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// Update replaces an existing task record.
func (tr *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	if _, err := os.Stat(tr.path(task.ID)); os.IsNotExist(err) {
		return persistence.NewTaskError("Update", task.ID, persistence.ErrTaskNotFound)
	}

	task.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return persistence.NewTaskError("Update", task.ID, err)
	}

	if err := os.WriteFile(tr.path(task.ID), data, 0o644); err != nil {
		return persistence.NewTaskError("Update", task.ID, err)
	}

	return nil
}
