// Package file provides file-based persistence for workflows and tasks,
// intended for local development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/promptgate/promptgate/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface on the file
// system. Each record is one JSON file.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
	taskRepo     *TaskRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		taskRepo:     NewTaskRepository(cleanRoot),
	}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
