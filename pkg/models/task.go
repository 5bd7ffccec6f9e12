package models

import "time"

type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskFinished TaskStatus = "FINISHED"
	TaskFailed   TaskStatus = "FAILED"
)

// Task is one dispatched execution of a workflow against a chosen compute
// node. PENDING is assigned at submission; the poll loop moves it to exactly
// one of FINISHED or FAILED and never back.
type Task struct {
	ID         string `json:"id"          validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	TenantID   int64  `json:"tenant_id"`

	// Input values as resolved at submission, and a snapshot of the
	// workflow's output schema taken at the same moment. The poll loop
	// works from the snapshot, never from a re-read of the workflow.
	Input         map[string]any    `json:"input,omitempty"`
	OutputParams  []OutputParam     `json:"output_params,omitempty"`
	OutputMapping map[string]string `json:"output_mapping,omitempty"`

	// Submission outcome against the compute node.
	Node       string `json:"node"`
	StatusCode int    `json:"status_code"`
	Response   string `json:"response,omitempty"`
	PromptID   string `json:"prompt_id"`
	DurationMs int64  `json:"duration_ms"`
	Sync       bool   `json:"sync"`

	Status TaskStatus `json:"status"`
	Result string     `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == TaskFinished || t.Status == TaskFailed
}
