// Package events defines event types and structures for task lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic for task lifecycle events.
const Topic = "promptgate.tasks"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TaskDispatchedEvent EventType = "task.dispatched"
	TaskFinishedEvent   EventType = "task.finished"
	TaskFailedEvent     EventType = "task.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TaskID     string         `json:"task_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TaskDispatched is emitted after a task was accepted by a compute node and
// persisted as pending. A worker picks it up and polls the node until the
// execution settles.
type TaskDispatched struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	TenantID   int64  `json:"tenant_id"`
	Node       string `json:"node"`
	PromptID   string `json:"prompt_id"`
}

func (t TaskDispatched) GetType() EventType {
	return TaskDispatchedEvent
}

type TaskFinished struct {
	BaseEvent

	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (t TaskFinished) GetType() EventType {
	return TaskFinishedEvent
}

type TaskFailed struct {
	BaseEvent

	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
}

func (t TaskFailed) GetType() EventType {
	return TaskFailedEvent
}

func NewBaseEvent(eventType EventType, taskID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Metadata:  make(map[string]any),
	}
}
