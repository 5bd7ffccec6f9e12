package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/otelhelper"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
)

const (
	// DefaultPollAttempts and DefaultPollInterval bound how long a task may
	// run on a node before it is declared lost, five minutes at one probe
	// per second.
	DefaultPollAttempts = 300
	DefaultPollInterval = time.Second
)

// Poller drives a pending task to its terminal state by probing the node's
// history endpoint. Whatever happens, the task record ends up updated: a
// pending task whose poll loop ran to completion is FINISHED or FAILED,
// never stuck.
type Poller struct {
	tasks    persistence.TaskRepository
	nodes    NodeGateway
	engine   Engine
	cache    cache.ResultCache
	logger   *slog.Logger
	tracer   trace.Tracer
	attempts uint64
	interval time.Duration
	now      func() time.Time
}

type PollerConfig struct {
	Persistence persistence.Persistence
	Nodes       NodeGateway
	Engine      Engine
	Cache       cache.ResultCache
	Logger      *slog.Logger

	// Zero values take the defaults.
	Attempts int
	Interval time.Duration
}

func NewPoller(cfg PollerConfig) *Poller {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	resultCache := cfg.Cache
	if resultCache == nil {
		resultCache = cache.NoopResultCache{}
	}

	return &Poller{
		tasks:    cfg.Persistence.TaskRepository(),
		nodes:    cfg.Nodes,
		engine:   cfg.Engine,
		cache:    resultCache,
		logger:   cfg.Logger.With("module", "poller"),
		tracer:   otel.Tracer("promptgate/dispatch"),
		attempts: uint64(attempts),
		interval: interval,
		now:      time.Now,
	}
}

// Await polls until the node reports a completion entry for the task's
// prompt, then extracts outputs and persists the terminal state. An empty
// history answer means still running and is retried on a constant cadence;
// a history transport failure is terminal because the node is answering
// wrong, not slowly.
func (p *Poller) Await(ctx context.Context, task *models.Task) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "dispatch.await",
		attribute.String(otelhelper.TaskIDKey, task.ID),
		attribute.String(otelhelper.NodeKey, task.Node),
		attribute.String(otelhelper.PromptIDKey, task.PromptID),
	)
	defer span.End()

	var payload map[string]any

	operation := func() error {
		history, err := p.nodes.History(ctx, task.Node, task.PromptID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrInvokeFailed, err))
		}

		if len(history) == 0 {
			return ErrResultWait
		}

		payload = completionEntry(history, task.PromptID)

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.interval), p.attempts-1), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		otelhelper.SetError(span, err)

		return nil, p.fail(ctx, task, err)
	}

	output, err := p.engine.ExtractOutputs(ctx, parameterize.ExtractRequest{
		TaskID:  task.ID,
		Params:  task.OutputParams,
		Mapping: task.OutputMapping,
		Payload: payload,
		Node:    task.Node,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, p.fail(ctx, task, err)
	}

	task.Status = models.TaskFinished
	task.Result = "success"
	task.Response = encodePayload(payload)
	p.finish(ctx, task)

	if err := p.cache.Set(ctx, task.ID, output); err != nil {
		p.logger.WarnContext(ctx, "Result cache write failed", "task_id", task.ID, "error", err)
	}

	p.logger.InfoContext(ctx, "Task finished",
		"task_id", task.ID, "node", task.Node, "duration_ms", task.DurationMs)

	return output, nil
}

func (p *Poller) fail(ctx context.Context, task *models.Task, cause error) error {
	task.Status = models.TaskFailed

	if errors.Is(cause, ErrResultWait) {
		task.Result = "generation timed out"
	} else {
		task.Result = "generation failed: " + cause.Error()
	}

	p.finish(ctx, task)

	p.logger.WarnContext(ctx, "Task failed",
		"task_id", task.ID, "node", task.Node, "result", task.Result, "error", cause)

	return cause
}

// finish persists the terminal state. A failed update is logged, not
// returned: the caller's answer is decided by the poll outcome, and the
// janitor sweeps records the update missed.
func (p *Poller) finish(ctx context.Context, task *models.Task) {
	now := p.now()
	task.DurationMs = now.Sub(task.CreatedAt).Milliseconds()
	task.UpdatedAt = now

	if err := p.tasks.Update(ctx, task); err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist terminal task state",
			"task_id", task.ID, "status", task.Status, "error", err)
	}
}

// completionEntry picks the task's own entry out of the history document,
// falling back to the first entry for engines that key differently.
func completionEntry(history map[string]any, promptID string) map[string]any {
	if entry, ok := history[promptID].(map[string]any); ok {
		return entry
	}

	for _, value := range history {
		if entry, ok := value.(map[string]any); ok {
			return entry
		}
	}

	return history
}

func encodePayload(payload map[string]any) string {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return ""
	}

	return string(encoded)
}
