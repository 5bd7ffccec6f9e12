// Package dispatch orchestrates the submission path: workflow lookup, hook
// pre-processing, template parameterization, node selection, prompt
// submission and task record creation, plus the read paths over task state.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/comfy"
	"github.com/promptgate/promptgate/pkg/eventbus"
	"github.com/promptgate/promptgate/pkg/events"
	"github.com/promptgate/promptgate/pkg/hooks"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/objectstore"
	"github.com/promptgate/promptgate/pkg/otelhelper"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
)

// NodeGateway is the slice of the compute-node client the dispatch path
// needs directly. Image traffic goes through the parameterization engine.
type NodeGateway interface {
	SubmitPrompt(ctx context.Context, node string, request comfy.PromptRequest) (comfy.SubmitResult, error)
	History(ctx context.Context, node, promptID string) (map[string]any, error)
}

// NodeSelector picks a node endpoint for a decoded job graph.
type NodeSelector interface {
	Select(graph any) string
}

// Engine is the parameterization surface dispatch depends on.
type Engine interface {
	FillInputs(ctx context.Context, req parameterize.FillRequest) (any, error)
	ExtractOutputs(ctx context.Context, req parameterize.ExtractRequest) (map[string]any, error)
}

// SubmitRequest is one inference submission. TaskID is caller-chosen and is
// the idempotency key: the same id can never be dispatched twice.
type SubmitRequest struct {
	TaskID     string         `json:"task_id"     validate:"required,max=50"`
	TenantID   int64          `json:"tenant_id"   validate:"required"`
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Values     map[string]any `json:"params"`
	Sync       bool           `json:"is_sync"`
}

// SubmitResponse reports where the submission landed. For sync submissions
// Output carries the extracted results once the node finishes.
type SubmitResponse struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"task_status"`
	Output map[string]any    `json:"output,omitempty"`
}

// Service wires the dispatch path together. Safe for concurrent use; all
// mutable coordination lives in the selector and the stores.
type Service struct {
	workflows persistence.WorkflowRepository
	tasks     persistence.TaskRepository
	objects   objectstore.Store
	nodes     NodeGateway
	selector  NodeSelector
	engine    Engine
	hooks     *hooks.Registry
	poller    *Poller
	publisher eventbus.EventPublisher
	cache     cache.ResultCache
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type ServiceConfig struct {
	Persistence persistence.Persistence
	Objects     objectstore.Store
	Nodes       NodeGateway
	Selector    NodeSelector
	Engine      Engine
	Hooks       *hooks.Registry
	Poller      *Poller
	Publisher   eventbus.EventPublisher
	Cache       cache.ResultCache
	Logger      *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	resultCache := cfg.Cache
	if resultCache == nil {
		resultCache = cache.NoopResultCache{}
	}

	return &Service{
		workflows: cfg.Persistence.WorkflowRepository(),
		tasks:     cfg.Persistence.TaskRepository(),
		objects:   cfg.Objects,
		nodes:     cfg.Nodes,
		selector:  cfg.Selector,
		engine:    cfg.Engine,
		hooks:     cfg.Hooks,
		poller:    cfg.Poller,
		publisher: cfg.Publisher,
		cache:     resultCache,
		logger:    cfg.Logger.With("module", "dispatch"),
		tracer:    otel.Tracer("promptgate/dispatch"),
		now:       time.Now,
	}
}

// Submit runs the whole submission path. The task record is created after
// the node call so it can capture the node's verbatim response; the create
// is a unique insert, so of two concurrent submissions with the same id
// exactly one owns the record and the other fails with the exists error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "dispatch.submit",
		attribute.String(otelhelper.TaskIDKey, req.TaskID),
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.Int64(otelhelper.TenantIDKey, req.TenantID),
	)
	defer span.End()

	start := s.now()

	if req.Values == nil {
		req.Values = make(map[string]any)
	}

	// Fast duplicate check before any node traffic. The create below is
	// still the authoritative guard.
	if _, err := s.tasks.GetByID(ctx, req.TenantID, req.TaskID); err == nil {
		return nil, persistence.NewTaskError("submit", req.TaskID, persistence.ErrTaskAlreadyExists)
	} else if !persistence.IsTaskNotFound(err) {
		return nil, err
	}

	workflow, err := s.workflows.GetByID(ctx, req.TenantID, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if err := s.hooks.Apply(ctx, workflow.BeforeHooks, &hooks.Request{
		TaskID:     req.TaskID,
		WorkflowID: workflow.ID,
		TenantID:   req.TenantID,
		Values:     req.Values,
	}); err != nil {
		return nil, err
	}

	if err := s.validateValues(ctx, workflow, req.Values); err != nil {
		return nil, err
	}

	graph, err := s.loadTemplate(ctx, workflow)
	if err != nil {
		return nil, err
	}

	node := s.selector.Select(graph)
	span.SetAttributes(attribute.String(otelhelper.NodeKey, node))

	filled, err := s.engine.FillInputs(ctx, parameterize.FillRequest{
		TaskID:   req.TaskID,
		Params:   workflow.InputParams,
		Mapping:  workflow.InputMapping,
		Template: graph,
		Values:   req.Values,
		Node:     node,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result, err := s.nodes.SubmitPrompt(ctx, node, comfy.PromptRequest{
		ClientID: req.TaskID,
		Prompt:   filled,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%w: %v", ErrInvokeFailed, err)
	}

	task := &models.Task{
		ID:            req.TaskID,
		WorkflowID:    workflow.ID,
		TenantID:      req.TenantID,
		Input:         req.Values,
		OutputParams:  workflow.OutputParams,
		OutputMapping: workflow.OutputMapping,
		Node:          node,
		StatusCode:    result.StatusCode,
		Response:      result.Body,
		PromptID:      result.PromptID,
		DurationMs:    s.now().Sub(start).Milliseconds(),
		Sync:          req.Sync,
		Status:        models.TaskPending,
		CreatedAt:     start,
		UpdatedAt:     start,
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	if !result.OK() {
		otelhelper.SetError(span, ErrInvokeFailed)

		return nil, fmt.Errorf("%w: node returned %d: %s", ErrInvokeFailed, result.StatusCode, result.Body)
	}

	span.SetAttributes(attribute.String(otelhelper.PromptIDKey, result.PromptID))
	s.logger.InfoContext(ctx, "Task dispatched",
		"task_id", task.ID, "workflow_id", workflow.ID, "node", node, "prompt_id", task.PromptID, "sync", req.Sync)

	if req.Sync {
		output, err := s.poller.Await(ctx, task)
		if err != nil {
			return &SubmitResponse{TaskID: task.ID, Status: models.TaskFailed}, nil
		}

		return &SubmitResponse{TaskID: task.ID, Status: models.TaskFinished, Output: output}, nil
	}

	if err := s.publishDispatched(ctx, task); err != nil {
		// The record is already pending; the janitor will fail it if no
		// worker ever picks it up.
		s.logger.ErrorContext(ctx, "Failed to publish dispatch event", "task_id", task.ID, "error", err)
	}

	return &SubmitResponse{TaskID: task.ID, Status: models.TaskPending}, nil
}

// Result serves the polling read path. Finished tasks are re-extracted from
// the stored completion payload, with a cache in front so repeated polls of
// the same finished task skip both the database and the extraction pass.
func (s *Service) Result(ctx context.Context, tenantID int64, taskID string) (*SubmitResponse, error) {
	if output, hit, err := s.cache.Get(ctx, taskID); err == nil && hit {
		return &SubmitResponse{TaskID: taskID, Status: models.TaskFinished, Output: output}, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "Result cache read failed", "task_id", taskID, "error", err)
	}

	task, err := s.tasks.GetByID(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status != models.TaskFinished {
		return &SubmitResponse{TaskID: task.ID, Status: task.Status}, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(task.Response), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode stored completion payload: %w", err)
	}

	output, err := s.engine.ExtractOutputs(ctx, parameterize.ExtractRequest{
		TaskID:  task.ID,
		Params:  task.OutputParams,
		Mapping: task.OutputMapping,
		Payload: payload,
		Node:    task.Node,
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, task.ID, output); err != nil {
		s.logger.WarnContext(ctx, "Result cache write failed", "task_id", task.ID, "error", err)
	}

	return &SubmitResponse{TaskID: task.ID, Status: task.Status, Output: output}, nil
}

func (s *Service) validateValues(ctx context.Context, workflow *models.Workflow, values map[string]any) error {
	if workflow.SchemaKey == "" {
		return nil
	}

	schemaDoc, err := s.objects.GetText(ctx, workflow.SchemaKey)
	if err != nil {
		return fmt.Errorf("failed to load input schema %s: %w", workflow.SchemaKey, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaDoc),
		gojsonschema.NewGoLoader(values),
	)
	if err != nil {
		return fmt.Errorf("failed to evaluate input schema %s: %w", workflow.SchemaKey, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrSchemaViolation, result.Errors()[0].String())
	}

	return nil
}

func (s *Service) loadTemplate(ctx context.Context, workflow *models.Workflow) (any, error) {
	text, err := s.objects.GetText(ctx, workflow.TemplateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", workflow.TemplateKey, err)
	}

	var graph any
	if err := json.Unmarshal([]byte(text), &graph); err != nil {
		return nil, fmt.Errorf("template %s is not valid JSON: %w", workflow.TemplateKey, err)
	}

	return graph, nil
}

func (s *Service) publishDispatched(ctx context.Context, task *models.Task) error {
	if s.publisher == nil {
		return fmt.Errorf("no event publisher configured")
	}

	return s.publisher.Publish(ctx, task.ID, events.TaskDispatched{
		BaseEvent:  events.NewBaseEvent(events.TaskDispatchedEvent, task.ID),
		WorkflowID: task.WorkflowID,
		TenantID:   task.TenantID,
		Node:       task.Node,
		PromptID:   task.PromptID,
	})
}
