// Package web provides the HTTP surface of the gateway: prompt submission,
// result polling and workflow administration.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/objectstore"
	"github.com/promptgate/promptgate/pkg/persistence"
)

type APIHandlers struct {
	service   *dispatch.Service
	store     persistence.Persistence
	workflows persistence.WorkflowRepository
	objects   objectstore.Store
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	service *dispatch.Service,
	store persistence.Persistence,
	objects objectstore.Store,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		service:   service,
		store:     store,
		workflows: store.WorkflowRepository(),
		objects:   objects,
		validator: validator,
		logger:    logger.With("module", "web"),
	}
}

// RegisterRoutes attaches all routes. The token middleware runs first, so
// every handler can trust the tenant in the request context.
func (h *APIHandlers) RegisterRoutes(app *fiber.App, tokens map[string]int64) {
	app.Get("/health", h.HealthCheck)

	api := app.Group("/", TokenAuth(tokens))
	api.Post("/prompt", h.SubmitPrompt)
	api.Post("/history", h.GetHistory)
	api.Get("/workflows", h.ListWorkflows)
	api.Get("/workflows/:id", h.GetWorkflow)
	api.Get("/workflows/:id/template", h.GetWorkflowTemplate)
	api.Put("/workflows/:id", h.SaveWorkflow)
	api.Delete("/workflows/:id", h.DeleteWorkflow)
}

// SubmitPrompt accepts one inference submission, sync or async.
func (h *APIHandlers) SubmitPrompt(c fiber.Ctx) error {
	var req dispatch.SubmitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.TenantID = tenantID(c)

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.service.Submit(c.Context(), req)
	if err != nil {
		return handleDispatchError(c, err)
	}

	return c.JSON(resp)
}

// HistoryRequest asks for the current state of one task.
type HistoryRequest struct {
	TaskID string `json:"task_id" validate:"required"`
}

// GetHistory reports task state, with extracted outputs once finished.
func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	var req HistoryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.service.Result(c.Context(), tenantID(c), req.TaskID)
	if err != nil {
		return handleDispatchError(c, err)
	}

	return c.JSON(resp)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.List(c.Context(), tenantID(c))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflows.GetByID(c.Context(), tenantID(c), id)
	if err != nil {
		return handleWorkflowError(c, err)
	}

	return c.JSON(workflow)
}

// GetWorkflowTemplate serves the raw job-graph template document, which the
// configuration UI renders for mapping edits.
func (h *APIHandlers) GetWorkflowTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflows.GetByID(c.Context(), tenantID(c), id)
	if err != nil {
		return handleWorkflowError(c, err)
	}

	text, err := h.objects.GetText(c.Context(), workflow.TemplateKey)
	if err != nil {
		if objectstore.IsObjectNotFound(err) {
			return notFound(c, "template_not_found", "template document not found", dispatch.CodeWorkflowNotFound)
		}

		return internalError(c, err)
	}

	var template any
	if err := json.Unmarshal([]byte(text), &template); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_id": workflow.ID,
		"template":    template,
	})
}

// SaveWorkflow upserts a workflow definition. The administrative surface is
// token-scoped like everything else, so a tenant can only write its own
// definitions.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow.ID = id
	workflow.TenantID = tenantID(c)

	if workflow.Status == "" {
		workflow.Status = models.WorkflowUnreleased
	}

	if err := h.validator.Struct(workflow); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	workflow.UpdatedAt = now

	if existing, err := h.workflows.GetByID(c.Context(), workflow.TenantID, id); err == nil {
		workflow.CreatedAt = existing.CreatedAt
	} else {
		workflow.CreatedAt = now
	}

	if err := h.workflows.Save(c.Context(), &workflow); err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflows.Delete(c.Context(), tenantID(c), id); err != nil {
		return handleWorkflowError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "PromptGate API is healthy"
	httpStatus := http.StatusOK

	err := h.store.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "PromptGate API is unhealthy"
		httpStatus = http.StatusInternalServerError

		h.logger.Error("Health check failed", "error", err)
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
