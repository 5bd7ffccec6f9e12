package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/persistence"
)

// apiProblem is an RFC 7807 problem extended with the gateway's numeric
// business code, which callers route on.
type apiProblem struct {
	*problems.Problem

	Code int `json:"code,omitempty"`
}

func newProblem(c fiber.Ctx, status int, problemType, detail string, code int) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(apiProblem{Problem: problem, Code: code})
}

func badRequest(c fiber.Ctx, detail string) error {
	return newProblem(c, fiber.StatusBadRequest, "validation_error", detail, dispatch.CodeParamError)
}

func notFound(c fiber.Ctx, problemType, detail string, code int) error {
	return newProblem(c, fiber.StatusNotFound, problemType, detail, code)
}

func unauthorized(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail("missing or unknown API token")

	return c.Status(fiber.StatusUnauthorized).JSON(apiProblem{Problem: problem})
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(apiProblem{
		Problem: problem,
		Code:           dispatch.CodeOf(err),
	})
}

// handleDispatchError translates dispatch-path failures into problem
// responses carrying the numeric taxonomy.
func handleDispatchError(c fiber.Ctx, err error) error {
	code := dispatch.CodeOf(err)

	switch code {
	case dispatch.CodeWorkflowNotFound:
		return notFound(c, "workflow_not_found", "workflow not found", code)

	case dispatch.CodeTaskNotFound:
		return notFound(c, "task_not_found", "task not found", code)

	case dispatch.CodeTaskExists:
		return newProblem(c, fiber.StatusConflict, "task_exists", err.Error(), code)

	case dispatch.CodeParamError:
		return newProblem(c, fiber.StatusBadRequest, "param_error", err.Error(), code)

	case dispatch.CodeInvokeFailed, dispatch.CodeResultWait, dispatch.CodeImageTransfer:
		return newProblem(c, fiber.StatusBadGateway, "node_error", err.Error(), code)

	default:
		return newProblem(c, fiber.StatusInternalServerError, "internal_error", err.Error(), code)
	}
}

func handleWorkflowError(c fiber.Ctx, err error) error {
	if persistence.IsWorkflowNotFound(err) {
		return notFound(c, "workflow_not_found", "workflow not found", dispatch.CodeWorkflowNotFound)
	}

	return internalError(c, err)
}
