package web

import (
	"github.com/gofiber/fiber/v3"
)

const (
	// TokenHeader carries the caller's API token. Each token maps to
	// exactly one tenant.
	TokenHeader = "X-Api-Token"

	tenantLocal = "tenant_id"
)

// TokenAuth resolves the tenant from the API token header. Requests never
// carry a tenant id themselves; the token decides it.
func TokenAuth(tokens map[string]int64) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := c.Get(TokenHeader)
		if token == "" {
			return unauthorized(c)
		}

		tenantID, ok := tokens[token]
		if !ok {
			return unauthorized(c)
		}

		c.Locals(tenantLocal, tenantID)

		return c.Next()
	}
}

func tenantID(c fiber.Ctx) int64 {
	id, _ := c.Locals(tenantLocal).(int64)

	return id
}
