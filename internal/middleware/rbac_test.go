package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func roleApp(userID, role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Use(RequireModerator())
	app.Post("/streams/1/end", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func endStream(t *testing.T, app *fiber.App) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/streams/1/end", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRequireRoleAllowsAuthorizedRoles(t *testing.T) {
	require.Equal(t, fiber.StatusOK, endStream(t, roleApp("mod-1", "Moderator")))
	require.Equal(t, fiber.StatusOK, endStream(t, roleApp("clerk-1", "admin")))
}

func TestRequireRoleRejectsUnauthorizedRoles(t *testing.T) {
	require.Equal(t, fiber.StatusForbidden, endStream(t, roleApp("resident-1", "resident")))
}

func TestRequireRoleRejectsAnonymous(t *testing.T) {
	require.Equal(t, fiber.StatusUnauthorized, endStream(t, roleApp("", "moderator")))
}
