package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/civic-stream-api/internal/utils"
)

// RequireRole admits signed-in callers holding one of roles. Anonymous
// callers get 401, signed-in callers without the role get 403.
func RequireRole(roles ...string) fiber.Handler {
	gate := roleGate(roles)
	return func(c *fiber.Ctx) error {
		if denied, err := gate(c); denied {
			return err
		}
		return c.Next()
	}
}

// RequireModerator admits moderators and admins; it guards stream lifecycle
// changes and chat moderation.
func RequireModerator() fiber.Handler {
	return RequireRole(AuthRoleModerator, AuthRoleAdmin)
}

// roleGate reports whether the request was rejected; err is the already
// written error response.
func roleGate(roles []string) func(c *fiber.Ctx) (bool, error) {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) (bool, error) {
		if UserID(c) == "" {
			return true, denyAnonymous(c)
		}
		if _, ok := allowed[UserRole(c)]; !ok {
			return true, utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return false, nil
	}
}

func denyAnonymous(c *fiber.Ctx) error {
	return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
