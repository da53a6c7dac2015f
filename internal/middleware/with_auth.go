package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Roles carried in the "role" claim of portal-issued tokens.
const (
	AuthRoleAny       = "any"
	AuthRoleAdmin     = "admin"
	AuthRoleModerator = "moderator"
	AuthRoleResident  = "resident"
)

// AuthOptions configures WithAuth.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth guards a single handler. Any role other than AuthRoleAny implies
// RequireUser; AuthRoleModerator also admits admins.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	if role == AuthRoleAny {
		if !opts.RequireUser {
			return handler
		}
		return func(c *fiber.Ctx) error {
			if UserID(c) == "" {
				return denyAnonymous(c)
			}
			return handler(c)
		}
	}

	allowed := []string{role}
	if role == AuthRoleModerator {
		allowed = append(allowed, AuthRoleAdmin)
	}
	gate := roleGate(allowed)
	return func(c *fiber.Ctx) error {
		if denied, err := gate(c); denied {
			return err
		}
		return handler(c)
	}
}
