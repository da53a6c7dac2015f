package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/civic-stream-api/internal/config"
	"github.com/noah-isme/civic-stream-api/internal/handler"
	"github.com/noah-isme/civic-stream-api/internal/middleware"
	"github.com/noah-isme/civic-stream-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	StreamHandler       *handler.StreamHandler
	StreamChatHandler   *handler.StreamChatHandler
	StreamSocketHandler *handler.StreamSocketHandler
	BusStatus           handler.BusStatusFunc
	// JWTMiddleware resolves the caller identity. Anonymous viewers must be let through.
	JWTMiddleware fiber.Handler
	// AuthMiddleware rejects anonymous callers. Defaults to JWTProtected with the configured secret.
	AuthMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.BusStatus))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	authMiddleware := deps.AuthMiddleware
	if authMiddleware == nil {
		authMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	if deps.StreamHandler != nil {
		deps.StreamHandler.Register(api.Group("/streams"), authMiddleware)
	}

	if deps.StreamChatHandler != nil || deps.StreamSocketHandler != nil {
		streamChat := api.Group("/stream-chat", jwtMiddleware)
		if deps.StreamSocketHandler != nil {
			deps.StreamSocketHandler.Register(streamChat)
		}
		if deps.StreamChatHandler != nil {
			limiter := middleware.RateLimit("stream-chat", cfg.ChatRateLimitMax, cfg.ChatRateLimitWindow)
			deps.StreamChatHandler.Register(streamChat, limiter)
		}
	}
}
