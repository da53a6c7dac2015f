package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/middleware"
	"github.com/noah-isme/civic-stream-api/internal/service"
	"github.com/noah-isme/civic-stream-api/internal/utils"
)

// StreamHandler exposes the stream lifecycle to moderators.
type StreamHandler struct {
	service service.StreamService
	logger  zerolog.Logger
}

// NewStreamHandler constructs the handler.
func NewStreamHandler(service service.StreamService, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		service: service,
		logger:  logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register wires stream routes. authenticate resolves the caller on the
// lifecycle mutations; reading a stream is public.
func (h *StreamHandler) Register(router fiber.Router, authenticate fiber.Handler) {
	moderator := middleware.RequireModerator()

	router.Get("/:id", h.get)
	router.Post("", authenticate, moderator, h.create)
	router.Post("/:id/start", authenticate, moderator, h.start)
	router.Post("/:id/end", authenticate, moderator, h.end)
	router.Post("/:id/cancel", authenticate, moderator, h.cancel)
}

func (h *StreamHandler) create(c *fiber.Ctx) error {
	var req dto.StreamCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	stream, err := h.service.Create(requestContext(c), req)
	if err != nil {
		return respondServiceError(c, h.logger, err, "create stream")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "stream scheduled", stream)
}

func (h *StreamHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stream, err := h.service.Get(requestContext(c), id)
	if err != nil {
		return respondServiceError(c, h.logger, err, "load stream")
	}

	return utils.SendSuccess(c, "stream retrieved", stream)
}

func (h *StreamHandler) start(c *fiber.Ctx) error {
	return h.transition(c, "stream started", h.service.Start)
}

func (h *StreamHandler) end(c *fiber.Ctx) error {
	return h.transition(c, "stream ended", h.service.End)
}

func (h *StreamHandler) cancel(c *fiber.Ctx) error {
	return h.transition(c, "stream cancelled", h.service.Cancel)
}

func (h *StreamHandler) transition(c *fiber.Ctx, message string, apply func(ctx context.Context, id uint) (dto.StreamResponse, error)) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stream, err := apply(requestContext(c), id)
	if err != nil {
		return respondServiceError(c, h.logger, err, "update stream")
	}

	requestLogger(h.logger, c).Info().
		Uint("stream_id", id).
		Str("status", stream.Status).
		Str("actor", middleware.UserID(c)).
		Msg(message)
	return utils.SendSuccess(c, message, stream)
}
