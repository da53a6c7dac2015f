package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/middleware"
	"github.com/noah-isme/civic-stream-api/internal/service"
	"github.com/noah-isme/civic-stream-api/internal/utils"
)

// StreamChatHandler serves presence, chat and reactions for a stream.
type StreamChatHandler struct {
	presence  service.PresenceService
	chat      service.ChatService
	reactions service.ReactionService
	logger    zerolog.Logger
}

// NewStreamChatHandler wires the stream interaction endpoints.
func NewStreamChatHandler(presence service.PresenceService, chat service.ChatService, reactions service.ReactionService, logger zerolog.Logger) *StreamChatHandler {
	return &StreamChatHandler{
		presence:  presence,
		chat:      chat,
		reactions: reactions,
		logger:    logger.With().Str("component", "stream_chat_handler").Logger(),
	}
}

// Register binds the routes. postLimiter, when set, throttles chat posts.
func (h *StreamChatHandler) Register(router fiber.Router, postLimiter fiber.Handler) {
	router.Post("/:streamId/join", h.join)
	router.Post("/:streamId/leave", h.leave)
	router.Get("/:streamId/snapshot", h.snapshot)

	router.Get("/:streamId/messages", h.listMessages)
	post := []fiber.Handler{}
	if postLimiter != nil {
		post = append(post, postLimiter)
	}
	post = append(post, middleware.WithAuth(h.postMessage, middleware.AuthOptions{RequireUser: true}))
	router.Post("/:streamId/messages", post...)
	router.Post("/:streamId/messages/:messageId/moderate", middleware.WithAuth(h.moderate, middleware.AuthOptions{Role: middleware.AuthRoleModerator}))

	router.Post("/:streamId/reactions", h.addReaction)
	router.Get("/:streamId/reactions", h.reactionCounts)
}

func (h *StreamChatHandler) join(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.JoinStreamRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	result, err := h.presence.Join(requestContext(c), streamID, middleware.UserID(c), req)
	if err != nil {
		return respondServiceError(c, h.logger, err, "join stream")
	}

	return utils.SendSuccess(c, "joined stream", result)
}

func (h *StreamChatHandler) leave(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.LeaveStreamRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.presence.Leave(requestContext(c), streamID, req.ViewerID)
	if err != nil {
		return respondServiceError(c, h.logger, err, "leave stream")
	}

	return utils.SendSuccess(c, "left stream", result)
}

func (h *StreamChatHandler) snapshot(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	snapshot, err := h.presence.Snapshot(requestContext(c), streamID)
	if err != nil {
		return respondServiceError(c, h.logger, err, "load stream snapshot")
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return utils.SendSuccess(c, "stream snapshot", snapshot)
}

func (h *StreamChatHandler) listMessages(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	messages, err := h.chat.List(requestContext(c), streamID, limit)
	if err != nil {
		return respondServiceError(c, h.logger, err, "list chat messages")
	}

	return utils.OK(c, messages, "chat messages", fiber.Map{"count": len(messages)})
}

func (h *StreamChatHandler) postMessage(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.chat.PostMessage(requestContext(c), streamID, middleware.UserID(c), req)
	if err != nil {
		return respondServiceError(c, h.logger, err, "post chat message")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message posted", message)
}

func (h *StreamChatHandler) moderate(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.ModerateMessageRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	message, err := h.chat.Moderate(requestContext(c), streamID, messageID, middleware.UserID(c), req)
	if err != nil {
		return respondServiceError(c, h.logger, err, "moderate chat message")
	}

	return utils.SendSuccess(c, "message moderated", message)
}

func (h *StreamChatHandler) addReaction(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.AddReactionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.reactions.AddReaction(requestContext(c), streamID, middleware.UserID(c), req)
	if err != nil {
		return respondServiceError(c, h.logger, err, "add reaction")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "reaction added", result)
}

func (h *StreamChatHandler) reactionCounts(c *fiber.Ctx) error {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	counts, err := h.reactions.Counts(requestContext(c), streamID)
	if err != nil {
		return respondServiceError(c, h.logger, err, "load reaction counts")
	}

	return utils.SendSuccess(c, "reaction counts", counts)
}
