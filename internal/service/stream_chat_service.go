package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/observability"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/repository"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// ChatService validates, stores and fans out live chat, and lets moderators
// redact messages.
type ChatService interface {
	PostMessage(ctx context.Context, streamID uint, userID string, req dto.PostMessageRequest) (dto.ChatMessageResponse, error)
	Moderate(ctx context.Context, streamID, messageID uint, moderatorID string, req dto.ModerateMessageRequest) (dto.ChatMessageResponse, error)
	List(ctx context.Context, streamID uint, limit int) ([]dto.ChatMessageResponse, error)
}

type chatService struct {
	registry     StreamRegistry
	repo         repository.ChatRepository
	bus          realtime.Bus
	validator    *validator.Validate
	historyLimit int
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// NewChatService creates the stream chat service.
func NewChatService(registry StreamRegistry, repo repository.ChatRepository, bus realtime.Bus, validate *validator.Validate, historyLimit int, logger zerolog.Logger) ChatService {
	if validate == nil {
		validate = NewValidator()
	}
	if historyLimit <= 0 || historyLimit > 100 {
		historyLimit = 50
	}

	return &chatService{
		registry:     registry,
		repo:         repo,
		bus:          bus,
		validator:    validate,
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "chat_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/civic-stream-api/internal/service/chat"),
	}
}

func (s *chatService) PostMessage(ctx context.Context, streamID uint, userID string, req dto.PostMessageRequest) (dto.ChatMessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chat.post", trace.WithAttributes(attribute.Int64("stream.id", int64(streamID))))
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return dto.ChatMessageResponse{}, ErrUnauthenticated
	}

	if err := validate(s.validator, req); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	content, err := checkMessage(req.Message)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	messageType := strings.TrimSpace(req.MessageType)
	if messageType == "" {
		messageType = models.ChatMessageTypeText
	}
	if !models.IsValidChatMessageType(messageType) {
		return dto.ChatMessageResponse{}, invalid("message_type", "oneof", "invalid message type")
	}

	stream, err := s.registry.Lookup(ctx, streamID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if !stream.IsLive() {
		return dto.ChatMessageResponse{}, ErrChatUnavailable
	}

	message := models.ChatMessage{
		StreamID:    streamID,
		UserID:      userID,
		Message:     content,
		MessageType: messageType,
		ClientRef:   strings.TrimSpace(req.ClientRef),
	}
	if err := s.repo.Save(ctx, &message); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("save chat message: %w", err)
	}

	observability.ChatMessages().WithLabelValues(messageType).Inc()

	response := dto.NewChatMessageResponse(message)
	publishEvent(ctx, s.bus, s.logger, channel.StreamTopic(streamID), channel.EventChatMessage, streamID, response)

	return response, nil
}

// checkMessage validates a chat line as sent. Chat is plain text and is
// stored byte for byte; clients render it as text, never as markup.
func checkMessage(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", invalid("message", "required", "message is required")
	}
	if !utf8.ValidString(raw) {
		return "", invalid("message", "utf8", "message must be valid UTF-8")
	}
	if utf8.RuneCountInString(raw) > models.ChatMessageMaxLength {
		return "", invalid("message", fmt.Sprintf("max=%d", models.ChatMessageMaxLength), "message is too long")
	}
	return raw, nil
}

func (s *chatService) Moderate(ctx context.Context, streamID, messageID uint, moderatorID string, req dto.ModerateMessageRequest) (dto.ChatMessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chat.moderate", trace.WithAttributes(
		attribute.Int64("stream.id", int64(streamID)),
		attribute.Int64("message.id", int64(messageID)),
	))
	defer span.End()

	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" {
		return dto.ChatMessageResponse{}, ErrUnauthenticated
	}
	if err := validate(s.validator, req); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	existing, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ChatMessageResponse{}, ErrNotFound
		}
		return dto.ChatMessageResponse{}, fmt.Errorf("load chat message: %w", err)
	}
	if existing.StreamID != streamID {
		return dto.ChatMessageResponse{}, ErrNotFound
	}

	outcome, err := s.repo.Moderate(ctx, messageID, moderatorID, strings.TrimSpace(req.Reason))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ChatMessageResponse{}, ErrNotFound
		}
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("moderate chat message: %w", err)
	}

	if outcome.Changed {
		observability.ChatModerated().Inc()
		publishEvent(ctx, s.bus, s.logger, channel.StreamTopic(streamID), channel.EventMessageModerated, streamID, channel.MessageModeratedPayload{
			MessageID:   messageID,
			Placeholder: models.ModeratedPlaceholder,
		})
		s.logger.Info().
			Uint("stream_id", streamID).
			Uint("message_id", messageID).
			Str("moderator_id", moderatorID).
			Msg("chat message moderated")
	}

	return dto.NewChatMessageResponse(outcome.Message), nil
}

func (s *chatService) List(ctx context.Context, streamID uint, limit int) ([]dto.ChatMessageResponse, error) {
	if _, err := s.registry.Lookup(ctx, streamID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > 100 {
		limit = 100
	}

	messages, err := s.repo.ListRecent(ctx, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return dto.NewChatMessageResponseSlice(messages), nil
}
