package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/repository"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// SessionCloser closes every open viewer session of a stream.
type SessionCloser interface {
	ForceCloseAll(ctx context.Context, streamID uint, endedAt time.Time) (int64, error)
}

// StreamService drives the stream lifecycle.
type StreamService interface {
	Create(ctx context.Context, req dto.StreamCreateRequest) (dto.StreamResponse, error)
	Get(ctx context.Context, id uint) (dto.StreamResponse, error)
	Start(ctx context.Context, id uint) (dto.StreamResponse, error)
	End(ctx context.Context, id uint) (dto.StreamResponse, error)
	Cancel(ctx context.Context, id uint) (dto.StreamResponse, error)
}

type streamService struct {
	repo      repository.StreamRepository
	registry  StreamRegistry
	sessions  SessionCloser
	bus       realtime.Bus
	validator *validator.Validate
	markup    *bluemonday.Policy
	now       func() time.Time
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewStreamService constructs the lifecycle service.
func NewStreamService(repo repository.StreamRepository, sessions SessionCloser, bus realtime.Bus, validate *validator.Validate, logger zerolog.Logger) StreamService {
	if validate == nil {
		validate = NewValidator()
	}

	return &streamService{
		repo:      repo,
		registry:  NewStreamRegistry(repo),
		sessions:  sessions,
		bus:       bus,
		validator: validate,
		markup:    bluemonday.UGCPolicy(),
		now:       time.Now,
		logger:    logger.With().Str("component", "stream_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/civic-stream-api/internal/service/stream"),
	}
}

func (s *streamService) Create(ctx context.Context, req dto.StreamCreateRequest) (dto.StreamResponse, error) {
	if err := validate(s.validator, req); err != nil {
		return dto.StreamResponse{}, err
	}

	stream := models.Stream{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(s.markup.Sanitize(req.Description)),
		Category:    req.Category,
		Status:      models.StreamStatusScheduled,
		IsPublic:    true,
		PlaybackURL: strings.TrimSpace(req.PlaybackURL),
		ScheduledAt: s.now().UTC(),
	}
	if req.IsPublic != nil {
		stream.IsPublic = *req.IsPublic
	}
	if req.ScheduledAt != nil {
		stream.ScheduledAt = req.ScheduledAt.UTC()
	}

	if err := s.repo.Create(ctx, &stream); err != nil {
		return dto.StreamResponse{}, fmt.Errorf("create stream: %w", err)
	}

	s.logger.Info().Uint("stream_id", stream.ID).Str("category", stream.Category).Msg("stream scheduled")
	return dto.NewStreamResponse(stream), nil
}

func (s *streamService) Get(ctx context.Context, id uint) (dto.StreamResponse, error) {
	stream, err := s.registry.Lookup(ctx, id)
	if err != nil {
		return dto.StreamResponse{}, err
	}
	return dto.NewStreamResponse(stream), nil
}

func (s *streamService) Start(ctx context.Context, id uint) (dto.StreamResponse, error) {
	return s.transition(ctx, id, models.StreamStatusLive)
}

func (s *streamService) End(ctx context.Context, id uint) (dto.StreamResponse, error) {
	return s.transition(ctx, id, models.StreamStatusEnded)
}

func (s *streamService) Cancel(ctx context.Context, id uint) (dto.StreamResponse, error) {
	return s.transition(ctx, id, models.StreamStatusCancelled)
}

func (s *streamService) transition(ctx context.Context, id uint, next string) (dto.StreamResponse, error) {
	ctx, span := s.tracer.Start(ctx, "stream.transition", trace.WithAttributes(
		attribute.Int64("stream.id", int64(id)),
		attribute.String("stream.status", next),
	))
	defer span.End()

	stream, err := s.registry.Lookup(ctx, id)
	if err != nil {
		return dto.StreamResponse{}, err
	}
	if !stream.CanTransition(next) {
		return dto.StreamResponse{}, ErrConflict
	}

	at := s.now().UTC()
	changed, err := s.repo.Transition(ctx, id, []string{stream.Status}, next, at)
	if err != nil {
		span.RecordError(err)
		return dto.StreamResponse{}, fmt.Errorf("update stream status: %w", err)
	}
	if !changed {
		return dto.StreamResponse{}, ErrConflict
	}

	payload := channel.StreamLifecyclePayload{StreamID: id, Status: next, At: at}
	eventName := channel.EventStreamStarted

	if next == models.StreamStatusEnded || next == models.StreamStatusCancelled {
		eventName = channel.EventStreamEnded
		closed, err := s.sessions.ForceCloseAll(ctx, id, at)
		if err != nil {
			return dto.StreamResponse{}, err
		}
		payload.Closed = closed
	}

	publishEvent(ctx, s.bus, s.logger, channel.StreamTopic(id), eventName, id, payload)
	s.logger.Info().Uint("stream_id", id).Str("from", stream.Status).Str("to", next).Msg("stream status changed")

	updated, err := s.registry.Lookup(ctx, id)
	if err != nil {
		return dto.StreamResponse{}, err
	}
	return dto.NewStreamResponse(updated), nil
}
