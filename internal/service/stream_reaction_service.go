package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/observability"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/repository"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// ReactionService records reactions and maintains their rolling counts.
type ReactionService interface {
	AddReaction(ctx context.Context, streamID uint, userID string, req dto.AddReactionRequest) (dto.ReactionResponse, error)
	Counts(ctx context.Context, streamID uint) (dto.ReactionCountsResponse, error)
}

// ReactionOptions configures the reaction service stores and throttle window.
type ReactionOptions struct {
	Throttle       ReactionThrottle
	Counters       ReactionCounterStore
	ThrottleWindow time.Duration
}

type reactionService struct {
	registry  StreamRegistry
	repo      repository.ReactionRepository
	bus       realtime.Bus
	validator *validator.Validate
	throttle  ReactionThrottle
	counters  ReactionCounterStore
	window    time.Duration
	seedMu    sync.Mutex
	seeded    map[uint]struct{}
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewReactionService constructs the reaction aggregator. Missing stores fall
// back to in-memory implementations.
func NewReactionService(registry StreamRegistry, repo repository.ReactionRepository, bus realtime.Bus, validate *validator.Validate, opts ReactionOptions, logger zerolog.Logger) ReactionService {
	if validate == nil {
		validate = NewValidator()
	}
	if opts.Throttle == nil {
		opts.Throttle = NewMemoryReactionThrottle(nil)
	}
	if opts.Counters == nil {
		opts.Counters = NewMemoryReactionCounters()
	}

	return &reactionService{
		registry:  registry,
		repo:      repo,
		bus:       bus,
		validator: validate,
		throttle:  opts.Throttle,
		counters:  opts.Counters,
		window:    opts.ThrottleWindow,
		seeded:    make(map[uint]struct{}),
		logger:    logger.With().Str("component", "reaction_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/civic-stream-api/internal/service/reaction"),
	}
}

func (s *reactionService) AddReaction(ctx context.Context, streamID uint, userID string, req dto.AddReactionRequest) (dto.ReactionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reaction.add", trace.WithAttributes(attribute.Int64("stream.id", int64(streamID))))
	defer span.End()

	if err := validate(s.validator, req); err != nil {
		return dto.ReactionResponse{}, err
	}

	userID = strings.TrimSpace(userID)
	actor := userID
	if actor == "" {
		actor = strings.TrimSpace(req.SessionID)
	}
	if actor == "" {
		return dto.ReactionResponse{}, invalid("session_id", "required", "session id is required for anonymous reactions")
	}

	stream, err := s.registry.Lookup(ctx, streamID)
	if err != nil {
		return dto.ReactionResponse{}, err
	}
	if !stream.IsLive() {
		return dto.ReactionResponse{}, ErrReactionsUnavailable
	}

	allowed, err := s.throttle.Allow(ctx, reactionThrottleKey(streamID, actor, req.ReactionType), s.window)
	if err != nil {
		s.logger.Warn().Err(err).Uint("stream_id", streamID).Msg("reaction throttle unavailable, allowing")
		allowed = true
	}
	if !allowed {
		observability.ReactionsThrottled().Inc()
		return dto.ReactionResponse{}, ErrThrottled
	}

	// Seed before persisting so the stored counts never include this reaction.
	if err := s.ensureSeeded(ctx, streamID); err != nil {
		return dto.ReactionResponse{}, err
	}

	emoji := strings.TrimSpace(req.ReactionEmoji)
	if emoji == "" {
		emoji = models.DefaultReactionEmoji(req.ReactionType)
	}

	reaction := models.Reaction{
		StreamID:          streamID,
		UserID:            userID,
		ReactionType:      req.ReactionType,
		Emoji:             emoji,
		StreamTimeSeconds: req.StreamTimeSeconds,
	}
	if err := s.repo.Create(ctx, &reaction); err != nil {
		span.RecordError(err)
		return dto.ReactionResponse{}, fmt.Errorf("save reaction: %w", err)
	}

	count, err := s.counters.Increment(ctx, streamID, reaction.ReactionType)
	if err != nil {
		return dto.ReactionResponse{}, fmt.Errorf("increment reaction counter: %w", err)
	}

	observability.Reactions().WithLabelValues(reaction.ReactionType).Inc()

	response := dto.ReactionResponse{
		Reaction: dto.NewReactionPayload(reaction),
		Count:    count,
	}
	publishEvent(ctx, s.bus, s.logger, channel.ReactionsTopic(streamID), channel.EventReactionAdded, streamID, response)

	return response, nil
}

func (s *reactionService) Counts(ctx context.Context, streamID uint) (dto.ReactionCountsResponse, error) {
	if _, err := s.registry.Lookup(ctx, streamID); err != nil {
		return dto.ReactionCountsResponse{}, err
	}
	if err := s.ensureSeeded(ctx, streamID); err != nil {
		return dto.ReactionCountsResponse{}, err
	}

	stored, err := s.counters.Counts(ctx, streamID)
	if err != nil {
		return dto.ReactionCountsResponse{}, fmt.Errorf("read reaction counters: %w", err)
	}

	response := dto.ReactionCountsResponse{
		StreamID: streamID,
		Counts:   make(map[string]int64, len(models.ReactionTypes)),
	}
	for _, reactionType := range models.ReactionTypes {
		response.Counts[reactionType] = stored[reactionType]
		response.Total += stored[reactionType]
	}
	return response, nil
}

func (s *reactionService) ensureSeeded(ctx context.Context, streamID uint) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	if _, ok := s.seeded[streamID]; ok {
		return nil
	}

	seeded, err := s.counters.Seeded(ctx, streamID)
	if err != nil {
		return fmt.Errorf("check reaction counters: %w", err)
	}
	if !seeded {
		counts, err := s.repo.CountByType(ctx, streamID)
		if err != nil {
			return fmt.Errorf("count persisted reactions: %w", err)
		}
		if err := s.counters.Seed(ctx, streamID, counts); err != nil {
			return fmt.Errorf("seed reaction counters: %w", err)
		}
	}

	s.seeded[streamID] = struct{}{}
	return nil
}
