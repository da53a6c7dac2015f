package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/observability"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/repository"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// MessageLister provides the recent chat history included in snapshots.
type MessageLister interface {
	List(ctx context.Context, streamID uint, limit int) ([]dto.ChatMessageResponse, error)
}

// ReactionCounter provides the aggregated reaction counts included in snapshots.
type ReactionCounter interface {
	Counts(ctx context.Context, streamID uint) (dto.ReactionCountsResponse, error)
}

// PresenceService tracks who is watching a stream.
type PresenceService interface {
	Join(ctx context.Context, streamID uint, userID string, req dto.JoinStreamRequest) (dto.JoinStreamResponse, error)
	Leave(ctx context.Context, streamID uint, viewerID string) (dto.LeaveStreamResponse, error)
	ForceCloseAll(ctx context.Context, streamID uint, endedAt time.Time) (int64, error)
	Snapshot(ctx context.Context, streamID uint) (dto.StreamSnapshotResponse, error)
}

// PresenceDependencies groups the collaborators of the presence service.
type PresenceDependencies struct {
	Registry     StreamRegistry
	Streams      repository.StreamRepository
	Sessions     repository.ViewerSessionRepository
	Messages     MessageLister
	Reactions    ReactionCounter
	Bus          realtime.Bus
	Validator    *validator.Validate
	HistoryLimit int
	Now          func() time.Time
}

type presenceService struct {
	registry     StreamRegistry
	streams      repository.StreamRepository
	sessions     repository.ViewerSessionRepository
	messages     MessageLister
	reactions    ReactionCounter
	bus          realtime.Bus
	validator    *validator.Validate
	locks        *streamLocks
	historyLimit int
	now          func() time.Time
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// NewPresenceService constructs the presence tracker.
func NewPresenceService(deps PresenceDependencies, logger zerolog.Logger) PresenceService {
	validate := deps.Validator
	if validate == nil {
		validate = NewValidator()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	limit := deps.HistoryLimit
	if limit <= 0 {
		limit = 50
	}

	return &presenceService{
		registry:     deps.Registry,
		streams:      deps.Streams,
		sessions:     deps.Sessions,
		messages:     deps.Messages,
		reactions:    deps.Reactions,
		bus:          deps.Bus,
		validator:    validate,
		locks:        newStreamLocks(),
		historyLimit: limit,
		now:          now,
		logger:       logger.With().Str("component", "presence_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/civic-stream-api/internal/service/presence"),
	}
}

func (s *presenceService) Join(ctx context.Context, streamID uint, userID string, req dto.JoinStreamRequest) (dto.JoinStreamResponse, error) {
	ctx, span := s.tracer.Start(ctx, "presence.join", trace.WithAttributes(attribute.Int64("stream.id", int64(streamID))))
	defer span.End()

	if err := validate(s.validator, req); err != nil {
		return dto.JoinStreamResponse{}, err
	}

	stream, err := s.registry.Lookup(ctx, streamID)
	if err != nil {
		return dto.JoinStreamResponse{}, err
	}
	if !stream.AcceptsViewers() {
		return dto.JoinStreamResponse{}, ErrStreamClosed
	}

	userID = strings.TrimSpace(userID)
	sessionID := strings.TrimSpace(req.SessionID)

	unlock := s.locks.Lock(streamID)
	defer unlock()

	if sessionID != "" {
		rejoined, ok, err := s.rejoin(ctx, streamID, sessionID, userID)
		if err != nil {
			span.RecordError(err)
			return dto.JoinStreamResponse{}, err
		}
		if ok {
			return rejoined, nil
		}
	} else {
		sessionID = uuid.NewString()
	}

	session := &models.ViewerSession{
		StreamID:   streamID,
		UserID:     userID,
		SessionID:  sessionID,
		DeviceType: strings.TrimSpace(req.DeviceInfo.DeviceType),
		Browser:    strings.TrimSpace(req.DeviceInfo.Browser),
		JoinedAt:   s.now().UTC(),
	}
	if len(req.DeviceInfo.Metadata) > 0 {
		session.Metadata = datatypes.JSONMap(req.DeviceInfo.Metadata)
	}

	counters, err := s.sessions.Open(ctx, session)
	if err != nil {
		if errors.Is(err, repository.ErrStreamNotAccepting) {
			return dto.JoinStreamResponse{}, ErrStreamClosed
		}
		span.RecordError(err)
		return dto.JoinStreamResponse{}, fmt.Errorf("open viewer session: %w", err)
	}

	observability.ViewerJoins().Inc()
	observability.ViewersActive().Inc()

	publishEvent(ctx, s.bus, s.logger, channel.StreamTopic(streamID), channel.EventViewerJoined, streamID, channel.PresencePayload{
		ViewerID:        session.ID,
		ViewerCount:     counters.ViewerCount,
		PeakViewerCount: counters.PeakViewerCount,
	})

	s.logger.Debug().
		Uint("stream_id", streamID).
		Str("viewer_id", session.ID).
		Int("viewer_count", counters.ViewerCount).
		Msg("viewer joined")

	return dto.JoinStreamResponse{
		ViewerID:        session.ID,
		ViewerCount:     counters.ViewerCount,
		PeakViewerCount: counters.PeakViewerCount,
	}, nil
}

// rejoin returns the session still open under sessionID, if any. A client
// that lost the response to its join repeats it to learn its viewer id; the
// counters are reported as they stand and no event is published.
func (s *presenceService) rejoin(ctx context.Context, streamID uint, sessionID, userID string) (dto.JoinStreamResponse, bool, error) {
	existing, err := s.sessions.FindOpenBySession(ctx, streamID, sessionID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.JoinStreamResponse{}, false, nil
	}
	if err != nil {
		return dto.JoinStreamResponse{}, false, fmt.Errorf("find viewer session: %w", err)
	}

	counters, err := s.streams.Counters(ctx, streamID)
	if err != nil {
		return dto.JoinStreamResponse{}, false, fmt.Errorf("load stream counters: %w", err)
	}

	s.logger.Debug().
		Uint("stream_id", streamID).
		Str("viewer_id", existing.ID).
		Msg("viewer rejoined open session")

	return dto.JoinStreamResponse{
		ViewerID:        existing.ID,
		ViewerCount:     counters.ViewerCount,
		PeakViewerCount: counters.PeakViewerCount,
	}, true, nil
}

func (s *presenceService) Leave(ctx context.Context, streamID uint, viewerID string) (dto.LeaveStreamResponse, error) {
	ctx, span := s.tracer.Start(ctx, "presence.leave", trace.WithAttributes(attribute.Int64("stream.id", int64(streamID))))
	defer span.End()

	viewerID = strings.TrimSpace(viewerID)
	if _, err := uuid.Parse(viewerID); err != nil {
		return dto.LeaveStreamResponse{}, invalid("viewer_id", "uuid", "invalid viewer id")
	}

	unlock := s.locks.Lock(streamID)
	defer unlock()

	session, err := s.sessions.FindByID(ctx, viewerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.LeaveStreamResponse{}, ErrNotFound
		}
		return dto.LeaveStreamResponse{}, fmt.Errorf("load viewer session: %w", err)
	}
	if session.StreamID != streamID {
		return dto.LeaveStreamResponse{}, ErrNotFound
	}

	outcome, err := s.sessions.Close(ctx, viewerID, s.now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.LeaveStreamResponse{}, ErrNotFound
		}
		span.RecordError(err)
		return dto.LeaveStreamResponse{}, fmt.Errorf("close viewer session: %w", err)
	}

	response := dto.LeaveStreamResponse{
		ViewerID:             viewerID,
		Closed:               outcome.Closed,
		WatchDurationSeconds: outcome.Session.WatchDurationSeconds,
	}

	if !outcome.Closed {
		counters, err := s.streams.Counters(ctx, streamID)
		if err == nil {
			response.ViewerCount = counters.ViewerCount
			response.PeakViewerCount = counters.PeakViewerCount
		}
		return response, nil
	}

	response.ViewerCount = outcome.Counters.ViewerCount
	response.PeakViewerCount = outcome.Counters.PeakViewerCount

	observability.ViewerLeaves().WithLabelValues("leave").Inc()
	observability.ViewersActive().Dec()

	publishEvent(ctx, s.bus, s.logger, channel.StreamTopic(streamID), channel.EventViewerLeft, streamID, channel.PresencePayload{
		ViewerID:        viewerID,
		ViewerCount:     outcome.Counters.ViewerCount,
		PeakViewerCount: outcome.Counters.PeakViewerCount,
	})

	return response, nil
}

func (s *presenceService) ForceCloseAll(ctx context.Context, streamID uint, endedAt time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "presence.force_close_all", trace.WithAttributes(attribute.Int64("stream.id", int64(streamID))))
	defer span.End()

	unlock := s.locks.Lock(streamID)
	defer unlock()

	closed, err := s.sessions.CloseAllOpen(ctx, streamID, endedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("close open sessions: %w", err)
	}

	if closed > 0 {
		observability.ViewerLeaves().WithLabelValues("forced").Add(float64(closed))
		observability.ViewersActive().Sub(float64(closed))
	}

	s.logger.Info().Uint("stream_id", streamID).Int64("closed", closed).Msg("closed open viewer sessions")
	return closed, nil
}

func (s *presenceService) Snapshot(ctx context.Context, streamID uint) (dto.StreamSnapshotResponse, error) {
	ctx, span := s.tracer.Start(ctx, "presence.snapshot", trace.WithAttributes(attribute.Int64("stream.id", int64(streamID))))
	defer span.End()

	stream, err := s.registry.Lookup(ctx, streamID)
	if err != nil {
		return dto.StreamSnapshotResponse{}, err
	}

	snapshot := dto.StreamSnapshotResponse{
		Stream:          dto.NewStreamResponse(stream),
		ViewerCount:     stream.ViewerCount,
		PeakViewerCount: stream.PeakViewerCount,
		RecentMessages:  []dto.ChatMessageResponse{},
		ReactionCounts:  map[string]int64{},
		GeneratedAt:     s.now().UTC(),
	}

	if s.messages != nil {
		messages, err := s.messages.List(ctx, streamID, s.historyLimit)
		if err != nil {
			return dto.StreamSnapshotResponse{}, err
		}
		snapshot.RecentMessages = messages
	}

	if s.reactions != nil {
		counts, err := s.reactions.Counts(ctx, streamID)
		if err != nil {
			return dto.StreamSnapshotResponse{}, err
		}
		snapshot.ReactionCounts = counts.Counts
	}

	return snapshot, nil
}
