package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/models"
)

// ErrStreamNotAccepting is returned when a session is opened on a stream that
// left the scheduled/live states while the join was in flight.
var ErrStreamNotAccepting = errors.New("stream is not accepting viewers")

// SessionClose describes the outcome of closing a viewer session.
type SessionClose struct {
	Session  models.ViewerSession
	Closed   bool
	Counters StreamCounters
}

// ViewerSessionRepository owns viewer sessions and the viewer counters they drive.
// Counter updates are single SQL expressions evaluated against the current row,
// so concurrent joins never lose an increment and decrements floor at zero.
type ViewerSessionRepository interface {
	Open(ctx context.Context, session *models.ViewerSession) (StreamCounters, error)
	Close(ctx context.Context, viewerID string, leftAt time.Time) (SessionClose, error)
	CloseAllOpen(ctx context.Context, streamID uint, leftAt time.Time) (int64, error)
	FindByID(ctx context.Context, viewerID string) (models.ViewerSession, error)
	FindOpenBySession(ctx context.Context, streamID uint, sessionID, userID string) (models.ViewerSession, error)
	CountOpen(ctx context.Context, streamID uint) (int64, error)
}

type viewerSessionRepository struct {
	db *gorm.DB
}

// NewViewerSessionRepository constructs a viewer session repository backed by GORM.
func NewViewerSessionRepository(db *gorm.DB) ViewerSessionRepository {
	return &viewerSessionRepository{db: db}
}

var acceptingStatuses = []string{models.StreamStatusScheduled, models.StreamStatusLive}

func (r *viewerSessionRepository) Open(ctx context.Context, session *models.ViewerSession) (StreamCounters, error) {
	var counters StreamCounters
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Stream{}).
			Where("id = ? AND status IN ?", session.StreamID, acceptingStatuses).
			Updates(map[string]interface{}{
				"viewer_count":      gorm.Expr("viewer_count + 1"),
				"peak_viewer_count": gorm.Expr("CASE WHEN viewer_count + 1 > peak_viewer_count THEN viewer_count + 1 ELSE peak_viewer_count END"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStreamNotAccepting
		}

		if err := tx.Create(session).Error; err != nil {
			return err
		}

		var err error
		counters, err = readCounters(tx, session.StreamID)
		return err
	})
	if err != nil {
		return StreamCounters{}, err
	}
	return counters, nil
}

func (r *viewerSessionRepository) Close(ctx context.Context, viewerID string, leftAt time.Time) (SessionClose, error) {
	var outcome SessionClose
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ViewerSession
		if err := tx.Where("id = ?", viewerID).Take(&session).Error; err != nil {
			return err
		}
		outcome.Session = session
		if !session.IsOpen() {
			return nil
		}

		duration := models.WatchDuration(session.JoinedAt, leftAt)
		result := tx.Model(&models.ViewerSession{}).
			Where("id = ? AND left_at IS NULL", viewerID).
			Updates(map[string]interface{}{
				"left_at":                leftAt,
				"watch_duration_seconds": duration,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.Stream{}).
			Where("id = ?", session.StreamID).
			Update("viewer_count", gorm.Expr("CASE WHEN viewer_count > 0 THEN viewer_count - 1 ELSE 0 END")).Error; err != nil {
			return err
		}

		counters, err := readCounters(tx, session.StreamID)
		if err != nil {
			return err
		}

		outcome.Closed = true
		outcome.Counters = counters
		outcome.Session.LeftAt = &leftAt
		outcome.Session.WatchDurationSeconds = duration
		return nil
	})
	if err != nil {
		return SessionClose{}, err
	}
	return outcome, nil
}

func (r *viewerSessionRepository) CloseAllOpen(ctx context.Context, streamID uint, leftAt time.Time) (int64, error) {
	var closed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open []models.ViewerSession
		if err := tx.Where("stream_id = ? AND left_at IS NULL", streamID).Find(&open).Error; err != nil {
			return err
		}

		for _, session := range open {
			result := tx.Model(&models.ViewerSession{}).
				Where("id = ? AND left_at IS NULL", session.ID).
				Updates(map[string]interface{}{
					"left_at":                leftAt,
					"watch_duration_seconds": models.WatchDuration(session.JoinedAt, leftAt),
				})
			if result.Error != nil {
				return result.Error
			}
			closed += result.RowsAffected
		}

		return tx.Model(&models.Stream{}).Where("id = ?", streamID).Update("viewer_count", 0).Error
	})
	if err != nil {
		return 0, err
	}
	return closed, nil
}

func (r *viewerSessionRepository) FindByID(ctx context.Context, viewerID string) (models.ViewerSession, error) {
	var session models.ViewerSession
	if err := r.db.WithContext(ctx).Where("id = ?", viewerID).Take(&session).Error; err != nil {
		return models.ViewerSession{}, err
	}
	return session, nil
}

// FindOpenBySession returns the open session a client already holds on the
// stream under sessionID. The user must match so a guessed session id cannot
// take over someone else's session.
func (r *viewerSessionRepository) FindOpenBySession(ctx context.Context, streamID uint, sessionID, userID string) (models.ViewerSession, error) {
	var session models.ViewerSession
	err := r.db.WithContext(ctx).
		Where("stream_id = ? AND session_id = ? AND user_id = ? AND left_at IS NULL", streamID, sessionID, userID).
		Order("joined_at DESC").
		Take(&session).Error
	if err != nil {
		return models.ViewerSession{}, err
	}
	return session, nil
}

func (r *viewerSessionRepository) CountOpen(ctx context.Context, streamID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ViewerSession{}).
		Where("stream_id = ? AND left_at IS NULL", streamID).
		Count(&count).Error
	return count, err
}
