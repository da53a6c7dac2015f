package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/models"
)

// StreamCounters is the viewer accounting of a stream at a point in time.
type StreamCounters struct {
	ViewerCount     int `json:"viewer_count"`
	PeakViewerCount int `json:"peak_viewer_count"`
}

// StreamRepository persists streams and their lifecycle transitions.
type StreamRepository interface {
	Create(ctx context.Context, stream *models.Stream) error
	FindByID(ctx context.Context, id uint) (models.Stream, error)
	Transition(ctx context.Context, id uint, from []string, to string, at time.Time) (bool, error)
	Counters(ctx context.Context, id uint) (StreamCounters, error)
}

type streamRepository struct {
	db *gorm.DB
}

// NewStreamRepository constructs a stream repository backed by GORM.
func NewStreamRepository(db *gorm.DB) StreamRepository {
	return &streamRepository{db: db}
}

func (r *streamRepository) Create(ctx context.Context, stream *models.Stream) error {
	return r.db.WithContext(ctx).Create(stream).Error
}

func (r *streamRepository) FindByID(ctx context.Context, id uint) (models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&stream).Error; err != nil {
		return models.Stream{}, err
	}
	return stream, nil
}

// Transition moves the stream to status `to` only while it is in one of `from`.
// It reports whether the row changed.
func (r *streamRepository) Transition(ctx context.Context, id uint, from []string, to string, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	switch to {
	case models.StreamStatusLive:
		updates["started_at"] = at
	case models.StreamStatusEnded, models.StreamStatusCancelled:
		updates["ended_at"] = at
	}

	result := r.db.WithContext(ctx).
		Model(&models.Stream{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *streamRepository) Counters(ctx context.Context, id uint) (StreamCounters, error) {
	return readCounters(r.db.WithContext(ctx), id)
}

func readCounters(db *gorm.DB, streamID uint) (StreamCounters, error) {
	var counters StreamCounters
	result := db.Model(&models.Stream{}).
		Select("viewer_count", "peak_viewer_count").
		Where("id = ?", streamID).
		Scan(&counters)
	if result.Error != nil {
		return StreamCounters{}, result.Error
	}
	if result.RowsAffected == 0 {
		return StreamCounters{}, gorm.ErrRecordNotFound
	}
	return counters, nil
}
