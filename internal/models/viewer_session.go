package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ViewerSession records one client's presence on a stream from join to leave.
type ViewerSession struct {
	ID                   string            `gorm:"primaryKey;size:36" json:"id"`
	StreamID             uint              `gorm:"not null;index:idx_viewer_sessions_open,priority:1" json:"stream_id"`
	UserID               string            `gorm:"size:64;index" json:"user_id,omitempty"`
	SessionID            string            `gorm:"size:128;index" json:"session_id"`
	DeviceType           string            `gorm:"size:32" json:"device_type"`
	Browser              string            `gorm:"size:64" json:"browser"`
	Metadata             datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	JoinedAt             time.Time         `gorm:"not null" json:"joined_at"`
	LeftAt               *time.Time        `gorm:"index:idx_viewer_sessions_open,priority:2" json:"left_at"`
	WatchDurationSeconds int64             `gorm:"not null;default:0" json:"watch_duration_seconds"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// BeforeCreate assigns a viewer id when the caller did not.
func (v *ViewerSession) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// IsOpen reports whether the session has not been closed yet.
func (v ViewerSession) IsOpen() bool {
	return v.LeftAt == nil
}

// WatchDuration returns the whole seconds between joinedAt and leftAt, never negative.
func WatchDuration(joinedAt, leftAt time.Time) int64 {
	seconds := int64(leftAt.Sub(joinedAt) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}
