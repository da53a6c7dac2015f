package models

import "time"

// Stream categories.
const (
	StreamCategoryMeeting      = "meeting"
	StreamCategoryEmergency    = "emergency"
	StreamCategoryEvent        = "event"
	StreamCategoryAnnouncement = "announcement"
	StreamCategoryEducation    = "education"
)

// Stream lifecycle states.
const (
	StreamStatusScheduled = "scheduled"
	StreamStatusLive      = "live"
	StreamStatusEnded     = "ended"
	StreamStatusCancelled = "cancelled"
)

// Stream is a broadcast of a public meeting or announcement. Playback is served
// by an external media origin; only the URL is stored here.
type Stream struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	Category        string     `gorm:"size:32;not null;index" json:"category"`
	Status          string     `gorm:"size:32;not null;index;default:scheduled" json:"status"`
	IsPublic        bool       `gorm:"not null;default:true" json:"is_public"`
	PlaybackURL     string     `gorm:"size:512" json:"playback_url"`
	ViewerCount     int        `gorm:"not null;default:0" json:"viewer_count"`
	PeakViewerCount int        `gorm:"not null;default:0" json:"peak_viewer_count"`
	ScheduledAt     time.Time  `gorm:"index" json:"scheduled_at"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AcceptsViewers reports whether viewers may join the stream.
func (s Stream) AcceptsViewers() bool {
	return s.Status == StreamStatusScheduled || s.Status == StreamStatusLive
}

// IsLive reports whether chat and reactions are open.
func (s Stream) IsLive() bool {
	return s.Status == StreamStatusLive
}

// IsFinished reports whether the stream reached a terminal state.
func (s Stream) IsFinished() bool {
	return s.Status == StreamStatusEnded || s.Status == StreamStatusCancelled
}

// CanTransition reports whether moving from the current status to next is allowed.
// Transitions are monotonic: scheduled -> live -> ended, or -> cancelled from
// scheduled or live.
func (s Stream) CanTransition(next string) bool {
	switch s.Status {
	case StreamStatusScheduled:
		return next == StreamStatusLive || next == StreamStatusCancelled
	case StreamStatusLive:
		return next == StreamStatusEnded || next == StreamStatusCancelled
	default:
		return false
	}
}
