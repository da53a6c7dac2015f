package channel

import "time"

// StreamInfo is the client view of a stream.
type StreamInfo struct {
	ID              uint       `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
	Status          string     `json:"status"`
	IsPublic        bool       `json:"is_public"`
	PlaybackURL     string     `json:"playback_url"`
	ViewerCount     int        `json:"viewer_count"`
	PeakViewerCount int        `json:"peak_viewer_count"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
}

// Snapshot is the full state a client applies on connect and after a resync.
type Snapshot struct {
	Stream          StreamInfo           `json:"stream"`
	ViewerCount     int                  `json:"viewer_count"`
	PeakViewerCount int                  `json:"peak_viewer_count"`
	RecentMessages  []ChatMessagePayload `json:"recent_messages"`
	ReactionCounts  map[string]int64     `json:"reaction_counts"`
	GeneratedAt     time.Time            `json:"generated_at"`
}
