package dto

import (
	"time"

	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// StreamCreateRequest describes the payload used to schedule a stream.
type StreamCreateRequest struct {
	Title       string     `json:"title" validate:"required,min=3,max=255"`
	Description string     `json:"description" validate:"omitempty,max=5000"`
	Category    string     `json:"category" validate:"required,oneof=meeting emergency event announcement education"`
	IsPublic    *bool      `json:"is_public"`
	PlaybackURL string     `json:"playback_url" validate:"omitempty,url,max=512"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// StreamResponse is the serialized representation of a stream.
type StreamResponse = channel.StreamInfo

// NewStreamResponse converts a stream model into its DTO.
func NewStreamResponse(stream models.Stream) StreamResponse {
	return StreamResponse{
		ID:              stream.ID,
		Title:           stream.Title,
		Description:     stream.Description,
		Category:        stream.Category,
		Status:          stream.Status,
		IsPublic:        stream.IsPublic,
		PlaybackURL:     stream.PlaybackURL,
		ViewerCount:     stream.ViewerCount,
		PeakViewerCount: stream.PeakViewerCount,
		ScheduledAt:     stream.ScheduledAt,
		StartedAt:       stream.StartedAt,
		EndedAt:         stream.EndedAt,
	}
}

// StreamSnapshotResponse is returned by the snapshot endpoint.
type StreamSnapshotResponse = channel.Snapshot
