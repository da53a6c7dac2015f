package models

import "time"

// Reaction types.
const (
	ReactionLike  = "like"
	ReactionLove  = "love"
	ReactionClap  = "clap"
	ReactionLaugh = "laugh"
	ReactionWow   = "wow"
	ReactionSad   = "sad"
)

// ReactionTypes lists every accepted reaction type in display order.
var ReactionTypes = []string{ReactionLike, ReactionLove, ReactionClap, ReactionLaugh, ReactionWow, ReactionSad}

var reactionEmoji = map[string]string{
	ReactionLike:  "👍",
	ReactionLove:  "❤️",
	ReactionClap:  "👏",
	ReactionLaugh: "😂",
	ReactionWow:   "😮",
	ReactionSad:   "😢",
}

// Reaction is a write-once engagement signal on a live stream.
type Reaction struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	StreamID          uint      `gorm:"not null;index:idx_reactions_stream_type,priority:1" json:"stream_id"`
	UserID            string    `gorm:"size:64;index" json:"user_id,omitempty"`
	ReactionType      string    `gorm:"size:16;not null;index:idx_reactions_stream_type,priority:2" json:"reaction_type"`
	Emoji             string    `gorm:"size:16" json:"reaction_emoji"`
	StreamTimeSeconds *int      `json:"stream_time_seconds,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsValidReactionType reports whether value is a known reaction type.
func IsValidReactionType(value string) bool {
	_, ok := reactionEmoji[value]
	return ok
}

// DefaultReactionEmoji returns the glyph rendered for a reaction type.
func DefaultReactionEmoji(reactionType string) string {
	return reactionEmoji[reactionType]
}
