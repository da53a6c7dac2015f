// Package channel defines the wire contract shared by the realtime server and
// stream clients: channel event envelopes, topic names and payload shapes.
package channel

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried on stream topics.
const (
	EventViewerJoined     = "viewer_joined"
	EventViewerLeft       = "viewer_left"
	EventChatMessage      = "chat_message"
	EventMessageModerated = "message_moderated"
	EventReactionAdded    = "reaction_added"
	EventStreamStarted    = "stream_started"
	EventStreamEnded      = "stream_ended"

	// EventResyncRequired is emitted locally when the bus recovered from a
	// transport outage; subscribers must refetch state instead of expecting replay.
	EventResyncRequired = "resync_required"
)

// Event is the unit of fan-out. Sequence increases per Origin so subscribers can
// reason about per-publisher ordering.
type Event struct {
	Event    string          `json:"event"`
	StreamID uint            `json:"stream_id"`
	Origin   string          `json:"origin,omitempty"`
	Sequence uint64          `json:"sequence,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with payload serialised as JSON.
func NewEvent(name string, streamID uint, payload interface{}) (Event, error) {
	event := Event{
		Event:    name,
		StreamID: streamID,
		SentAt:   time.Now().UTC(),
	}
	if payload == nil {
		return event, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	event.Payload = raw
	return event, nil
}

// Decode unmarshals the payload into target.
func (e Event) Decode(target interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Event)
	}
	return json.Unmarshal(e.Payload, target)
}

// IsKnown reports whether the event name belongs to the stream protocol.
func IsKnown(name string) bool {
	switch name {
	case EventViewerJoined, EventViewerLeft, EventChatMessage, EventMessageModerated,
		EventReactionAdded, EventStreamStarted, EventStreamEnded, EventResyncRequired:
		return true
	default:
		return false
	}
}
