package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

func TestTopicsRoundTripStreamID(t *testing.T) {
	require.Equal(t, "stream:42", channel.StreamTopic(42))
	require.Equal(t, "stream:42:reactions", channel.ReactionsTopic(42))

	id, ok := channel.ParseTopic(channel.ReactionsTopic(42))
	require.True(t, ok)
	require.Equal(t, uint(42), id)

	id, ok = channel.ParseTopic("stream:7")
	require.True(t, ok)
	require.Equal(t, uint(7), id)

	_, ok = channel.ParseTopic("webinar:7")
	require.False(t, ok)
	_, ok = channel.ParseTopic("stream:abc")
	require.False(t, ok)
}

func TestNewEventDecode(t *testing.T) {
	event, err := channel.NewEvent(channel.EventViewerJoined, 3, channel.PresencePayload{ViewerID: "v1", ViewerCount: 2, PeakViewerCount: 5})
	require.NoError(t, err)
	require.Equal(t, uint(3), event.StreamID)
	require.False(t, event.SentAt.IsZero())

	var payload channel.PresencePayload
	require.NoError(t, event.Decode(&payload))
	require.Equal(t, 2, payload.ViewerCount)
	require.Equal(t, 5, payload.PeakViewerCount)

	empty, err := channel.NewEvent(channel.EventResyncRequired, 3, nil)
	require.NoError(t, err)
	require.Error(t, empty.Decode(&payload))
}

func TestBackoffDelayIsBounded(t *testing.T) {
	b := channel.Backoff{Base: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 3}

	for attempt := 1; attempt <= 10; attempt++ {
		delay := b.Delay(attempt)
		require.GreaterOrEqual(t, delay, 50*time.Millisecond)
		require.LessOrEqual(t, delay, time.Second)
	}

	require.LessOrEqual(t, b.Delay(1), 100*time.Millisecond)
	require.GreaterOrEqual(t, b.Delay(5), 500*time.Millisecond)
	require.False(t, b.Exhausted(3))
	require.True(t, b.Exhausted(4))
	require.False(t, channel.Backoff{}.Exhausted(1000))
}
