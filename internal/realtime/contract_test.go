package realtime

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

func TestPublishedEventsMatchChannelEventContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "channel_event.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	hub := NewHub(Options{}, zerolog.Nop())
	defer hub.Close()

	received := make(chan channel.Event, 8)
	_, err = hub.Subscribe(channel.StreamTopic(21), func(event channel.Event) { received <- event })
	require.NoError(t, err)
	_, err = hub.Subscribe(channel.ReactionsTopic(21), func(event channel.Event) { received <- event })
	require.NoError(t, err)

	presence, err := channel.NewEvent(channel.EventViewerJoined, 21, channel.PresencePayload{ViewerID: "v-1", ViewerCount: 1, PeakViewerCount: 1})
	require.NoError(t, err)
	moderated, err := channel.NewEvent(channel.EventMessageModerated, 21, channel.MessageModeratedPayload{MessageID: 4, Placeholder: "[removed]"})
	require.NoError(t, err)
	reaction, err := channel.NewEvent(channel.EventReactionAdded, 21, channel.ReactionAddedPayload{
		Reaction: channel.ReactionPayload{ID: 1, StreamID: 21, ReactionType: "like", Emoji: "👍", CreatedAt: time.Now().UTC()},
		Count:    1,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, channel.StreamTopic(21), presence))
	require.NoError(t, hub.Publish(ctx, channel.StreamTopic(21), moderated))
	require.NoError(t, hub.Publish(ctx, channel.ReactionsTopic(21), reaction))

	for i := 0; i < 3; i++ {
		select {
		case event := <-received:
			raw, err := json.Marshal(event)
			require.NoError(t, err)
			var document interface{}
			require.NoError(t, json.Unmarshal(raw, &document))
			require.NoError(t, schema.Validate(document), "event %s", event.Event)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
