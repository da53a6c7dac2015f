package streamclient_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civic-stream-api/pkg/streamclient"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]streamclient.State{
		{streamclient.StateIdle, streamclient.StateJoining},
		{streamclient.StateJoining, streamclient.StateSubscribed},
		{streamclient.StateSubscribed, streamclient.StateActive},
		{streamclient.StateActive, streamclient.StateReconnecting},
		{streamclient.StateReconnecting, streamclient.StateActive},
		{streamclient.StateJoining, streamclient.StateLeft},
		{streamclient.StateActive, streamclient.StateLeft},
	}
	for _, pair := range allowed {
		require.True(t, streamclient.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	rejected := [][2]streamclient.State{
		{streamclient.StateIdle, streamclient.StateActive},
		{streamclient.StateJoining, streamclient.StateActive},
		{streamclient.StateReconnecting, streamclient.StateSubscribed},
		{streamclient.StateLeft, streamclient.StateJoining},
		{streamclient.StateLeft, streamclient.StateLeft},
	}
	for _, pair := range rejected {
		require.False(t, streamclient.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}
