// Package streamclient keeps a viewer attached to a stream: it joins over REST,
// follows the stream websocket, resyncs from snapshots after a disconnect and
// maintains local tallies of viewers, chat and reactions.
package streamclient

import (
	"errors"
	"fmt"
)

// State is a stage of the session lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateJoining      State = "joining"
	StateSubscribed   State = "subscribed"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateLeft         State = "left"
)

// ErrInvalidTransition is returned when a lifecycle step is attempted from the wrong state.
var ErrInvalidTransition = errors.New("streamclient: invalid state transition")

var transitions = map[State][]State{
	StateIdle:         {StateJoining, StateLeft},
	StateJoining:      {StateSubscribed, StateLeft},
	StateSubscribed:   {StateActive, StateReconnecting, StateLeft},
	StateActive:       {StateReconnecting, StateLeft},
	StateReconnecting: {StateActive, StateLeft},
	StateLeft:         {},
}

// CanTransition reports whether from may move to next.
func CanTransition(from, next State) bool {
	for _, allowed := range transitions[from] {
		if allowed == next {
			return true
		}
	}
	return false
}

func transitionError(from, next State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
}
