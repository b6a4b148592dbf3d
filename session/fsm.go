// Package session implements the room session adapter: a facade that owns
// the connection lifecycle, the participant set, and the track registry,
// and projects the external client's raw events into a normalized stream.
package session

import (
	"errors"
	"fmt"

	"github.com/avchat/roomkit/core"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type trigger string

const (
	triggerConnect            trigger = "connect"
	triggerSignalingConnected trigger = "signalingConnected"
	triggerSignalingError     trigger = "signalingError"
	triggerTransportDropped   trigger = "transportDropped"
	triggerGiveUp             trigger = "giveUp"
	triggerDisconnect         trigger = "disconnect"
)

// transitions is the full lifecycle table. Anything not listed is invalid.
// disconnected never reaches connected without passing through connecting.
var transitions = map[core.ConnectionState]map[trigger]core.ConnectionState{
	core.StateDisconnected: {
		triggerConnect: core.StateConnecting,
	},
	core.StateConnecting: {
		triggerSignalingConnected: core.StateConnected,
		triggerSignalingError:     core.StateFailed,
		triggerDisconnect:         core.StateDisconnected,
	},
	core.StateConnected: {
		triggerTransportDropped: core.StateReconnecting,
		triggerDisconnect:       core.StateDisconnected,
	},
	core.StateReconnecting: {
		triggerSignalingConnected: core.StateConnected,
		triggerGiveUp:             core.StateFailed,
		triggerDisconnect:         core.StateDisconnected,
	},
	// failed is terminal unless the caller retries with a fresh connect.
	core.StateFailed: {
		triggerConnect: core.StateConnecting,
	},
}

// stateMachine tracks the lifecycle state of one adapter. Not safe for
// concurrent use; the adapter serializes access behind its mutex.
type stateMachine struct {
	state core.ConnectionState
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: core.StateDisconnected}
}

func (m *stateMachine) State() core.ConnectionState { return m.state }

func (m *stateMachine) apply(t trigger) (core.ConnectionState, error) {
	next, ok := transitions[m.state][t]
	if !ok {
		return m.state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, t, m.state)
	}
	m.state = next
	return next, nil
}
