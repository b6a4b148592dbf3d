package core

import "errors"

var (
	// ErrConnection marks signaling endpoint failures: unreachable,
	// rejected, or dropped for good. Wrapped around the transport error.
	ErrConnection = errors.New("connection error")
	// ErrPublish marks a failed local track publish or unpublish. It is
	// returned from the specific call and never affects session state.
	ErrPublish = errors.New("publish error")

	ErrConnectInProgress = errors.New("connect already in flight")
	ErrConnectAborted    = errors.New("connect aborted by disconnect")
	ErrNotConnected      = errors.New("session not connected")
)
