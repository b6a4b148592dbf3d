package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/avchat/roomkit/domain"
)

// ClientHandlers is the raw event surface of the external media client.
// The client must invoke all callbacks sequentially from a single event
// goroutine; the session layer relies on that for per-participant ordering.
// Nil callbacks are skipped.
type ClientHandlers struct {
	OnParticipantJoined func(p domain.Participant)
	OnParticipantLeft   func(identity domain.Identity)
	OnTrackPublished    func(pub TrackPublication)
	OnTrackUnpublished  func(identity domain.Identity, kind domain.TrackKind)
	// OnReconnecting reports that the transport lost its connection and is
	// retrying on its own. OnReconnected reports retry success.
	OnReconnecting func()
	OnReconnected  func()
	// OnClosed reports that the transport is gone for good. A nil error
	// means a locally requested shutdown.
	OnClosed func(err error)
}

// SessionClient is the capability surface of the external real-time media
// client. The session layer only ever talks to this interface, never to a
// concrete transport, so it stays testable with a fake implementation.
type SessionClient interface {
	// Connect establishes the signaling session. token carries the room
	// credential, if any. Blocks until joined or failed.
	Connect(ctx context.Context, url, token string) error
	// Disconnect tears the session down. Safe to call in any state.
	Disconnect()
	// PublishTrack publishes a local track of the given kind.
	PublishTrack(track *webrtc.TrackLocalStaticRTP, kind domain.TrackKind) (TrackPublication, error)
	// UnpublishTrack removes the local publication of the given kind.
	UnpublishTrack(kind domain.TrackKind) error
	// SetHandlers registers the raw event callbacks. Must be called before
	// Connect.
	SetHandlers(ClientHandlers)
}
