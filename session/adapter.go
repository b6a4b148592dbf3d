package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avchat/roomkit/core"
	"github.com/avchat/roomkit/domain"
)

// AdapterConfig carries everything an adapter resolves once at construction.
// The signaling URL is an explicit input here; hosts derive it up front
// (see the ident package) instead of the adapter probing ambient context.
type AdapterConfig struct {
	RoomID       domain.RoomID
	SignalingURL string
	// Password is the optional room credential, forwarded to the client
	// as the connect token.
	Password string
	Identity string
	Name     string
}

var (
	ErrNilClient  = errors.New("session client is nil")
	ErrNoURL      = errors.New("signaling url is empty")
	ErrNoRoomID   = errors.New("room id is empty")
	ErrBadKind    = errors.New("unknown track kind")
	ErrDuplicated = errors.New("track of this kind already published")
)

// Adapter owns exactly one Session at a time. All lifecycle transitions and
// registry mutations are serialized behind its mutex; consumers only ever
// get snapshots or immutable event payloads.
type Adapter struct {
	client core.SessionClient
	room   domain.Room
	url    string
	token  string
	local  domain.Participant

	mu           sync.Mutex
	fsm          *stateMachine
	epoch        uint64
	participants map[domain.Identity]domain.Participant
	registry     *TrackRegistry
	// pending holds events queued under the mutex so the listener stream
	// sees them in transition order; flush drains it outside the lock.
	pending  []core.Event
	flushing bool

	bus *listenerBus
}

func NewAdapter(cfg AdapterConfig, client core.SessionClient) (*Adapter, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg.SignalingURL == "" {
		return nil, ErrNoURL
	}
	if cfg.RoomID == "" {
		return nil, ErrNoRoomID
	}
	local, err := domain.NewLocalParticipant(cfg.Identity, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("local participant: %w", err)
	}
	a := &Adapter{
		client:       client,
		room:         domain.Room{ID: cfg.RoomID, Name: domain.RoomName(cfg.RoomID)},
		url:          cfg.SignalingURL,
		token:        cfg.Password,
		local:        *local,
		fsm:          newStateMachine(),
		participants: make(map[domain.Identity]domain.Participant),
		registry:     NewTrackRegistry(),
		bus:          newListenerBus(),
	}
	client.SetHandlers(core.ClientHandlers{
		OnParticipantJoined: a.handleParticipantJoined,
		OnParticipantLeft:   a.handleParticipantLeft,
		OnTrackPublished:    a.handleTrackPublished,
		OnTrackUnpublished:  a.handleTrackUnpublished,
		OnReconnecting:      a.handleReconnecting,
		OnReconnected:       a.handleReconnected,
		OnClosed:            a.handleClosed,
	})
	return a, nil
}

// OnEvent registers a listener for the normalized event stream and returns
// its unsubscribe function. Safe to call at any time, including from within
// a listener callback.
func (a *Adapter) OnEvent(fn Listener) func() {
	return a.bus.subscribe(fn)
}

func (a *Adapter) Room() domain.Room { return a.room }

func (a *Adapter) LocalParticipant() domain.Participant { return a.local }

func (a *Adapter) ConnectionState() core.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.State()
}

// Participants returns a snapshot of the known remote participants plus the
// local one when connected.
func (a *Adapter) Participants() []domain.Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Participant, 0, len(a.participants)+1)
	if a.fsm.State() == core.StateConnected || a.fsm.State() == core.StateReconnecting {
		out = append(out, a.local)
	}
	for _, p := range a.participants {
		out = append(out, p)
	}
	return out
}

// Tracks returns a snapshot of the participant's publications. Unknown
// participants yield an empty result.
func (a *Adapter) Tracks(id domain.Identity) []core.TrackPublication {
	return a.registry.ListTracks(id)
}

// Connect drives disconnected (or failed) through connecting and hands the
// handshake to the client. A Disconnect issued while the connect is in
// flight wins: the stale resolution is discarded and never resurrects state.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.fsm.State() == core.StateConnecting {
		a.mu.Unlock()
		return core.ErrConnectInProgress
	}
	prev := a.fsm.State()
	if _, err := a.fsm.apply(triggerConnect); err != nil {
		a.mu.Unlock()
		return err
	}
	if prev == core.StateFailed {
		// A retry after failure starts from a clean slate; failed never
		// passed through disconnected, so stale state is dropped here.
		a.participants = make(map[domain.Identity]domain.Participant)
		a.registry.Clear()
	}
	a.epoch++
	epoch := a.epoch
	a.queueLocked(stateEvent(core.StateConnecting, nil))
	a.mu.Unlock()
	a.flush()
	log.Info().Str("module", "session.adapter").Str("room", string(a.room.ID)).Str("url", a.url).Msg("connecting")

	err := a.client.Connect(ctx, a.url, a.token)

	a.mu.Lock()
	if a.epoch != epoch || a.fsm.State() != core.StateConnecting {
		a.mu.Unlock()
		if err == nil {
			// The attempt resolved after a disconnect; undo it.
			a.client.Disconnect()
		}
		log.Info().Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("stale connect resolution discarded")
		return core.ErrConnectAborted
	}
	if err != nil {
		_, _ = a.fsm.apply(triggerSignalingError)
		werr := fmt.Errorf("%w: %w", core.ErrConnection, err)
		a.queueLocked(stateEvent(core.StateFailed, werr))
		a.mu.Unlock()
		a.flush()
		log.Error().Err(err).Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("connect failed")
		return werr
	}
	_, _ = a.fsm.apply(triggerSignalingConnected)
	a.queueLocked(stateEvent(core.StateConnected, nil))
	a.mu.Unlock()
	a.flush()
	log.Info().Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("connected")
	return nil
}

// Disconnect tears the session down and releases all participant and track
// state. Idempotent; a no-op when already disconnected or failed.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if _, err := a.fsm.apply(triggerDisconnect); err != nil {
		a.mu.Unlock()
		return
	}
	a.epoch++
	a.participants = make(map[domain.Identity]domain.Participant)
	a.registry.Clear()
	a.queueLocked(stateEvent(core.StateDisconnected, nil))
	a.mu.Unlock()
	a.client.Disconnect()
	a.flush()
	log.Info().Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("disconnected")
}

// PublishTrack publishes a local track of the given kind. Only one active
// publication per kind is kept; publishing over an existing one supersedes
// it (the listener stream sees a trackRemoved/trackAdded pair). A failure
// here never affects the session lifecycle state.
func (a *Adapter) PublishTrack(track *webrtc.TrackLocalStaticRTP, kind domain.TrackKind) (core.TrackPublication, error) {
	if !kind.Valid() {
		return core.TrackPublication{}, fmt.Errorf("%w: %w: %q", core.ErrPublish, ErrBadKind, kind)
	}
	a.mu.Lock()
	if st := a.fsm.State(); st != core.StateConnected {
		a.mu.Unlock()
		return core.TrackPublication{}, fmt.Errorf("%w: %w (state %s)", core.ErrPublish, core.ErrNotConnected, st)
	}
	epoch := a.epoch
	a.mu.Unlock()

	pub, err := a.client.PublishTrack(track, kind)
	if err != nil {
		return core.TrackPublication{}, fmt.Errorf("%w: %w", core.ErrPublish, err)
	}
	pub.Participant = a.local.Identity

	a.mu.Lock()
	if a.epoch != epoch || a.fsm.State() != core.StateConnected {
		a.mu.Unlock()
		// The session ended while the publish was in flight; undo it so the
		// cleared registry stays authoritative.
		if uerr := a.client.UnpublishTrack(kind); uerr != nil {
			log.Debug().Err(uerr).Str("module", "session.adapter").Str("kind", string(kind)).Msg("undo of stale publish failed")
		}
		log.Info().Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("stale publish resolution discarded")
		return core.TrackPublication{}, fmt.Errorf("%w: %w", core.ErrPublish, core.ErrNotConnected)
	}
	old := a.registry.UpsertTrack(a.local.Identity, pub)
	if old != nil {
		a.queueLocked(core.Event{Type: core.EventTrackRemoved, Participant: a.local.Identity, Track: old})
	}
	a.queueLocked(core.Event{Type: core.EventTrackAdded, Participant: a.local.Identity, Track: &pub})
	a.mu.Unlock()
	a.flush()
	return pub, nil
}

// UnpublishTrack removes the local publication of the given kind. Removing
// a kind that is not published is a no-op. The registry entry survives a
// client failure: state only changes once the client has unpublished.
func (a *Adapter) UnpublishTrack(kind domain.TrackKind) error {
	if !a.registry.HasTrack(a.local.Identity, kind) {
		return nil
	}
	if err := a.client.UnpublishTrack(kind); err != nil {
		return fmt.Errorf("%w: %w", core.ErrPublish, err)
	}
	a.mu.Lock()
	old, ok := a.registry.RemoveTrack(a.local.Identity, kind)
	if ok {
		a.queueLocked(core.Event{Type: core.EventTrackRemoved, Participant: a.local.Identity, Track: old})
	}
	a.mu.Unlock()
	a.flush()
	return nil
}

// ---- raw event handlers -------------------------------------------------
//
// The client invokes these sequentially from its event goroutine. Each one
// mutates state and queues events under the mutex, then flushes outside it
// so listeners can re-enter the adapter.

func (a *Adapter) handleParticipantJoined(p domain.Participant) {
	a.mu.Lock()
	if a.stale() || p.Identity == a.local.Identity {
		a.mu.Unlock()
		return
	}
	a.participants[p.Identity] = p
	a.queueLocked(core.Event{Type: core.EventParticipantJoined, Participant: p.Identity})
	a.mu.Unlock()
	a.flush()
}

func (a *Adapter) handleParticipantLeft(id domain.Identity) {
	a.mu.Lock()
	if a.stale() {
		a.mu.Unlock()
		return
	}
	_, known := a.participants[id]
	delete(a.participants, id)
	removed := a.registry.RemoveParticipant(id)
	for i := range removed {
		a.queueLocked(core.Event{Type: core.EventTrackRemoved, Participant: id, Track: &removed[i]})
	}
	if known {
		a.queueLocked(core.Event{Type: core.EventParticipantLeft, Participant: id})
	}
	a.mu.Unlock()
	a.flush()
}

func (a *Adapter) handleTrackPublished(pub core.TrackPublication) {
	if !pub.Kind.Valid() {
		log.Warn().Str("module", "session.adapter").Str("kind", string(pub.Kind)).Msg("publish event with unknown kind dropped")
		return
	}
	a.mu.Lock()
	if a.stale() {
		a.mu.Unlock()
		return
	}
	old := a.registry.UpsertTrack(pub.Participant, pub)
	if old != nil {
		a.queueLocked(core.Event{Type: core.EventTrackRemoved, Participant: pub.Participant, Track: old})
	}
	a.queueLocked(core.Event{Type: core.EventTrackAdded, Participant: pub.Participant, Track: &pub})
	a.mu.Unlock()
	a.flush()
}

func (a *Adapter) handleTrackUnpublished(id domain.Identity, kind domain.TrackKind) {
	a.mu.Lock()
	if a.stale() {
		a.mu.Unlock()
		return
	}
	old, ok := a.registry.RemoveTrack(id, kind)
	if ok {
		a.queueLocked(core.Event{Type: core.EventTrackRemoved, Participant: id, Track: old})
	}
	a.mu.Unlock()
	a.flush()
}

func (a *Adapter) handleReconnecting() {
	a.mu.Lock()
	if _, err := a.fsm.apply(triggerTransportDropped); err != nil {
		a.mu.Unlock()
		return
	}
	a.queueLocked(stateEvent(core.StateReconnecting, nil))
	a.mu.Unlock()
	a.flush()
	log.Warn().Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("transport dropped, reconnecting")
}

func (a *Adapter) handleReconnected() {
	a.mu.Lock()
	if a.fsm.State() != core.StateReconnecting {
		a.mu.Unlock()
		return
	}
	_, _ = a.fsm.apply(triggerSignalingConnected)
	a.queueLocked(stateEvent(core.StateConnected, nil))
	a.mu.Unlock()
	a.flush()
	log.Info().Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("reconnected")
}

func (a *Adapter) handleClosed(err error) {
	a.mu.Lock()
	st := a.fsm.State()
	var t trigger
	switch st {
	case core.StateReconnecting:
		t = triggerGiveUp
	case core.StateConnected:
		// Final drop without a reconnect attempt from the transport.
		_, _ = a.fsm.apply(triggerTransportDropped)
		t = triggerGiveUp
	default:
		// Disconnected, failed, or mid-connect: Connect handles its own
		// resolution, the rest is stale noise.
		a.mu.Unlock()
		return
	}
	_, _ = a.fsm.apply(t)
	werr := err
	if werr != nil {
		werr = fmt.Errorf("%w: %w", core.ErrConnection, err)
	}
	a.queueLocked(stateEvent(core.StateFailed, werr))
	a.mu.Unlock()
	a.flush()
	log.Error().Err(err).Str("module", "session.adapter").Str("room", string(a.room.ID)).Msg("transport closed, session failed")
}

// stale reports whether raw events should be dropped because no session is
// live; a late event after a full disconnect must not repopulate state.
func (a *Adapter) stale() bool {
	st := a.fsm.State()
	return st == core.StateDisconnected || st == core.StateFailed
}

func stateEvent(st core.ConnectionState, err error) core.Event {
	return core.Event{Type: core.EventConnectionStateChanged, State: st, Err: err}
}

// queueLocked appends to the pending event queue. Callers hold a.mu, so the
// queue order matches the transition order even across goroutines.
func (a *Adapter) queueLocked(evs ...core.Event) {
	a.pending = append(a.pending, evs...)
}

// flush drains the pending queue outside the mutex. Exactly one drainer runs
// at a time; a re-entrant or concurrent flush just leaves its events behind
// for the active one, which preserves ordering.
func (a *Adapter) flush() {
	a.mu.Lock()
	if a.flushing {
		a.mu.Unlock()
		return
	}
	a.flushing = true
	for {
		if len(a.pending) == 0 {
			a.flushing = false
			a.mu.Unlock()
			return
		}
		ev := a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()
		a.bus.emit(ev)
		a.mu.Lock()
	}
}
