// Package adapters provides the default core.SessionClient binding built
// from the websocket signaling client and the pion media connection.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avchat/roomkit/adapters/rtc"
	"github.com/avchat/roomkit/adapters/signalws"
	"github.com/avchat/roomkit/core"
	"github.com/avchat/roomkit/domain"
)

var (
	ErrAlreadyConnected = errors.New("client already connected")
	ErrJoinRejected     = errors.New("join rejected")
	ErrJoinRateLimited  = errors.New("join rate limited")
	ErrNoSignal         = errors.New("no signaling connection")
	ErrAnswerTimeout    = errors.New("timed out waiting for answer")
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReconnectAttempts = 3
	defaultReconnectInterval = 2 * time.Second
	joinRateLimit            = 5
	joinRateWindow           = time.Minute
)

// ClientConfig tunes the default transport binding.
type ClientConfig struct {
	RoomID   domain.RoomID
	Identity domain.Identity
	Name     string

	// WebRTC overrides the peer connection configuration; zero value uses
	// rtc.DefaultWebRTCConfig.
	WebRTC *webrtc.Configuration

	ReadLimit         int64
	PingPeriod        time.Duration
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectInterval time.Duration
}

// Client implements core.SessionClient over a JSON websocket signaling
// channel and a lazily established pion media connection. Media comes up on
// the first publish or the first endpoint-initiated offer, so signaling-only
// sessions stay cheap.
type Client struct {
	cfg      ClientConfig
	handlers core.ClientHandlers
	limiter  *signalws.RateLimiter

	mu      sync.Mutex
	sig     *signalws.Conn
	media   core.MediaConnection
	senders map[domain.TrackKind]*webrtc.RTPSender
	// pending maps announced remote track IDs to their publish metadata so
	// the media handle can be attached when the pion track arrives.
	pending  map[string]core.TrackPublication
	url      string
	token    string
	closed   bool
	joinAck  chan error
	answerCh chan webrtc.SessionDescription

	baseCtx context.Context
	cancel  context.CancelFunc
}

var _ core.SessionClient = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	return &Client{
		cfg:     cfg,
		limiter: signalws.NewRateLimiter(joinRateLimit, joinRateWindow),
		senders: make(map[domain.TrackKind]*webrtc.RTPSender),
		pending: make(map[string]core.TrackPublication),
	}
}

func (c *Client) SetHandlers(h core.ClientHandlers) {
	c.handlers = h
}

// Connect dials the signaling endpoint, joins the room, and blocks until
// the endpoint acknowledges with a room state or rejects the join.
func (c *Client) Connect(ctx context.Context, url, token string) error {
	c.mu.Lock()
	if c.sig != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if !c.limiter.Allow(string(signalws.MsgJoin)) {
		c.mu.Unlock()
		return ErrJoinRateLimited
	}
	c.url = url
	c.token = token
	c.closed = false
	joinAck := make(chan error, 1)
	c.joinAck = joinAck
	baseCtx, cancel := context.WithCancel(context.Background())
	c.baseCtx = baseCtx
	c.cancel = cancel
	c.mu.Unlock()

	sig, err := c.dialAndJoin(ctx, url, token)
	if err != nil {
		cancel()
		return err
	}

	select {
	case <-ctx.Done():
		sig.Close()
		cancel()
		return ctx.Err()
	case <-time.After(c.cfg.ConnectTimeout):
		sig.Close()
		cancel()
		return fmt.Errorf("join %s: %w", c.cfg.RoomID, context.DeadlineExceeded)
	case err := <-joinAck:
		if err != nil {
			sig.Close()
			cancel()
			return err
		}
	}

	c.mu.Lock()
	c.sig = sig
	c.mu.Unlock()
	log.Info().Str("module", "adapters.client").Str("room", string(c.cfg.RoomID)).Msg("joined room")
	return nil
}

func (c *Client) dialAndJoin(ctx context.Context, url, token string) (*signalws.Conn, error) {
	sig, err := signalws.Dial(ctx, url, signalws.Options{
		ReadLimit:  c.cfg.ReadLimit,
		PingPeriod: c.cfg.PingPeriod,
	}, c.dispatch, c.transportClosed)
	if err != nil {
		return nil, err
	}
	join := signalws.JoinMessage{
		Type:     signalws.MsgJoin,
		Room:     string(c.cfg.RoomID),
		Identity: string(c.cfg.Identity),
		Name:     c.cfg.Name,
		Password: token,
	}
	if err := sig.SendJSON(join); err != nil {
		sig.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}
	return sig, nil
}

// Disconnect leaves the room and closes both planes. Safe in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sig := c.sig
	media := c.media
	cancel := c.cancel
	c.sig = nil
	c.media = nil
	c.senders = make(map[domain.TrackKind]*webrtc.RTPSender)
	c.pending = make(map[string]core.TrackPublication)
	c.mu.Unlock()

	if sig != nil {
		_ = sig.SendJSON(signalws.Envelope{Type: signalws.MsgLeave})
		sig.Close()
	}
	if media != nil {
		media.Close()
	}
	if cancel != nil {
		cancel()
	}
	log.Info().Str("module", "adapters.client").Str("room", string(c.cfg.RoomID)).Msg("client disconnected")
}

// PublishTrack attaches the local track, renegotiates, and announces the
// publication on the signaling channel.
func (c *Client) PublishTrack(track *webrtc.TrackLocalStaticRTP, kind domain.TrackKind) (core.TrackPublication, error) {
	c.mu.Lock()
	if c.sig == nil {
		c.mu.Unlock()
		return core.TrackPublication{}, ErrNoSignal
	}
	media, err := c.ensureMediaLocked()
	if err != nil {
		c.mu.Unlock()
		return core.TrackPublication{}, err
	}
	if old, ok := c.senders[kind]; ok {
		// Superseding publish of the same kind: detach the old sender first.
		if rerr := media.RemoveLocalTrack(old); rerr != nil {
			log.Warn().Err(rerr).Str("module", "adapters.client").Str("kind", string(kind)).Msg("removing superseded sender failed")
		}
		delete(c.senders, kind)
	}
	sender, err := media.AddLocalTrack(track)
	if err != nil {
		c.mu.Unlock()
		return core.TrackPublication{}, fmt.Errorf("add local track: %w", err)
	}
	c.senders[kind] = sender
	sig := c.sig
	c.mu.Unlock()

	if err := c.renegotiate(media); err != nil {
		return core.TrackPublication{}, err
	}

	announce := signalws.TrackMessage{
		Type:     signalws.MsgPublished,
		Identity: string(c.cfg.Identity),
		Kind:     kind,
		TrackID:  track.ID(),
		StreamID: track.StreamID(),
	}
	if err := sig.SendJSON(announce); err != nil {
		return core.TrackPublication{}, fmt.Errorf("announce publish: %w", err)
	}
	return core.TrackPublication{
		SID:         track.ID(),
		Kind:        kind,
		Participant: c.cfg.Identity,
		Subscribed:  true,
		Handle:      track,
	}, nil
}

// UnpublishTrack detaches the local sender for the kind and announces it.
func (c *Client) UnpublishTrack(kind domain.TrackKind) error {
	c.mu.Lock()
	sig := c.sig
	media := c.media
	sender, ok := c.senders[kind]
	if ok {
		delete(c.senders, kind)
	}
	c.mu.Unlock()
	if sig == nil {
		return ErrNoSignal
	}
	if !ok || media == nil {
		return nil
	}
	if err := media.RemoveLocalTrack(sender); err != nil {
		return fmt.Errorf("remove local track: %w", err)
	}
	if err := c.renegotiate(media); err != nil {
		return err
	}
	announce := signalws.TrackMessage{
		Type:     signalws.MsgUnpublished,
		Identity: string(c.cfg.Identity),
		Kind:     kind,
	}
	if err := sig.SendJSON(announce); err != nil {
		return fmt.Errorf("announce unpublish: %w", err)
	}
	return nil
}

// ensureMediaLocked lazily builds and starts the media connection. Callers
// hold c.mu.
func (c *Client) ensureMediaLocked() (core.MediaConnection, error) {
	if c.media != nil {
		return c.media, nil
	}
	cfg := rtc.DefaultWebRTCConfig()
	if c.cfg.WebRTC != nil {
		cfg = *c.cfg.WebRTC
	}
	conn, err := rtc.NewConnection(cfg, c.cfg.RoomID)
	if err != nil {
		return nil, fmt.Errorf("new media connection: %w", err)
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.sendCandidate(ci)
	})
	conn.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.attachRemoteTrack(track)
	})
	if err := conn.Start(c.baseCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start media connection: %w", err)
	}
	c.media = conn
	return conn, nil
}

// renegotiate runs one offer/answer round trip over the signaling channel.
func (c *Client) renegotiate(media core.MediaConnection) error {
	c.mu.Lock()
	sig := c.sig
	if sig == nil {
		c.mu.Unlock()
		return ErrNoSignal
	}
	if !c.limiter.Allow(string(signalws.MsgOffer)) {
		c.mu.Unlock()
		return fmt.Errorf("renegotiation: %w", ErrJoinRateLimited)
	}
	answerCh := make(chan webrtc.SessionDescription, 1)
	c.answerCh = answerCh
	c.mu.Unlock()

	offer, err := media.CreateAndSetOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := sig.SendJSON(signalws.SDPMessage{Type: signalws.MsgOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	select {
	case answer := <-answerCh:
		if err := media.ApplyAnswer(answer); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		return nil
	case <-time.After(c.cfg.ConnectTimeout):
		return ErrAnswerTimeout
	}
}

func (c *Client) sendCandidate(ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	sig := c.sig
	c.mu.Unlock()
	if sig == nil {
		return
	}
	msg := signalws.CandidateMessage{
		Type:      signalws.MsgCandidate,
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		msg.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		msg.SDPMLineIndex = *ci.SDPMLineIndex
	}
	if err := sig.SendJSON(msg); err != nil {
		log.Warn().Err(err).Str("module", "adapters.client").Msg("send candidate failed")
	}
}

// attachRemoteTrack pairs an arriving pion track with its announced
// publication and re-emits the publish with the handle filled in. The
// session layer's upsert semantics absorb the duplicate.
func (c *Client) attachRemoteTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	pub, ok := c.pending[track.ID()]
	if ok {
		pub.Handle = track
		pub.Subscribed = true
		c.pending[track.ID()] = pub
	}
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "adapters.client").Str("track_id", track.ID()).Msg("remote track without announcement")
		return
	}
	if c.handlers.OnTrackPublished != nil {
		c.handlers.OnTrackPublished(pub)
	}
}

func (c *Client) transportClosed(err error) {
	c.mu.Lock()
	if c.closed || err == nil {
		c.mu.Unlock()
		return
	}
	c.sig = nil
	c.mu.Unlock()
	if c.handlers.OnReconnecting != nil {
		c.handlers.OnReconnecting()
	}
	go c.reconnectLoop(err)
}

// reconnectLoop retries the signaling dial a fixed number of times. The
// session layer only reflects the outcome; it never drives retries itself.
func (c *Client) reconnectLoop(cause error) {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-c.baseCtx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		url, token := c.url, c.token
		joinAck := make(chan error, 1)
		c.joinAck = joinAck
		c.mu.Unlock()

		log.Info().Str("module", "adapters.client").Str("room", string(c.cfg.RoomID)).Int("attempt", attempt).Msg("reconnecting")
		sig, err := c.dialAndJoin(c.baseCtx, url, token)
		if err == nil {
			select {
			case err = <-joinAck:
			case <-time.After(c.cfg.ConnectTimeout):
				err = fmt.Errorf("rejoin %s: %w", c.cfg.RoomID, context.DeadlineExceeded)
			}
			if err == nil {
				c.mu.Lock()
				if c.closed {
					c.mu.Unlock()
					sig.Close()
					return
				}
				c.sig = sig
				c.mu.Unlock()
				if c.handlers.OnReconnected != nil {
					c.handlers.OnReconnected()
				}
				return
			}
			sig.Close()
		}
		log.Warn().Err(err).Str("module", "adapters.client").Int("attempt", attempt).Msg("reconnect attempt failed")
	}
	if c.handlers.OnClosed != nil {
		c.handlers.OnClosed(fmt.Errorf("reconnect exhausted: %w", cause))
	}
}

// dispatch routes every inbound signaling frame. Runs on the read pump
// goroutine, so all raw handler callbacks are sequential.
func (c *Client) dispatch(data []byte) {
	msgType, err := signalws.DecodeType(data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad signal json")
		return
	}
	switch msgType {
	case signalws.MsgRoomState:
		c.handleRoomState(data)
	case signalws.MsgJoined:
		c.handlePresence(data, true)
	case signalws.MsgLeft:
		c.handlePresence(data, false)
	case signalws.MsgPublished:
		c.handlePublished(data)
	case signalws.MsgUnpublished:
		c.handleUnpublished(data)
	case signalws.MsgOffer:
		c.handleOffer(data)
	case signalws.MsgAnswer:
		c.handleAnswer(data)
	case signalws.MsgCandidate:
		c.handleCandidate(data)
	case signalws.MsgPong:
	case signalws.MsgError:
		c.handleError(data)
	default:
		log.Warn().Str("module", "adapters.client").Str("type", string(msgType)).Msg("unknown signal")
	}
}

func (c *Client) handleRoomState(data []byte) {
	msg, err := signalws.DecodeAs[signalws.RoomStateMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad room_state payload")
		return
	}
	c.mu.Lock()
	ack := c.joinAck
	c.joinAck = nil
	c.mu.Unlock()
	if ack != nil {
		ack <- nil
	}
	for _, m := range msg.Members {
		if m.Identity == string(c.cfg.Identity) {
			continue
		}
		if c.handlers.OnParticipantJoined != nil {
			c.handlers.OnParticipantJoined(domain.Participant{
				Identity: domain.Identity(m.Identity),
				Name:     m.Name,
			})
		}
	}
}

func (c *Client) handlePresence(data []byte, joined bool) {
	msg, err := signalws.DecodeAs[signalws.PresenceMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad presence payload")
		return
	}
	id := domain.Identity(msg.Identity)
	if joined {
		if c.handlers.OnParticipantJoined != nil {
			c.handlers.OnParticipantJoined(domain.Participant{Identity: id, Name: msg.Name})
		}
		return
	}
	c.mu.Lock()
	for trackID, pub := range c.pending {
		if pub.Participant == id {
			delete(c.pending, trackID)
		}
	}
	c.mu.Unlock()
	if c.handlers.OnParticipantLeft != nil {
		c.handlers.OnParticipantLeft(id)
	}
}

func (c *Client) handlePublished(data []byte) {
	msg, err := signalws.DecodeAs[signalws.TrackMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad published payload")
		return
	}
	pub := core.TrackPublication{
		SID:         msg.TrackID,
		Kind:        msg.Kind,
		Participant: domain.Identity(msg.Identity),
	}
	c.mu.Lock()
	if msg.TrackID != "" {
		c.pending[msg.TrackID] = pub
	}
	c.mu.Unlock()
	if c.handlers.OnTrackPublished != nil {
		c.handlers.OnTrackPublished(pub)
	}
}

func (c *Client) handleUnpublished(data []byte) {
	msg, err := signalws.DecodeAs[signalws.TrackMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad unpublished payload")
		return
	}
	c.mu.Lock()
	if msg.TrackID != "" {
		delete(c.pending, msg.TrackID)
	}
	c.mu.Unlock()
	if c.handlers.OnTrackUnpublished != nil {
		c.handlers.OnTrackUnpublished(domain.Identity(msg.Identity), msg.Kind)
	}
}

// handleOffer serves endpoint-initiated renegotiation, which is how remote
// tracks reach a subscriber that publishes nothing itself.
func (c *Client) handleOffer(data []byte) {
	msg, err := signalws.DecodeAs[signalws.SDPMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad offer payload")
		return
	}
	c.mu.Lock()
	sig := c.sig
	media, merr := c.ensureMediaLocked()
	c.mu.Unlock()
	if merr != nil {
		log.Error().Err(merr).Str("module", "adapters.client").Msg("media setup for offer failed")
		return
	}
	answer, err := media.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("apply offer failed")
		return
	}
	if sig == nil {
		return
	}
	if err := sig.SendJSON(signalws.SDPMessage{Type: signalws.MsgAnswer, SDP: answer.SDP}); err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("send answer failed")
	}
}

func (c *Client) handleAnswer(data []byte) {
	msg, err := signalws.DecodeAs[signalws.SDPMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad answer payload")
		return
	}
	c.mu.Lock()
	ch := c.answerCh
	c.answerCh = nil
	c.mu.Unlock()
	if ch == nil {
		log.Warn().Str("module", "adapters.client").Msg("unsolicited answer dropped")
		return
	}
	ch <- webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
}

func (c *Client) handleCandidate(data []byte) {
	msg, err := signalws.DecodeAs[signalws.CandidateMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad candidate payload")
		return
	}
	c.mu.Lock()
	media := c.media
	c.mu.Unlock()
	if media == nil {
		log.Debug().Str("module", "adapters.client").Msg("candidate before media setup dropped")
		return
	}
	cand := webrtc.ICECandidateInit{Candidate: msg.Candidate}
	if msg.SDPMid != "" {
		mid := msg.SDPMid
		cand.SDPMid = &mid
	}
	idx := msg.SDPMLineIndex
	cand.SDPMLineIndex = &idx
	if err := media.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "adapters.client").Msg("add ice candidate failed")
	}
}

func (c *Client) handleError(data []byte) {
	msg, err := signalws.DecodeAs[signalws.ErrorMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.client").Msg("bad error payload")
		return
	}
	c.mu.Lock()
	ack := c.joinAck
	c.joinAck = nil
	c.mu.Unlock()
	if ack != nil {
		ack <- fmt.Errorf("%w: %s", ErrJoinRejected, msg.Error)
		return
	}
	log.Warn().Str("module", "adapters.client").Str("error", msg.Error).Msg("endpoint error")
}
