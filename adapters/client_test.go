package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/avchat/roomkit/adapters/signalws"
	"github.com/avchat/roomkit/core"
	"github.com/avchat/roomkit/domain"
)

// signalServer is a scripted signaling endpoint. Every accepted connection
// lands on conns; inbound frames land on inbound; joinReply decides how a
// join is answered.
type signalServer struct {
	t       *testing.T
	srv     *httptest.Server
	conns   chan *websocket.Conn
	inbound chan []byte

	mu        sync.Mutex
	joinReply func(s *signalServer, ws *websocket.Conn, join signalws.JoinMessage)
}

func newSignalServer(t *testing.T) *signalServer {
	t.Helper()
	s := &signalServer{
		t:       t,
		conns:   make(chan *websocket.Conn, 8),
		inbound: make(chan []byte, 32),
	}
	s.joinReply = ackJoin
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			s.inbound <- data
			typ, err := signalws.DecodeType(data)
			if err != nil {
				continue
			}
			if typ == signalws.MsgJoin {
				join, err := signalws.DecodeAs[signalws.JoinMessage](data)
				if err != nil {
					continue
				}
				s.mu.Lock()
				reply := s.joinReply
				s.mu.Unlock()
				if reply != nil {
					reply(s, ws, join)
				}
			}
		}
	}))
	t.Cleanup(func() {
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
	return s
}

func (s *signalServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *signalServer) setJoinReply(fn func(*signalServer, *websocket.Conn, signalws.JoinMessage)) {
	s.mu.Lock()
	s.joinReply = fn
	s.mu.Unlock()
}

func (s *signalServer) send(ws *websocket.Conn, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(s.t, ws.WriteJSON(v))
}

func ackJoin(s *signalServer, ws *websocket.Conn, join signalws.JoinMessage) {
	s.send(ws, signalws.RoomStateMessage{
		Type: signalws.MsgRoomState,
		Room: join.Room,
		Members: []signalws.MemberInfo{
			{Identity: join.Identity, Name: join.Name},
			{Identity: "alice", Name: "Alice"},
		},
	})
}

// handlerRec turns raw callbacks into channels the test can wait on.
type handlerRec struct {
	joined       chan domain.Participant
	left         chan domain.Identity
	published    chan core.TrackPublication
	unpublished  chan domain.TrackKind
	reconnecting chan struct{}
	reconnected  chan struct{}
	closed       chan error
}

func bindHandlers(c *Client) *handlerRec {
	r := &handlerRec{
		joined:       make(chan domain.Participant, 8),
		left:         make(chan domain.Identity, 8),
		published:    make(chan core.TrackPublication, 8),
		unpublished:  make(chan domain.TrackKind, 8),
		reconnecting: make(chan struct{}, 4),
		reconnected:  make(chan struct{}, 4),
		closed:       make(chan error, 4),
	}
	c.SetHandlers(core.ClientHandlers{
		OnParticipantJoined: func(p domain.Participant) { r.joined <- p },
		OnParticipantLeft:   func(id domain.Identity) { r.left <- id },
		OnTrackPublished:    func(pub core.TrackPublication) { r.published <- pub },
		OnTrackUnpublished:  func(_ domain.Identity, kind domain.TrackKind) { r.unpublished <- kind },
		OnReconnecting:      func() { r.reconnecting <- struct{}{} },
		OnReconnected:       func() { r.reconnected <- struct{}{} },
		OnClosed:            func(err error) { r.closed <- err },
	})
	return r
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func newTestClient() *Client {
	return NewClient(ClientConfig{
		RoomID:            "demo",
		Identity:          "me",
		Name:              "Me",
		ConnectTimeout:    2 * time.Second,
		ReconnectAttempts: 2,
		ReconnectInterval: 20 * time.Millisecond,
		PingPeriod:        time.Minute,
	})
}

func TestClientConnectReplaysRoomState(t *testing.T) {
	srv := newSignalServer(t)
	c := newTestClient()
	rec := bindHandlers(c)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), srv.url(), "pw"))

	join, err := signalws.DecodeAs[signalws.JoinMessage](recv(t, srv.inbound, "join frame"))
	require.NoError(t, err)
	require.Equal(t, signalws.MsgJoin, join.Type)
	require.Equal(t, "demo", join.Room)
	require.Equal(t, "me", join.Identity)
	require.Equal(t, "pw", join.Password)

	p := recv(t, rec.joined, "member replay")
	require.Equal(t, domain.Identity("alice"), p.Identity)
	require.Equal(t, "Alice", p.Name)
	select {
	case p := <-rec.joined:
		t.Fatalf("self must not be replayed, got %s", p.Identity)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientConnectRejected(t *testing.T) {
	srv := newSignalServer(t)
	srv.setJoinReply(func(s *signalServer, ws *websocket.Conn, _ signalws.JoinMessage) {
		s.send(ws, signalws.ErrorMessage{Type: signalws.MsgError, Error: "wrong password"})
	})
	c := newTestClient()
	bindHandlers(c)

	err := c.Connect(context.Background(), srv.url(), "bad")
	require.ErrorIs(t, err, ErrJoinRejected)
	require.Contains(t, err.Error(), "wrong password")
}

func TestClientConnectTimeout(t *testing.T) {
	srv := newSignalServer(t)
	srv.setJoinReply(nil)
	c := newTestClient()
	c.cfg.ConnectTimeout = 50 * time.Millisecond
	bindHandlers(c)

	err := c.Connect(context.Background(), srv.url(), "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientConnectContextCancel(t *testing.T) {
	srv := newSignalServer(t)
	srv.setJoinReply(nil)
	c := newTestClient()
	bindHandlers(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Connect(ctx, srv.url(), "") }()
	recv(t, srv.inbound, "join frame")
	cancel()

	require.ErrorIs(t, recv(t, done, "connect result"), context.Canceled)
}

func TestClientConnectTwice(t *testing.T) {
	srv := newSignalServer(t)
	c := newTestClient()
	bindHandlers(c)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), srv.url(), ""))
	require.ErrorIs(t, c.Connect(context.Background(), srv.url(), ""), ErrAlreadyConnected)
}

func TestClientDispatchesPresenceAndTracks(t *testing.T) {
	srv := newSignalServer(t)
	c := newTestClient()
	rec := bindHandlers(c)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), srv.url(), ""))
	ws := recv(t, srv.conns, "server conn")
	recv(t, rec.joined, "member replay")

	srv.send(ws, signalws.PresenceMessage{Type: signalws.MsgJoined, Identity: "bob", Name: "Bob"})
	p := recv(t, rec.joined, "bob joined")
	require.Equal(t, domain.Identity("bob"), p.Identity)

	srv.send(ws, signalws.TrackMessage{Type: signalws.MsgPublished, Identity: "bob", Kind: domain.TrackKindAudio, TrackID: "t1"})
	pub := recv(t, rec.published, "bob published")
	require.Equal(t, domain.Identity("bob"), pub.Participant)
	require.Equal(t, domain.TrackKindAudio, pub.Kind)
	require.Equal(t, "t1", pub.SID)
	require.Nil(t, pub.Handle, "no media handle before the track arrives")

	srv.send(ws, signalws.TrackMessage{Type: signalws.MsgUnpublished, Identity: "bob", Kind: domain.TrackKindAudio, TrackID: "t1"})
	require.Equal(t, domain.TrackKindAudio, recv(t, rec.unpublished, "bob unpublished"))

	srv.send(ws, signalws.PresenceMessage{Type: signalws.MsgLeft, Identity: "bob"})
	require.Equal(t, domain.Identity("bob"), recv(t, rec.left, "bob left"))
}

func TestClientDisconnectSendsLeave(t *testing.T) {
	srv := newSignalServer(t)
	c := newTestClient()
	rec := bindHandlers(c)

	require.NoError(t, c.Connect(context.Background(), srv.url(), ""))
	recv(t, srv.inbound, "join frame")

	c.Disconnect()
	typ, err := signalws.DecodeType(recv(t, srv.inbound, "leave frame"))
	require.NoError(t, err)
	require.Equal(t, signalws.MsgLeave, typ)

	// Local disconnect never triggers the reconnect path.
	select {
	case <-rec.reconnecting:
		t.Fatal("reconnect after local disconnect")
	case <-time.After(150 * time.Millisecond):
	}

	c.Disconnect()
}

func TestClientReconnects(t *testing.T) {
	srv := newSignalServer(t)
	c := newTestClient()
	rec := bindHandlers(c)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), srv.url(), ""))
	ws := recv(t, srv.conns, "server conn")
	recv(t, rec.joined, "member replay")

	require.NoError(t, ws.Close())
	recv(t, rec.reconnecting, "reconnecting")
	recv(t, rec.reconnected, "reconnected")
	recv(t, srv.conns, "rejoined server conn")
}

func TestClientReconnectExhausted(t *testing.T) {
	srv := newSignalServer(t)
	c := newTestClient()
	rec := bindHandlers(c)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), srv.url(), ""))
	ws := recv(t, srv.conns, "server conn")

	srv.setJoinReply(func(s *signalServer, ws *websocket.Conn, _ signalws.JoinMessage) {
		s.send(ws, signalws.ErrorMessage{Type: signalws.MsgError, Error: "room gone"})
	})
	require.NoError(t, ws.Close())

	recv(t, rec.reconnecting, "reconnecting")
	err := recv(t, rec.closed, "closed")
	require.Error(t, err)
	require.Contains(t, err.Error(), "reconnect exhausted")
}

func TestClientPublishWithoutSignal(t *testing.T) {
	c := NewClient(ClientConfig{RoomID: "demo", Identity: "me"})
	_, err := c.PublishTrack(nil, domain.TrackKindAudio)
	require.ErrorIs(t, err, ErrNoSignal)
	require.ErrorIs(t, c.UnpublishTrack(domain.TrackKindAudio), ErrNoSignal)
}
