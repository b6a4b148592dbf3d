package signalws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avchat/roomkit/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	defaultSendBuffer = 32
	writeTimeout      = 5 * time.Second
)

// Options tunes a signaling connection. Zero values fall back to defaults.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

// Conn is a dialed signaling connection. Outbound frames go through a
// bounded send queue so a stalled endpoint surfaces as backpressure instead
// of blocking the event path.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame
	opts Options

	onMessage func([]byte)
	onClosed  func(error)

	mu     sync.RWMutex
	closed bool

	writerDone chan struct{}
	cancel     context.CancelFunc
}

var _ core.SignalConnection = (*Conn)(nil)

// Dial connects to the signaling endpoint and starts the read/write pumps.
// onMessage receives every inbound frame from the read pump goroutine;
// onClosed fires once when the connection dies, with nil on local Close.
func Dial(ctx context.Context, url string, opts Options, onMessage func([]byte), onClosed func(error)) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	c := &Conn{
		conn:       ws,
		send:       make(chan core.Frame, defaultSendBuffer),
		opts:       opts,
		onMessage:  onMessage,
		onClosed:   onClosed,
		writerDone: make(chan struct{}),
	}
	// ctx bounds the dial only. The pumps live until Close; tying them to a
	// caller's connect timeout would kill the ping loop mid-session.
	pumpCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.writePump(pumpCtx)
	go c.readPump(pumpCtx)
	log.Info().Str("module", "signalws").Str("url", url).Msg("signaling connected")
	return c, nil
}

// TrySend queues a frame without blocking. Returns ErrBackpressure when the
// send queue is full and ErrClosed after Close.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// SendJSON marshals v and queues it.
func (c *Conn) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return c.TrySend(b)
}

// Close is idempotent and suppresses the error callback for local shutdown.
func (c *Conn) Close() {
	c.close(nil)
}

func (c *Conn) close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	// Let the write pump drain queued frames (e.g. a final leave) before the
	// socket goes away.
	select {
	case <-c.writerDone:
	case <-time.After(writeTimeout):
	}
	_ = c.conn.Close()
	if c.cancel != nil {
		c.cancel()
	}
	if c.onClosed != nil {
		c.onClosed(err)
	}
}

func (c *Conn) writePump(ctx context.Context) {
	defer close(c.writerDone)
	pingPeriod := c.opts.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	ping, _ := json.Marshal(Envelope{Type: MsgPing})
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signalws").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signalws").Msg("writePump channel closed")
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Conn) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signalws").Msg("readPump ctx done")
			c.close(nil)
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.mu.RLock()
				alreadyClosed := c.closed
				c.mu.RUnlock()
				if alreadyClosed {
					return
				}
				log.Warn().Err(err).Str("module", "signalws").Msg("readPump read error")
				c.close(err)
				return
			}
			if c.onMessage != nil {
				c.onMessage(data)
			}
		}
	}
}
