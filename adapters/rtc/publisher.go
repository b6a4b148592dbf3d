package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type PublishState int32

const (
	PublishStateOk PublishState = iota
	PublishStateMuted
	PublishStateStopped
)

// PacketSource yields RTP packets from a local capture or file feed.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// RTPWriter is the outbound side; *webrtc.TrackLocalStaticRTP satisfies it.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// Publisher pumps RTP from a local source into a published track. Muting
// drops packets without stopping the source read.
type Publisher struct {
	src   PacketSource
	track RTPWriter
	state atomic.Int32 // zero value is PublishStateOk

	cancel context.CancelFunc
}

func NewPublisher(src PacketSource, track RTPWriter) *Publisher {
	return &Publisher{src: src, track: track}
}

// Start launches the pump loop. The loop ends when ctx is canceled, the
// source drains, or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	logger := log.With().Str("module", "rtc.publisher").Logger()
	go p.loop(ctx, &logger)
}

func (p *Publisher) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("publisher ctx done")
			p.state.Store(int32(PublishStateStopped))
			return
		default:
		}
		pkt, err := p.src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("publisher read RTP error, stopping")
			p.state.Store(int32(PublishStateStopped))
			return
		}
		switch p.State() {
		case PublishStateStopped:
			return
		case PublishStateMuted:
		case PublishStateOk:
			if err := p.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Msg("publisher write RTP error, stopping")
				p.state.Store(int32(PublishStateStopped))
				return
			}
		}
	}
}

func (p *Publisher) State() PublishState {
	return PublishState(p.state.Load())
}

func (p *Publisher) Mute() {
	p.state.CompareAndSwap(int32(PublishStateOk), int32(PublishStateMuted))
}

func (p *Publisher) Unmute() {
	p.state.CompareAndSwap(int32(PublishStateMuted), int32(PublishStateOk))
}

func (p *Publisher) Stop() {
	p.state.Store(int32(PublishStateStopped))
	if p.cancel != nil {
		p.cancel()
	}
}
