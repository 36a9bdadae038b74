package probe

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuuki/icmping/internal/icmp"
	"github.com/yuuki/icmping/internal/pacing"
	"github.com/yuuki/icmping/internal/session"
	"github.com/yuuki/icmping/internal/transport"
)

// Config describes one ping run against a single destination.
type Config struct {
	Dst         netip.Addr
	Count       int // 0 means until cancelled
	Timeout     time.Duration
	PayloadSize int
}

// Prober runs the send, await, pace loop. At most one probe is in flight.
type Prober struct {
	cfg     Config
	family  icmp.Family
	rx      transport.Transceiver
	pacer   *pacing.Pacer
	session *session.Session
	payload []byte
	state   State
}

// NewProber creates a Prober. The transceiver is borrowed; closing it is
// the caller's job.
func NewProber(cfg Config, rx transport.Transceiver, pacer *pacing.Pacer, sess *session.Session) *Prober {
	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	return &Prober{
		cfg:     cfg,
		family:  icmp.FamilyOf(cfg.Dst),
		rx:      rx,
		pacer:   pacer,
		session: sess,
		payload: payload,
		state:   StateIdle,
	}
}

// Session returns the session the prober records into.
func (p *Prober) Session() *session.Session {
	return p.session
}

// State returns the current loop state.
func (p *Prober) State() State {
	return p.state
}

func (p *Prober) setState(s State) {
	log.Trace().Str("from", p.state.String()).Str("to", s.String()).Msg("Probe loop transition")
	p.state = s
}

// Run probes until Count probes have resolved or ctx is cancelled. Each
// resolved probe is sent on outcomes, if non-nil, as soon as it is known.
// A probe interrupted by cancellation is neither counted nor reported.
//
// Cancellation is not an error. A receive failure other than a timeout
// aborts the run; the statistics so far are returned with the error.
func (p *Prober) Run(ctx context.Context, outcomes chan<- Outcome) (session.Statistics, error) {
	defer p.setState(StateDone)

	clk := p.session.Clock()
	log.Debug().
		Str("dst", p.cfg.Dst.String()).
		Uint16("id", p.session.ID()).
		Int("count", p.cfg.Count).
		Dur("interval", p.pacer.Interval()).
		Dur("timeout", p.cfg.Timeout).
		Msg("Starting probe loop")

	for resolved := 0; p.cfg.Count == 0 || resolved < p.cfg.Count; resolved++ {
		if ctx.Err() != nil {
			break
		}

		p.setState(StateSending)
		p.pacer.Guard()
		// Guard can block for a floor period without watching ctx
		if ctx.Err() != nil {
			break
		}

		seq := p.session.NextSequence()
		req, err := icmp.EncodeRequest(p.family, p.session.ID(), seq, p.payload)
		if err != nil {
			return p.session.Statistics(), fmt.Errorf("encode echo request: %w", err)
		}

		sentAt := clk.Now()
		out, err := p.probe(ctx, seq, req, sentAt)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Uint16("seq", seq).Msg("In-flight probe interrupted")
				break
			}
			return p.session.Statistics(), fmt.Errorf("receive from %s: %w", p.cfg.Dst, err)
		}

		if out.Kind == Replied {
			p.session.RecordReply(out.RTT)
		} else {
			p.session.RecordLoss()
		}
		if outcomes != nil {
			outcomes <- out
		}

		p.setState(StatePacing)
		if p.cfg.Count != 0 && resolved+1 >= p.cfg.Count {
			// budget spent; no point waiting out the interval
			break
		}
		if err := p.pacer.WaitRemaining(ctx, clk.Since(sentAt)); err != nil {
			break
		}
	}

	return p.session.Statistics(), nil
}

// probe sends one request and waits for its resolution.
func (p *Prober) probe(ctx context.Context, seq uint16, req []byte, sentAt time.Time) (Outcome, error) {
	out := Outcome{Seq: seq, Dst: p.cfg.Dst, Family: p.family}

	if err := p.rx.Send(p.cfg.Dst, req); err != nil {
		log.Debug().Err(err).Uint16("seq", seq).Msg("Failed to send echo request")
		out.Kind = SendFailed
		out.Err = err
		return out, nil
	}

	p.setState(StateAwaitingReply)
	res, err := p.session.Await(ctx, p.rx, p.family, seq, sentAt, p.cfg.Timeout)
	if err != nil {
		return out, err
	}

	switch res.Kind {
	case session.AwaitReplied:
		out.Kind = Replied
		out.RTT = res.RTT
		out.TTL = res.Packet.TTL
		out.Src = res.Packet.Src
		out.Size = res.Message.Len
	case session.AwaitUnreachable:
		out.Kind = Unreachable
		out.Src = res.Packet.Src
		out.Type = res.Message.Type
		out.Code = res.Message.Code
		out.Reason = res.Reason
	case session.AwaitDecodeError:
		out.Kind = DecodeError
		out.Src = res.Packet.Src
		out.Err = res.Err
	default:
		out.Kind = TimedOut
	}
	return out, nil
}
