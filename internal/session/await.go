package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuuki/icmping/internal/icmp"
	"github.com/yuuki/icmping/internal/transport"
)

// AwaitKind is how the wait for a probe's answer ended.
type AwaitKind int

const (
	AwaitReplied AwaitKind = iota
	AwaitTimedOut
	AwaitUnreachable
	AwaitDecodeError
)

// AwaitResult describes the answer, or lack of one, to a single probe.
type AwaitResult struct {
	Kind    AwaitKind
	RTT     time.Duration
	Packet  *transport.Packet
	Message *icmp.Message
	Reason  string
	Err     error
}

// Await receives from rx until the answer to probe seq arrives or timeout
// elapses since sentAt. The deadline is fixed up front, so unrelated
// traffic never extends the total wait. Foreign replies and undecodable
// packets that are not ours are skipped.
//
// The returned error is non-nil only when the wait itself failed: ctx was
// cancelled or the socket returned something other than a timeout.
func (s *Session) Await(
	ctx context.Context,
	rx transport.Transceiver,
	family icmp.Family,
	seq uint16,
	sentAt time.Time,
	timeout time.Duration,
) (AwaitResult, error) {
	deadline := sentAt.Add(timeout)

	for {
		pkt, err := rx.Receive(ctx, deadline)
		if errors.Is(err, transport.ErrTimeout) {
			return AwaitResult{Kind: AwaitTimedOut}, nil
		}
		if err != nil {
			return AwaitResult{}, err
		}

		msg, err := icmp.DecodeMessage(family, pkt.Data)
		if err != nil {
			if id, pseq, ok := icmp.PeekEcho(family, pkt.Data); ok && id == s.id && pseq == seq {
				return AwaitResult{Kind: AwaitDecodeError, Packet: pkt, Err: err}, nil
			}
			log.Debug().Err(err).Str("src", pkt.Src.String()).Msg("Discarding undecodable ICMP packet")
			continue
		}

		match := MatchReply(family, s.id, seq, msg)
		switch match.Kind {
		case Matched:
			rtt := pkt.ReceivedAt.Sub(sentAt)
			if rtt > timeout {
				// answered, but after the budget ran out
				return AwaitResult{Kind: AwaitTimedOut}, nil
			}
			if rtt < 0 {
				rtt = 0
			}
			return AwaitResult{Kind: AwaitReplied, RTT: rtt, Packet: pkt, Message: msg}, nil
		case Unreachable:
			return AwaitResult{Kind: AwaitUnreachable, Packet: pkt, Message: msg, Reason: match.Reason}, nil
		default:
			log.Trace().
				Str("kind", msg.Kind.String()).
				Uint16("id", msg.ID).
				Uint16("seq", msg.Seq).
				Str("src", pkt.Src.String()).
				Msg("Ignoring foreign ICMP traffic")
		}
	}
}
