package probe

import (
	"net/netip"
	"time"

	"github.com/yuuki/icmping/internal/icmp"
)

// OutcomeKind is how a single probe resolved.
type OutcomeKind int

const (
	Replied OutcomeKind = iota
	TimedOut
	Unreachable
	SendFailed
	DecodeError
)

// String returns a human-readable name for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case Replied:
		return "REPLIED"
	case TimedOut:
		return "TIMED_OUT"
	case Unreachable:
		return "UNREACHABLE"
	case SendFailed:
		return "SEND_FAILED"
	case DecodeError:
		return "DECODE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of one probe. Which fields are set depends on Kind:
//   - Replied: RTT, TTL, Src, Size
//   - Unreachable: Src, Type, Code, Reason
//   - SendFailed, DecodeError: Err
type Outcome struct {
	Kind   OutcomeKind
	Seq    uint16
	Dst    netip.Addr
	Family icmp.Family

	RTT  time.Duration
	TTL  int
	Src  netip.Addr
	Size int

	Type   int
	Code   int
	Reason string

	Err error
}

// Lost reports whether the probe counts against delivery.
func (o Outcome) Lost() bool {
	return o.Kind != Replied
}

// State is a step of the probe loop.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingReply
	StatePacing
	StateDone
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSending:
		return "SENDING"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StatePacing:
		return "PACING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}
