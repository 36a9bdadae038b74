package session

import (
	"github.com/yuuki/icmping/internal/icmp"
)

// MatchKind is the verdict of MatchReply.
type MatchKind int

const (
	// ForeignTraffic is not an answer to the probe; keep waiting
	ForeignTraffic MatchKind = iota
	// Matched is the echo reply to the probe
	Matched
	// Unreachable is an ICMP error for the probe; stop waiting
	Unreachable
)

// String returns a human-readable name for the kind.
func (k MatchKind) String() string {
	switch k {
	case Matched:
		return "MATCHED"
	case Unreachable:
		return "UNREACHABLE"
	default:
		return "FOREIGN"
	}
}

// MatchResult is the outcome of correlating a decoded message with the
// outstanding probe.
type MatchResult struct {
	Kind   MatchKind
	Reason string
}

// MatchReply correlates msg with the probe (id, seq). Only an echo reply
// carrying both is Matched. Destination unreachable and time exceeded are
// Unreachable unless the quoted datagram shows they belong to someone else:
// another identifier or sequence, or not an echo request at all. An error
// whose quote cannot be read is attributed to the probe.
// Everything else, including replies to our own earlier probes, is foreign.
func MatchReply(family icmp.Family, id, seq uint16, msg *icmp.Message) MatchResult {
	switch msg.Kind {
	case icmp.KindEchoReply:
		if msg.ID == id && msg.Seq == seq {
			return MatchResult{Kind: Matched}
		}
	case icmp.KindDestinationUnreachable, icmp.KindTimeExceeded:
		if msg.QuoteForeign {
			break
		}
		if q := msg.Quote; q != nil && (q.ID != id || q.Seq != seq) {
			break
		}
		return MatchResult{Kind: Unreachable, Reason: msg.Reason(family)}
	}
	return MatchResult{Kind: ForeignTraffic}
}
