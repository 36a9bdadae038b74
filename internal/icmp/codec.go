package icmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	// HeaderSize is the size of the ICMP echo header (type, code, checksum, id, seq)
	HeaderSize = 8
	// MaxPayloadSize bounds the echo payload accepted by EncodeRequest
	MaxPayloadSize = 2048
	// DefaultPayloadSize makes a 64-byte ICMP message, same as ping(8)
	DefaultPayloadSize = 56

	ipv6HeaderLen = 40
)

var (
	ErrPayloadTooLarge  = errors.New("icmp: payload too large")
	ErrChecksumMismatch = errors.New("icmp: checksum mismatch")
	ErrMalformed        = errors.New("icmp: malformed message")
)

// Kind classifies a decoded ICMP message.
type Kind int

const (
	KindOther Kind = iota
	KindEchoReply
	KindEchoRequest
	KindDestinationUnreachable
	KindTimeExceeded
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEchoReply:
		return "ECHO_REPLY"
	case KindEchoRequest:
		return "ECHO_REQUEST"
	case KindDestinationUnreachable:
		return "DESTINATION_UNREACHABLE"
	case KindTimeExceeded:
		return "TIME_EXCEEDED"
	default:
		return "OTHER"
	}
}

// Quote is the echo header found inside the original datagram quoted by an
// ICMP error message.
type Quote struct {
	Dst netip.Addr
	ID  uint16
	Seq uint16
}

// Message is a validated, classified ICMP message.
type Message struct {
	Kind Kind
	Type int
	Code int

	// Echo fields, set for KindEchoReply and KindEchoRequest
	ID      uint16
	Seq     uint16
	Payload []byte

	// Quote is set for error messages when the quoted datagram carried an
	// echo request
	Quote *Quote
	// QuoteForeign is set when the quoted datagram was readable but was not
	// an echo request, e.g. a UDP datagram from another process
	QuoteForeign bool

	// Len is the ICMP message length, IP header excluded
	Len int
}

// EncodeRequest builds an ICMP Echo Request for the given family.
// The IPv4 checksum is filled in here; for IPv6 the kernel computes it
// because it covers the pseudo-header.
func EncodeRequest(family Family, id, seq uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	msg := xicmp.Message{
		Type: family.echoRequestType(),
		Code: 0,
		Body: &xicmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: payload,
		},
	}

	b, err := msg.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("marshal ICMP echo request: %w", err)
	}

	if family == IPv4 {
		// x/net already sums IPv4 messages; recompute so the wire format does
		// not depend on library internals
		binary.BigEndian.PutUint16(b[2:4], 0)
		binary.BigEndian.PutUint16(b[2:4], Checksum(b))
	}
	return b, nil
}

// DecodeMessage validates and classifies a received datagram. A leading IPv4
// header, as returned by some raw socket implementations, is skipped using
// its header-length field.
func DecodeMessage(family Family, b []byte) (*Message, error) {
	if family == IPv4 {
		b = stripIPv4Header(b)
	}
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}

	if family == IPv4 {
		if want, got := binary.BigEndian.Uint16(b[2:4]), checksumZeroed(b); want != got {
			return nil, fmt.Errorf("%w: header 0x%04x, computed 0x%04x", ErrChecksumMismatch, want, got)
		}
	}

	parsed, err := xicmp.ParseMessage(family.Protocol(), b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Type is kept as the raw wire value; the x/net Type is family specific
	msg := &Message{
		Type: int(b[0]),
		Code: parsed.Code,
		Len:  len(b),
	}

	switch body := parsed.Body.(type) {
	case *xicmp.Echo:
		msg.ID = uint16(body.ID)
		msg.Seq = uint16(body.Seq)
		msg.Payload = body.Data
		if parsed.Type == family.echoReplyType() {
			msg.Kind = KindEchoReply
		} else {
			msg.Kind = KindEchoRequest
		}
	case *xicmp.DstUnreach:
		msg.Kind = KindDestinationUnreachable
		msg.Quote, msg.QuoteForeign = parseQuote(family, body.Data)
	case *xicmp.TimeExceeded:
		msg.Kind = KindTimeExceeded
		msg.Quote, msg.QuoteForeign = parseQuote(family, body.Data)
	default:
		msg.Kind = KindOther
	}
	return msg, nil
}

// PeekEcho reads the identifier and sequence out of a message that failed
// validation. It only looks at the fixed header layout and reports false
// when the bytes cannot hold an echo header.
func PeekEcho(family Family, b []byte) (id, seq uint16, ok bool) {
	if family == IPv4 {
		b = stripIPv4Header(b)
	}
	if len(b) < HeaderSize {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(b[4:6]), binary.BigEndian.Uint16(b[6:8]), true
}

// stripIPv4Header drops a leading IPv4 header carrying ICMP. Anything that
// does not parse as one is returned untouched.
func stripIPv4Header(b []byte) []byte {
	if len(b) < ipv4.HeaderLen || b[0]>>4 != ipv4.Version {
		return b
	}
	h, err := ipv4.ParseHeader(b)
	if err != nil || h.Len < ipv4.HeaderLen || h.Len > len(b) || h.Protocol != IPv4.Protocol() {
		return b
	}
	return b[h.Len:]
}

// parseQuote extracts the echo header from the original datagram quoted in
// an ICMP error. It returns foreign=true when the quote is readable but
// carried something other than an echo request, and (nil, false) when the
// quote is missing or too truncated to tell.
func parseQuote(family Family, data []byte) (q *Quote, foreign bool) {
	var (
		dst    netip.Addr
		quoted []byte
	)

	switch family {
	case IPv4:
		h, err := ipv4.ParseHeader(data)
		if err != nil || h.Len < ipv4.HeaderLen || h.Len > len(data) {
			return nil, false
		}
		if h.Protocol != IPv4.Protocol() {
			return nil, true
		}
		dst, _ = netip.AddrFromSlice(h.Dst.To4())
		quoted = data[h.Len:]
	case IPv6:
		if len(data) < ipv6HeaderLen {
			return nil, false
		}
		h, err := ipv6.ParseHeader(data)
		if err != nil {
			return nil, false
		}
		if h.NextHeader != IPv6.Protocol() {
			return nil, true
		}
		dst, _ = netip.AddrFromSlice(h.Dst.To16())
		quoted = data[ipv6HeaderLen:]
	default:
		return nil, false
	}

	if len(quoted) == 0 {
		return nil, false
	}
	if int(quoted[0]) != family.echoRequestNumber() {
		return nil, true
	}
	if len(quoted) < HeaderSize {
		return nil, false
	}
	return &Quote{
		Dst: dst,
		ID:  binary.BigEndian.Uint16(quoted[4:6]),
		Seq: binary.BigEndian.Uint16(quoted[6:8]),
	}, false
}

// IsReplyCandidate reports whether b, optionally behind an IPv4 header, has
// an ICMP type a ping session waits for: echo reply, destination
// unreachable or time exceeded. Nothing is validated beyond the type byte.
func IsReplyCandidate(family Family, b []byte) bool {
	if family == IPv4 {
		b = stripIPv4Header(b)
	}
	if len(b) == 0 {
		return false
	}
	switch family {
	case IPv6:
		switch ipv6.ICMPType(b[0]) {
		case ipv6.ICMPTypeEchoReply, ipv6.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeTimeExceeded:
			return true
		}
	default:
		switch ipv4.ICMPType(b[0]) {
		case ipv4.ICMPTypeEchoReply, ipv4.ICMPTypeDestinationUnreachable, ipv4.ICMPTypeTimeExceeded:
			return true
		}
	}
	return false
}
