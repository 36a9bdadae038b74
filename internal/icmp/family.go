package icmp

import (
	"net/netip"

	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// IANA protocol numbers
const (
	ProtocolICMP     = 1
	ProtocolIPv6ICMP = 58
)

// Family is the address family a probe session runs over.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

// FamilyOf returns the family of addr. IPv4-mapped IPv6 addresses are IPv4.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}

// String returns "ip4" or "ip6".
func (f Family) String() string {
	if f == IPv6 {
		return "ip6"
	}
	return "ip4"
}

// Protocol returns the IANA protocol number of ICMP for this family.
func (f Family) Protocol() int {
	if f == IPv6 {
		return ProtocolIPv6ICMP
	}
	return ProtocolICMP
}

func (f Family) echoRequestType() xicmp.Type {
	if f == IPv6 {
		return ipv6.ICMPTypeEchoRequest
	}
	return ipv4.ICMPTypeEcho
}

func (f Family) echoReplyType() xicmp.Type {
	if f == IPv6 {
		return ipv6.ICMPTypeEchoReply
	}
	return ipv4.ICMPTypeEchoReply
}

func (f Family) echoRequestNumber() int {
	if f == IPv6 {
		return int(ipv6.ICMPTypeEchoRequest)
	}
	return int(ipv4.ICMPTypeEcho)
}
