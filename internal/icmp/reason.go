package icmp

import "fmt"

var ipv4UnreachableReasons = map[int]string{
	0:  "destination net unreachable",
	1:  "destination host unreachable",
	2:  "destination protocol unreachable",
	3:  "destination port unreachable",
	4:  "fragmentation needed and DF set",
	5:  "source route failed",
	6:  "destination net unknown",
	7:  "destination host unknown",
	9:  "destination net prohibited",
	10: "destination host prohibited",
	11: "destination net unreachable for TOS",
	12: "destination host unreachable for TOS",
	13: "communication administratively prohibited",
	14: "host precedence violation",
	15: "precedence cutoff in effect",
}

var ipv6UnreachableReasons = map[int]string{
	0: "no route to destination",
	1: "communication administratively prohibited",
	2: "beyond scope of source address",
	3: "address unreachable",
	4: "port unreachable",
	5: "source address failed ingress/egress policy",
	6: "reject route to destination",
}

// Reason describes an ICMP error message in words, e.g. for
// "Destination Unreachable, code 1" it returns "destination host unreachable".
func (m *Message) Reason(family Family) string {
	switch m.Kind {
	case KindDestinationUnreachable:
		table := ipv4UnreachableReasons
		if family == IPv6 {
			table = ipv6UnreachableReasons
		}
		if r, ok := table[m.Code]; ok {
			return r
		}
		return fmt.Sprintf("destination unreachable (code %d)", m.Code)
	case KindTimeExceeded:
		if m.Code == 1 {
			return "fragment reassembly time exceeded"
		}
		return "time to live exceeded"
	default:
		return fmt.Sprintf("icmp type %d code %d", m.Type, m.Code)
	}
}
