// Package icmp encodes ICMP Echo Requests and decodes the replies and error
// messages a ping session can receive (RFC 792 for IPv4, RFC 4443 for IPv6).
//
// Received IPv4 datagrams may still carry their IP header; DecodeMessage
// skips it using the header-length field before looking at the ICMP part.
// IPv4 checksums are verified here. ICMPv6 checksums cover a pseudo-header
// and are filled in and verified by the kernel for raw sockets.
package icmp
