package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuuki/icmping/internal/icmp"
	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// maxDatagramSize fits any IPv4/IPv6 datagram
const maxDatagramSize = 1 << 16

var listenNetworks = map[icmp.Family]string{
	icmp.IPv4: "ip4:icmp",
	icmp.IPv6: "ip6:ipv6-icmp",
}

var (
	// ErrPermissionDenied is returned by Open when the process may not
	// create raw sockets (not root and no CAP_NET_RAW). It is fatal for a run.
	ErrPermissionDenied = errors.New("permission denied opening raw ICMP socket (need root or CAP_NET_RAW)")
	// ErrTimeout is returned by Receive when the deadline passes first.
	ErrTimeout = errors.New("receive deadline exceeded")
)

// SendError reports a failed transmission of a single probe.
type SendError struct {
	Dst netip.Addr
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Dst, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Packet is a datagram read from the socket.
type Packet struct {
	Data       []byte
	Src        netip.Addr
	TTL        int // TTL or hop limit; -1 when the kernel did not report it
	ReceivedAt time.Time
}

// Transceiver sends echo requests and receives ICMP datagrams.
type Transceiver interface {
	Send(dst netip.Addr, b []byte) error
	Receive(ctx context.Context, deadline time.Time) (*Packet, error)
	Close() error
}

// Conn is a raw ICMP socket for one address family.
type Conn struct {
	family icmp.Family
	conn   *xicmp.PacketConn
	p4     *ipv4.PacketConn
	p6     *ipv6.PacketConn
	buf    []byte

	closeOnce sync.Once
	closeErr  error
}

var _ Transceiver = (*Conn)(nil)

// Open creates a raw ICMP socket for family, not bound to any local address.
func Open(family icmp.Family) (*Conn, error) {
	network, ok := listenNetworks[family]
	if !ok {
		return nil, fmt.Errorf("unsupported address family %d", family)
	}

	conn, err := xicmp.ListenPacket(network, "")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("create %s socket: %w", network, err)
	}

	c := &Conn{
		family: family,
		conn:   conn,
		buf:    make([]byte, maxDatagramSize),
	}

	// TTL is informational; a platform without the control message still pings
	switch family {
	case icmp.IPv4:
		c.p4 = conn.IPv4PacketConn()
		if err := c.p4.SetControlMessage(ipv4.FlagTTL, true); err != nil {
			log.Debug().Err(err).Msg("TTL control message unavailable")
		}
	case icmp.IPv6:
		c.p6 = conn.IPv6PacketConn()
		if err := c.p6.SetControlMessage(ipv6.FlagHopLimit, true); err != nil {
			log.Debug().Err(err).Msg("Hop limit control message unavailable")
		}
	}

	log.Debug().Str("network", network).Msg("Raw ICMP socket opened")
	return c, nil
}

// Family returns the address family of the socket.
func (c *Conn) Family() icmp.Family {
	return c.family
}

// Send transmits b to dst. Failures are returned as *SendError.
func (c *Conn) Send(dst netip.Addr, b []byte) error {
	addr := &net.IPAddr{IP: dst.AsSlice(), Zone: dst.Zone()}
	if _, err := c.conn.WriteTo(b, addr); err != nil {
		return &SendError{Dst: dst, Err: err}
	}
	return nil
}

// Receive blocks until an ICMP datagram that may answer a probe arrives,
// the deadline passes (ErrTimeout) or ctx is done (ctx.Err()). Other ICMP
// traffic on the socket, such as echo requests seen on loopback, is skipped.
func (c *Conn) Receive(ctx context.Context, deadline time.Time) (*Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	// Pull the deadline in to unblock the read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, ttl, src, err := c.read()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("read ICMP: %w", err)
		}
		receivedAt := time.Now()

		if !icmp.IsReplyCandidate(c.family, c.buf[:n]) {
			log.Trace().Int("bytes", n).Msg("Skipping unrelated ICMP datagram")
			continue
		}

		data := make([]byte, n)
		copy(data, c.buf[:n])
		return &Packet{
			Data:       data,
			Src:        addrFrom(src),
			TTL:        ttl,
			ReceivedAt: receivedAt,
		}, nil
	}
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		log.Debug().Str("network", listenNetworks[c.family]).Msg("Raw ICMP socket closed")
	})
	return c.closeErr
}

func (c *Conn) read() (n, ttl int, src net.Addr, err error) {
	ttl = -1
	if c.p6 != nil {
		var cm *ipv6.ControlMessage
		n, cm, src, err = c.p6.ReadFrom(c.buf)
		if cm != nil {
			ttl = cm.HopLimit
		}
		return n, ttl, src, err
	}

	var cm *ipv4.ControlMessage
	n, cm, src, err = c.p4.ReadFrom(c.buf)
	if cm != nil {
		ttl = cm.TTL
	}
	return n, ttl, src, err
}

func addrFrom(a net.Addr) netip.Addr {
	var ip net.IP
	var zone string
	switch v := a.(type) {
	case *net.IPAddr:
		ip, zone = v.IP, v.Zone
	case *net.UDPAddr:
		ip, zone = v.IP, v.Zone
	default:
		return netip.Addr{}
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	addr = addr.Unmap()
	if zone != "" && addr.Is6() {
		addr = addr.WithZone(zone)
	}
	return addr
}
