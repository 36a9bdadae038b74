package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuuki/icmping/internal/icmp"
)

// openOrSkip opens a raw socket or skips the test when the process lacks
// the privilege to do so.
func openOrSkip(t *testing.T, family icmp.Family) *Conn {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping raw socket test on Windows")
	}
	c, err := Open(family)
	if err != nil {
		t.Skipf("Open(%s) failed (needs root or CAP_NET_RAW): %v", family, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendError(t *testing.T) {
	err := &SendError{Dst: netip.MustParseAddr("192.0.2.1"), Err: syscall.ENETUNREACH}

	assert.Contains(t, err.Error(), "192.0.2.1")
	assert.True(t, errors.Is(err, syscall.ENETUNREACH))

	var sendErr *SendError
	wrapped := errors.Join(errors.New("probe 3"), err)
	require.True(t, errors.As(wrapped, &sendErr))
	assert.Equal(t, "192.0.2.1", sendErr.Dst.String())
}

func TestAddrFrom(t *testing.T) {
	assert.Equal(t, "10.0.0.1", addrFrom(&net.IPAddr{IP: net.ParseIP("10.0.0.1")}).String())
	assert.Equal(t, "fe80::1%eth0", addrFrom(&net.IPAddr{IP: net.ParseIP("fe80::1"), Zone: "eth0"}).String())
	assert.Equal(t, "8.8.8.8", addrFrom(&net.UDPAddr{IP: net.ParseIP("8.8.8.8")}).String())
	assert.False(t, addrFrom(nil).IsValid())
}

func TestOpen_UnsupportedFamily(t *testing.T) {
	_, err := Open(icmp.Family(5))
	assert.Error(t, err)
}

func TestReceive_TimeoutBounds(t *testing.T) {
	c := openOrSkip(t, icmp.IPv4)

	const wait = 200 * time.Millisecond
	start := time.Now()
	_, err := c.Receive(context.Background(), start.Add(wait))
	elapsed := time.Since(start)

	// unrelated ICMP traffic may arrive meanwhile; it must not end the wait
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, wait-time.Millisecond)
	assert.Less(t, elapsed, wait+50*time.Millisecond)
}

func TestReceive_Cancelled(t *testing.T) {
	c := openOrSkip(t, icmp.IPv4)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Receive(ctx, start.Add(5*time.Second))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReceive_AlreadyCancelled(t *testing.T) {
	c := openOrSkip(t, icmp.IPv4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Receive(ctx, time.Now().Add(time.Second))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoopbackEcho(t *testing.T) {
	c := openOrSkip(t, icmp.IPv4)
	dst := netip.MustParseAddr("127.0.0.1")

	req, err := icmp.EncodeRequest(icmp.IPv4, 0xabcd, 1, make([]byte, icmp.DefaultPayloadSize))
	require.NoError(t, err)
	require.NoError(t, c.Send(dst, req))

	deadline := time.Now().Add(2 * time.Second)
	for {
		pkt, err := c.Receive(context.Background(), deadline)
		require.NoError(t, err)

		msg, err := icmp.DecodeMessage(icmp.IPv4, pkt.Data)
		require.NoError(t, err)
		if msg.Kind != icmp.KindEchoReply || msg.ID != 0xabcd {
			continue
		}

		assert.Equal(t, uint16(1), msg.Seq)
		assert.Equal(t, dst, pkt.Src)
		assert.False(t, pkt.ReceivedAt.IsZero())
		return
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := openOrSkip(t, icmp.IPv4)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	_, err := c.Receive(context.Background(), time.Now().Add(10*time.Millisecond))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}
