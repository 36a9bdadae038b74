package pinger

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yuuki/icmping/internal/config"
	"github.com/yuuki/icmping/internal/icmp"
	"github.com/yuuki/icmping/internal/pacing"
	"github.com/yuuki/icmping/internal/transport"
	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// loopback answers each request immediately unless silent is set.
type loopback struct {
	mu      sync.Mutex
	silent  bool
	pending []*transport.Packet
	closed  int
}

func (l *loopback) Send(dst netip.Addr, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.silent {
		return nil
	}
	req, err := icmp.DecodeMessage(icmp.IPv4, b)
	if err != nil {
		return err
	}
	reply, err := (&xicmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &xicmp.Echo{ID: int(req.ID), Seq: int(req.Seq), Data: req.Payload},
	}).Marshal(nil)
	if err != nil {
		return err
	}
	l.pending = append(l.pending, &transport.Packet{Data: reply, Src: dst, TTL: 64, ReceivedAt: time.Now()})
	return nil
}

func (l *loopback) Receive(ctx context.Context, deadline time.Time) (*transport.Packet, error) {
	l.mu.Lock()
	if len(l.pending) > 0 {
		p := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	select {
	case <-time.After(time.Until(deadline)):
		return nil, transport.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(family icmp.Family) (transport.Transceiver, error) {
	args := m.Called(family)
	var rx transport.Transceiver
	if v := args.Get(0); v != nil {
		rx = v.(transport.Transceiver)
	}
	return rx, args.Error(1)
}

func testConfig(count int) *config.Config {
	return &config.Config{
		Host:     "127.0.0.1",
		Count:    count,
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Size:     icmp.DefaultPayloadSize,
		LogLevel: "error",
		NoColor:  true,
	}
}

func TestRun_Replies(t *testing.T) {
	rx := &loopback{}
	opener := &mockOpener{}
	opener.On("Open", icmp.IPv4).Return(rx, nil).Once()

	var out bytes.Buffer
	p, err := New(context.Background(), testConfig(3), "test",
		WithOutput(&out), WithOpener(opener.Open), WithPolicy(pacing.Unrestricted))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", p.Destination().String())

	require.NoError(t, p.Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "PING 127.0.0.1 (127.0.0.1): 56 data bytes")
	assert.Contains(t, s, "64 bytes from 127.0.0.1: icmp_seq=0 ttl=64")
	assert.Contains(t, s, "icmp_seq=2")
	assert.Contains(t, s, "--- 127.0.0.1 ping statistics ---")
	assert.Contains(t, s, "transmitted=3 received=3 loss=0.0%")
	assert.Equal(t, 1, rx.closed)
	opener.AssertExpectations(t)
}

func TestRun_NoReplies(t *testing.T) {
	rx := &loopback{silent: true}

	var out bytes.Buffer
	p, err := New(context.Background(), testConfig(2), "test",
		WithOutput(&out), WithOpener(func(icmp.Family) (transport.Transceiver, error) { return rx, nil }),
		WithPolicy(pacing.Unrestricted))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoReplies)
	assert.Contains(t, out.String(), "Request timeout for icmp_seq 1")
	assert.Contains(t, out.String(), "transmitted=2 received=0 loss=100.0%")
	assert.Equal(t, 1, rx.closed)
}

func TestRun_CancelledBeforeAnyProbe(t *testing.T) {
	rx := &loopback{}

	var out bytes.Buffer
	p, err := New(context.Background(), testConfig(0), "test",
		WithOutput(&out), WithOpener(func(icmp.Family) (transport.Transceiver, error) { return rx, nil }),
		WithPolicy(pacing.Unrestricted))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// nothing was sent, so there is nothing to fail on
	require.NoError(t, p.Run(ctx))
	assert.Contains(t, out.String(), "transmitted=0 received=0")
	assert.Equal(t, 1, rx.closed)
}

func TestRun_UnboundedStopsOnCancel(t *testing.T) {
	rx := &loopback{}
	cfg := testConfig(0)
	cfg.Interval = 20 * time.Millisecond

	var out bytes.Buffer
	p, err := New(context.Background(), cfg, "test",
		WithOutput(&out), WithOpener(func(icmp.Family) (transport.Transceiver, error) { return rx, nil }),
		WithPolicy(pacing.Unrestricted))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Contains(t, out.String(), "ping statistics")
	assert.Equal(t, 1, rx.closed)
}

func TestRun_PermissionDenied(t *testing.T) {
	opener := &mockOpener{}
	opener.On("Open", icmp.IPv4).Return(nil, transport.ErrPermissionDenied)

	p, err := New(context.Background(), testConfig(1), "test",
		WithOutput(&bytes.Buffer{}), WithOpener(opener.Open))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrPermissionDenied)
}

func TestNew_ResolutionFailure(t *testing.T) {
	cfg := testConfig(1)
	cfg.Host = "2001:db8::1"
	cfg.IPv4 = true

	_, err := New(context.Background(), cfg, "test")
	assert.Error(t, err)
}
