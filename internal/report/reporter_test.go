package report

import (
	"bytes"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/yuuki/icmping/internal/probe"
	"github.com/yuuki/icmping/internal/session"
)

func TestRTTColour(t *testing.T) {
	// hue 100 at 0ms
	assert.Equal(t, "#55ff00", rttColour(0))
	assert.Equal(t, colorful.Hsl(40, 1, 0.5).Hex(), rttColour(60*time.Millisecond))
	assert.Equal(t, "#ff0000", rttColour(100*time.Millisecond))
	assert.Equal(t, "#ff0000", rttColour(3*time.Second))
	assert.Equal(t, "#55ff00", rttColour(-time.Millisecond))
	assert.NotEqual(t, rttColour(20*time.Millisecond), rttColour(60*time.Millisecond))
}

func TestFormatRTT(t *testing.T) {
	assert.Equal(t, "10.250ms", formatRTT(10250*time.Microsecond))
	assert.Equal(t, "0.000ms", formatRTT(0))
}

func TestOutcomeLines(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.1")

	tests := []struct {
		name string
		in   probe.Outcome
		want string
	}{
		{
			"replied",
			probe.Outcome{Kind: probe.Replied, Seq: 3, Src: src, Size: 64, TTL: 57, RTT: 12 * time.Millisecond},
			"64 bytes from 192.0.2.1: icmp_seq=3 ttl=57 time=12.000ms",
		},
		{
			"replied without ttl",
			probe.Outcome{Kind: probe.Replied, Seq: 0, Src: src, Size: 64, TTL: -1, RTT: time.Millisecond},
			"64 bytes from 192.0.2.1: icmp_seq=0 time=1.000ms",
		},
		{"timed out", probe.Outcome{Kind: probe.TimedOut, Seq: 9}, "Request timeout for icmp_seq 9"},
		{
			"unreachable",
			probe.Outcome{Kind: probe.Unreachable, Seq: 1, Src: src, Reason: "destination host unreachable"},
			"From 192.0.2.1 icmp_seq=1 destination host unreachable",
		},
		{
			"send failed",
			probe.Outcome{Kind: probe.SendFailed, Seq: 2, Err: errors.New("network is unreachable")},
			"Failed to send icmp_seq=2: network is unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, true).Outcome(tt.in)
			assert.Equal(t, tt.want, strings.TrimSpace(buf.String()))
		})
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, true)

	r.Summary("example.com", session.Statistics{
		Sent:        4,
		Replied:     3,
		Lost:        1,
		LossPercent: 25,
		MinRTT:      10 * time.Millisecond,
		AvgRTT:      20 * time.Millisecond,
		MaxRTT:      30 * time.Millisecond,
		StdDevRTT:   8 * time.Millisecond,
		Elapsed:     3 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "--- example.com ping statistics ---")
	assert.Contains(t, out, "transmitted=4 received=3 loss=25.0% time=3s")
	assert.Contains(t, out, "min=10.000ms avg=20.000ms max=30.000ms stddev=8.000ms")
}

func TestSummary_NoReplies(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, true).Summary("192.0.2.1", session.Statistics{Sent: 2, Lost: 2, LossPercent: 100})

	out := buf.String()
	assert.Contains(t, out, "transmitted=2 received=0 loss=100.0%")
	assert.NotContains(t, out, "min=")
}
