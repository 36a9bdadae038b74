package report

import (
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/yuuki/icmping/internal/probe"
	"github.com/yuuki/icmping/internal/session"
)

// Reporter prints the per-probe lines and the final summary.
type Reporter struct {
	out      zerolog.Logger
	renderer *lipgloss.Renderer
	noColor  bool
}

// New returns a Reporter writing to w. Colour is only used when w is a
// terminal that supports it and noColor is false.
func New(w io.Writer, noColor bool) *Reporter {
	return &Reporter{
		out: zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    true,
			PartsOrder: []string{zerolog.MessageFieldName},
		}),
		renderer: lipgloss.NewRenderer(w),
		noColor:  noColor,
	}
}

// Start prints the banner for a run.
func (r *Reporter) Start(host string, dst netip.Addr, payloadSize int) {
	r.printf("PING %s (%s): %d data bytes", host, dst, payloadSize)
}

// Outcome prints one line for a resolved probe.
func (r *Reporter) Outcome(o probe.Outcome) {
	switch o.Kind {
	case probe.Replied:
		ttl := ""
		if o.TTL >= 0 {
			ttl = fmt.Sprintf(" ttl=%d", o.TTL)
		}
		r.printf("%d bytes from %s: icmp_seq=%d%s time=%s",
			o.Size, o.Src, o.Seq, ttl, r.paintRTT(o.RTT))
	case probe.TimedOut:
		r.printf("Request timeout for icmp_seq %d", o.Seq)
	case probe.Unreachable:
		r.printf("From %s icmp_seq=%d %s", o.Src, o.Seq, o.Reason)
	case probe.SendFailed:
		r.printf("Failed to send icmp_seq=%d: %v", o.Seq, o.Err)
	case probe.DecodeError:
		r.printf("Corrupt reply from %s icmp_seq=%d: %v", o.Src, o.Seq, o.Err)
	}
}

// Summary prints the statistics block for host.
func (r *Reporter) Summary(host string, st session.Statistics) {
	r.printf("")
	r.printf("--- %s ping statistics ---", host)
	r.printf("transmitted=%d received=%d loss=%.1f%% time=%s",
		st.Sent, st.Replied, st.LossPercent, st.Elapsed.Round(time.Millisecond))
	if st.Replied > 0 {
		r.printf("min=%s avg=%s max=%s stddev=%s",
			r.paintRTT(st.MinRTT), r.paintRTT(st.AvgRTT), r.paintRTT(st.MaxRTT), formatRTT(st.StdDevRTT))
	}
}

func (r *Reporter) paintRTT(rtt time.Duration) string {
	s := formatRTT(rtt)
	if r.noColor {
		return s
	}
	return r.renderer.NewStyle().Foreground(lipgloss.Color(rttColour(rtt))).Render(s)
}

func (r *Reporter) printf(format string, args ...any) {
	r.out.Log().Msgf(format, args...)
}

// formatRTT renders a duration in milliseconds with microsecond precision.
func formatRTT(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}
