package pinger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yuuki/icmping/internal/config"
	"github.com/yuuki/icmping/internal/icmp"
	"github.com/yuuki/icmping/internal/pacing"
	"github.com/yuuki/icmping/internal/probe"
	"github.com/yuuki/icmping/internal/report"
	"github.com/yuuki/icmping/internal/resolve"
	"github.com/yuuki/icmping/internal/session"
	"github.com/yuuki/icmping/internal/telemetry"
	"github.com/yuuki/icmping/internal/transport"
)

// ErrNoReplies is returned by Run when probes were sent but none was answered.
var ErrNoReplies = errors.New("no replies received")

const (
	outcomeBufferSize = 64
	shutdownTimeout   = 5 * time.Second
)

// OpenFunc opens the transceiver for a run.
type OpenFunc func(family icmp.Family) (transport.Transceiver, error)

// Option customises a Pinger.
type Option func(*Pinger)

// WithOutput sends the per-probe lines and summary to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pinger) { p.out = w }
}

// WithOpener replaces the raw socket opener.
func WithOpener(open OpenFunc) Option {
	return func(p *Pinger) { p.open = open }
}

// WithPolicy overrides the pacing policy picked from the build and uid.
func WithPolicy(policy pacing.Policy) Option {
	return func(p *Pinger) { p.policy = policy }
}

// WithSignals makes Run stop on SIGINT/SIGTERM; a second signal exits the
// process at once.
func WithSignals() Option {
	return func(p *Pinger) { p.signals = true }
}

// Pinger runs one ping session against a resolved destination.
type Pinger struct {
	cfg     *config.Config
	version string
	dst     netip.Addr
	policy  pacing.Policy
	out     io.Writer
	open    OpenFunc
	signals bool
}

// New prepares a run: it sets up logging and resolves the destination.
// Resolution failure is fatal.
func New(ctx context.Context, cfg *config.Config, version string, opts ...Option) (*Pinger, error) {
	initLogging(cfg.LogLevel)

	p := &Pinger{
		cfg:     cfg,
		version: version,
		policy:  pacing.DefaultPolicy(),
		out:     os.Stdout,
		open: func(family icmp.Family) (transport.Transceiver, error) {
			return transport.Open(family)
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	dst, err := resolve.Resolve(ctx, cfg.Host, cfg.Preference())
	if err != nil {
		return nil, err
	}
	p.dst = dst

	if cfg.Timeout > cfg.Interval {
		log.Warn().
			Dur("timeout", cfg.Timeout).
			Dur("interval", cfg.Interval).
			Msg("Timeout is longer than the interval; probes will be spaced by the reply wait")
	}

	log.Debug().
		Str("host", cfg.Host).
		Str("dst", dst.String()).
		Str("policy", p.policy.Name).
		Msg("Pinger created")
	return p, nil
}

// Destination returns the resolved address.
func (p *Pinger) Destination() netip.Addr {
	return p.dst
}

// Run probes the destination until the configured count is reached or ctx
// is cancelled, then prints the summary. The summary is printed even when
// the run aborts on a fatal error.
func (p *Pinger) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.signals {
		stop := p.handleSignals(cancel)
		defer stop()
	}

	family := icmp.FamilyOf(p.dst)
	rx, err := p.open(family)
	if err != nil {
		return fmt.Errorf("open %s ICMP socket: %w", family, err)
	}
	defer func() {
		if err := rx.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close ICMP socket")
		}
	}()

	var metrics *telemetry.Metrics
	if p.cfg.MetricsEnabled {
		metrics, err = telemetry.NewMetrics(ctx, p.version, p.cfg.OtelCollectorAddr)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush metrics")
			}
		}()
	}

	reporter := report.New(p.out, p.cfg.NoColor)
	prober := probe.NewProber(
		probe.Config{
			Dst:         p.dst,
			Count:       p.cfg.Count,
			Timeout:     p.cfg.Timeout,
			PayloadSize: p.cfg.Size,
		},
		rx,
		pacing.New(p.cfg.Interval, p.policy, nil),
		session.New(session.RandomID(), nil),
	)

	outcomes := make(chan probe.Outcome, outcomeBufferSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go resultHandler(&wg, outcomes, reporter, metrics)

	reporter.Start(p.cfg.Host, p.dst, p.cfg.Size)
	stats, runErr := prober.Run(ctx, outcomes)
	close(outcomes)
	wg.Wait()

	reporter.Summary(p.cfg.Host, stats)

	if runErr != nil {
		return runErr
	}
	if stats.Sent > 0 && stats.Replied == 0 {
		return ErrNoReplies
	}
	return nil
}

// resultHandler drains outcomes into the reporter and, when enabled, the
// metrics until the channel is closed.
func resultHandler(wg *sync.WaitGroup, outcomes <-chan probe.Outcome, reporter *report.Reporter, metrics *telemetry.Metrics) {
	defer wg.Done()
	log.Debug().Msg("Result handler started")

	for out := range outcomes {
		log.Debug().
			Str("kind", out.Kind.String()).
			Uint16("seq", out.Seq).
			Float64("rtt_ms", float64(out.RTT)/float64(time.Millisecond)).
			Msg("Received probe outcome")

		reporter.Outcome(out)
		if metrics != nil {
			// outcomes keep flowing after cancellation; record them anyway
			metrics.Observe(context.Background(), out)
		}
	}
	log.Debug().Msg("Probe outcome channel closed")
}

// handleSignals cancels the run on the first SIGINT/SIGTERM and exits the
// process on the second. The returned func uninstalls the handler.
func (p *Pinger) handleSignals(cancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Debug().Str("signal", sig.String()).Msg("Received signal, stopping")
			cancel()
		case <-done:
			return
		}

		select {
		case <-sigCh:
			log.Warn().Msg("Received second signal, forcing immediate exit...")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func initLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
