package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yuuki/icmping/internal/probe"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
)

const (
	meterName      = "github.com/yuuki/icmping"
	exportInterval = 10 * time.Second
)

// Metrics holds the instruments fed from probe outcomes.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	rttHistogram       metric.Float64Histogram
	replyCounter       metric.Int64Counter
	timeoutCounter     metric.Int64Counter
	unreachableCounter metric.Int64Counter
	sendErrorCounter   metric.Int64Counter
	decodeErrorCounter metric.Int64Counter
}

// NewMetrics creates a meter provider exporting over OTLP to collectorAddr.
// The scheme picks the exporter: grpc (default), grpcs, http or https.
func NewMetrics(ctx context.Context, version, collectorAddr string) (*Metrics, error) {
	scheme, endpoint, err := parseCollectorAddr(collectorAddr)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("icmping"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	var exporter sdkmetric.Exporter
	switch scheme {
	case "grpc", "grpcs":
		options := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithDialOption(grpc.WithUserAgent("icmping/" + version)),
		}
		if scheme == "grpc" {
			options = append(options, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, options...)
	case "http", "https":
		options := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(endpoint),
		}
		if scheme == "http" {
			options = append(options, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, options...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter (%s://%s): %w", scheme, endpoint, err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval)),
		),
	)
	otel.SetMeterProvider(provider)

	return newMetrics(provider)
}

// newMetrics registers the instruments on provider.
func newMetrics(provider *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{provider: provider}

	var err error
	if m.rttHistogram, err = meter.Float64Histogram(
		"icmping.rtt",
		metric.WithDescription("Round-trip time of answered probes in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.replyCounter, "icmping.reply", "Number of answered probes"},
		{&m.timeoutCounter, "icmping.timeout", "Number of probe timeouts"},
		{&m.unreachableCounter, "icmping.unreachable", "Number of probes answered with an ICMP error"},
		{&m.sendErrorCounter, "icmping.send_error", "Number of probes that could not be sent"},
		{&m.decodeErrorCounter, "icmping.decode_error", "Number of probes answered with a corrupt reply"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("{count}"),
		); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one probe outcome.
func (m *Metrics) Observe(ctx context.Context, out probe.Outcome) {
	attrs := metric.WithAttributes(
		attribute.String("dst", out.Dst.String()),
		attribute.String("family", out.Family.String()),
	)

	switch out.Kind {
	case probe.Replied:
		m.rttHistogram.Record(ctx, float64(out.RTT)/float64(time.Millisecond), attrs)
		m.replyCounter.Add(ctx, 1, attrs)
	case probe.TimedOut:
		m.timeoutCounter.Add(ctx, 1, attrs)
	case probe.Unreachable:
		m.unreachableCounter.Add(ctx, 1, attrs)
	case probe.SendFailed:
		m.sendErrorCounter.Add(ctx, 1, attrs)
	case probe.DecodeError:
		m.decodeErrorCounter.Add(ctx, 1, attrs)
	}
}

// Shutdown flushes pending data and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// parseCollectorAddr splits an address such as "grpc://otel:4317",
// "https://collector.example.com" or a bare "localhost:4317" into exporter
// scheme and host:port endpoint.
func parseCollectorAddr(addr string) (scheme, endpoint string, err error) {
	if addr == "" {
		return "", "", fmt.Errorf("otel-collector-addr is empty")
	}

	if !strings.Contains(addr, "://") {
		if !strings.Contains(addr, ":") || strings.Contains(addr, "/") {
			return "", "", fmt.Errorf("otel-collector-addr '%s' is not a valid schemeless address (e.g. localhost:4317)", addr)
		}
		return "grpc", addr, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse otel-collector-addr '%s': %w", addr, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("otel-collector-addr '%s' is missing a host", addr)
	}

	scheme = strings.ToLower(u.Scheme)
	switch scheme {
	case "grpc", "grpcs", "http", "https":
		return scheme, u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported OTLP exporter protocol scheme: '%s' in %s. Use 'grpc', 'grpcs', 'http', or 'https'", u.Scheme, addr)
	}
}
