package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/yuuki/icmping/internal/icmp"
	"github.com/yuuki/icmping/internal/resolve"
)

const (
	envPrefix          = "ICMPING"
	DefaultConfigPath  = "icmping.yaml"
	defaultCount       = 0
	defaultIntervalSec = 1.0
	defaultTimeoutSec  = 2.0
	defaultLogLevel    = "info"
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// Config holds the settings of one ping run.
type Config struct {
	Host              string
	Count             int
	Interval          time.Duration
	Timeout           time.Duration
	Size              int
	IPv4              bool
	IPv6              bool
	LogLevel          string
	NoColor           bool
	MetricsEnabled    bool
	OtelCollectorAddr string
}

// SetupFlags registers the command line flags on fs.
func SetupFlags(fs *pflag.FlagSet) {
	fs.IntP("count", "c", defaultCount, "Stop after sending this many probes (0 = until interrupted)")
	fs.Float64P("interval", "i", defaultIntervalSec, "Seconds to wait between probes")
	fs.Float64P("timeout", "W", defaultTimeoutSec, "Seconds to wait for each reply")
	fs.IntP("size", "s", icmp.DefaultPayloadSize, "Number of payload bytes to send")
	fs.BoolP("ipv4", "4", false, "Use IPv4 only")
	fs.BoolP("ipv6", "6", false, "Use IPv6 only")
	fs.String("log-level", defaultLogLevel, "Log level (trace, debug, info, warn, error)")
	fs.Bool("no-color", false, "Disable coloured RTT output")
	fs.Bool("metrics-enabled", false, "Export probe metrics over OTLP")
	fs.String("otel-collector-addr", "", "OpenTelemetry collector address (grpc://host:4317, http://host:4318, ...)")
	fs.String("config", "", "Path to a configuration file")
	fs.Bool("create-config", false, "Write a default configuration file and exit")
	fs.String("config-output", DefaultConfigPath, "Where --create-config writes the file")
}

// Load builds the configuration for host from flags, ICMPING_* environment
// variables and an optional YAML file, in that order of precedence.
func Load(fs *pflag.FlagSet, host string) (*Config, error) {
	v := viper.New()

	v.SetDefault("count", defaultCount)
	v.SetDefault("interval", defaultIntervalSec)
	v.SetDefault("timeout", defaultTimeoutSec)
	v.SetDefault("size", icmp.DefaultPayloadSize)
	v.SetDefault("ipv4", false)
	v.SetDefault("ipv6", false)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("no-color", false)
	v.SetDefault("metrics-enabled", false)
	v.SetDefault("otel-collector-addr", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
	}

	configPath := v.GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("icmping")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.icmping")
		v.AddConfigPath("/etc/icmping")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Host:              host,
		Count:             v.GetInt("count"),
		Interval:          seconds(v.GetFloat64("interval")),
		Timeout:           seconds(v.GetFloat64("timeout")),
		Size:              v.GetInt("size"),
		IPv4:              v.GetBool("ipv4"),
		IPv6:              v.GetBool("ipv6"),
		LogLevel:          strings.ToLower(v.GetString("log-level")),
		NoColor:           v.GetBool("no-color"),
		MetricsEnabled:    v.GetBool("metrics-enabled"),
		OtelCollectorAddr: v.GetString("otel-collector-addr"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the probe engine cannot run with.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("destination host is required")
	}
	if c.Count < 0 {
		return fmt.Errorf("count must not be negative: %d", c.Count)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative: %s", c.Interval)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}
	if c.Size < 0 || c.Size > icmp.MaxPayloadSize {
		return fmt.Errorf("size must be between 0 and %d bytes: %d", icmp.MaxPayloadSize, c.Size)
	}
	if c.IPv4 && c.IPv6 {
		return fmt.Errorf("--ipv4 and --ipv6 are mutually exclusive")
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("unknown log level %q (want one of %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.MetricsEnabled && c.OtelCollectorAddr == "" {
		return fmt.Errorf("metrics-enabled requires otel-collector-addr")
	}
	return nil
}

// Preference returns the address family preference for resolution.
func (c *Config) Preference() resolve.Preference {
	switch {
	case c.IPv4:
		return resolve.IPv4Only
	case c.IPv6:
		return resolve.IPv6Only
	default:
		return resolve.Any
	}
}

// WriteDefaultConfig writes a configuration file with the default values.
func WriteDefaultConfig(path string) error {
	content := `# icmping configuration
count: 0 # 0 = until interrupted
interval: 1.0 # seconds between probes
timeout: 2.0 # seconds to wait for each reply
size: 56 # payload bytes
ipv4: false
ipv6: false
log-level: "info" # trace, debug, info, warn, error
no-color: false
metrics-enabled: false
otel-collector-addr: "" # e.g. grpc://localhost:4317
`
	return writeConfigFile(path, content)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func validLogLevel(level string) bool {
	for _, l := range validLogLevels {
		if l == level {
			return true
		}
	}
	return false
}
