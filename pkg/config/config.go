// Package config loads engine configuration from YAML files and MCP_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/observability"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// EnvPrefix prefixes every environment override, e.g. MCP_LOG_LEVEL=debug.
const EnvPrefix = "MCP"

// Config is the root configuration shared by clients and servers.
type Config struct {
	// Name and Version identify this peer during the handshake
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`

	Session    SessionConfig    `mapstructure:"session"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Pagination PaginationConfig `mapstructure:"pagination"`
}

// SessionConfig controls request handling.
type SessionConfig struct {
	// RequestTimeout bounds outbound requests without their own timeout
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ProtocolVersions are the accepted versions, most preferred first
	ProtocolVersions []string `mapstructure:"protocol_versions"`
}

// TransportConfig selects and tunes the transport.
type TransportConfig struct {
	// Kind: stdio, websocket or sse
	Kind     string `mapstructure:"kind"`
	Endpoint string `mapstructure:"endpoint"`
	// Listen is the address served by server-side websocket and sse transports
	Listen         string            `mapstructure:"listen"`
	MaxMessageSize int               `mapstructure:"max_message_size"`
	LogFrames      bool              `mapstructure:"log_frames"`
	Reliability    ReliabilityConfig `mapstructure:"reliability"`
}

// ReliabilityConfig configures send retries.
type ReliabilityConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	MaxRetries     int                  `mapstructure:"max_retries"`
	InitialDelay   time.Duration        `mapstructure:"initial_delay"`
	MaxDelay       time.Duration        `mapstructure:"max_delay"`
	BackoffFactor  float64              `mapstructure:"backoff_factor"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig configures the send circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// Output: stdout, stderr or a file path
	Output string `mapstructure:"output"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Serve     bool   `mapstructure:"serve"`
	Addr      string `mapstructure:"addr"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Exporter    string   `mapstructure:"exporter"`
	Endpoint    string   `mapstructure:"endpoint"`
	Insecure    bool     `mapstructure:"insecure"`
	SampleRate  float64  `mapstructure:"sample_rate"`
	NeverSample []string `mapstructure:"never_sample"`
	Environment string   `mapstructure:"environment"`
}

// TasksConfig configures the server task store.
type TasksConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxTTL        time.Duration `mapstructure:"max_ttl"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PaginationConfig configures list endpoints.
type PaginationConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Name:    "mcp-engine",
		Version: "0.1.0",
		Session: SessionConfig{
			RequestTimeout:   30 * time.Second,
			ProtocolVersions: protocol.SupportedVersions(),
		},
		Transport: TransportConfig{
			Kind:           string(transport.TransportTypeStdio),
			MaxMessageSize: transport.DefaultMaxMessageSize,
			Reliability: ReliabilityConfig{
				MaxRetries:    3,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      5 * time.Second,
				BackoffFactor: 2.0,
				CircuitBreaker: CircuitBreakerConfig{
					Enabled:          true,
					FailureThreshold: 5,
					SuccessThreshold: 2,
					Timeout:          30 * time.Second,
				},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "mcp",
		},
		Tracing: TracingConfig{
			Exporter:    string(observability.ExporterTypeNoop),
			SampleRate:  1.0,
			Environment: "development",
		},
		Tasks: TasksConfig{
			DefaultTTL:    10 * time.Minute,
			MaxTTL:        24 * time.Hour,
			PollInterval:  time.Second,
			SweepInterval: 30 * time.Second,
		},
		Pagination: PaginationConfig{PageSize: 50},
	}
}

// Load reads configuration from path, or from mcp.yaml in the working
// directory, ./configs or ~/.mcp when path is empty. A missing file is not an
// error; defaults and MCP_ environment variables still apply. MCP_CONFIG
// names the file when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mcp")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mcp"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds every key so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("name", cfg.Name)
	v.SetDefault("version", cfg.Version)

	v.SetDefault("session.request_timeout", cfg.Session.RequestTimeout)
	v.SetDefault("session.protocol_versions", cfg.Session.ProtocolVersions)

	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.endpoint", cfg.Transport.Endpoint)
	v.SetDefault("transport.listen", cfg.Transport.Listen)
	v.SetDefault("transport.max_message_size", cfg.Transport.MaxMessageSize)
	v.SetDefault("transport.log_frames", cfg.Transport.LogFrames)
	r := cfg.Transport.Reliability
	v.SetDefault("transport.reliability.enabled", r.Enabled)
	v.SetDefault("transport.reliability.max_retries", r.MaxRetries)
	v.SetDefault("transport.reliability.initial_delay", r.InitialDelay)
	v.SetDefault("transport.reliability.max_delay", r.MaxDelay)
	v.SetDefault("transport.reliability.backoff_factor", r.BackoffFactor)
	v.SetDefault("transport.reliability.circuit_breaker.enabled", r.CircuitBreaker.Enabled)
	v.SetDefault("transport.reliability.circuit_breaker.failure_threshold", r.CircuitBreaker.FailureThreshold)
	v.SetDefault("transport.reliability.circuit_breaker.success_threshold", r.CircuitBreaker.SuccessThreshold)
	v.SetDefault("transport.reliability.circuit_breaker.timeout", r.CircuitBreaker.Timeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.serve", cfg.Metrics.Serve)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.exporter", cfg.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)
	v.SetDefault("tracing.never_sample", cfg.Tracing.NeverSample)
	v.SetDefault("tracing.environment", cfg.Tracing.Environment)

	v.SetDefault("tasks.default_ttl", cfg.Tasks.DefaultTTL)
	v.SetDefault("tasks.max_ttl", cfg.Tasks.MaxTTL)
	v.SetDefault("tasks.poll_interval", cfg.Tasks.PollInterval)
	v.SetDefault("tasks.sweep_interval", cfg.Tasks.SweepInterval)

	v.SetDefault("pagination.page_size", cfg.Pagination.PageSize)
}

// Validate checks the configuration and normalizes case-insensitive values.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []mcperrors.MCPError

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, mcperrors.RequiredFieldMissing("name"))
	}

	if c.Session.RequestTimeout < 0 {
		errs = append(errs, mcperrors.OutOfRange("session.request_timeout",
			c.Session.RequestTimeout.Seconds(), 0, (24 * time.Hour).Seconds()))
	}
	if len(c.Session.ProtocolVersions) == 0 {
		errs = append(errs, mcperrors.RequiredFieldMissing("session.protocol_versions"))
	}
	for _, version := range c.Session.ProtocolVersions {
		if !protocol.IsSupportedVersion(version) {
			errs = append(errs, mcperrors.InvalidEnum("session.protocol_versions", version, protocol.SupportedVersions()))
		}
	}

	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	switch transport.TransportType(c.Transport.Kind) {
	case transport.TransportTypeStdio:
	case transport.TransportTypeWebSocket, transport.TransportTypeSSE:
		if c.Transport.Endpoint == "" && c.Transport.Listen == "" {
			errs = append(errs, mcperrors.RequiredFieldMissing("transport.endpoint"))
		}
	default:
		errs = append(errs, mcperrors.InvalidEnum("transport.kind", c.Transport.Kind, []string{
			string(transport.TransportTypeStdio),
			string(transport.TransportTypeWebSocket),
			string(transport.TransportTypeSSE),
		}))
	}
	if c.Transport.MaxMessageSize <= 0 {
		c.Transport.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	if c.Transport.Reliability.MaxRetries < 0 {
		errs = append(errs, mcperrors.OutOfRange("transport.reliability.max_retries",
			float64(c.Transport.Reliability.MaxRetries), 0, 100))
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, mcperrors.InvalidEnum("log.level", c.Log.Level, []string{"debug", "info", "warn", "error"}))
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch logging.Format(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	case "":
		c.Log.Format = string(logging.FormatText)
	default:
		errs = append(errs, mcperrors.InvalidEnum("log.format", c.Log.Format,
			[]string{string(logging.FormatText), string(logging.FormatJSON)}))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, mcperrors.OutOfRange("tracing.sample_rate", c.Tracing.SampleRate, 0, 1))
	}
	switch observability.ExporterType(c.Tracing.Exporter) {
	case observability.ExporterTypeNoop, observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
	default:
		errs = append(errs, mcperrors.InvalidEnum("tracing.exporter", c.Tracing.Exporter, []string{
			string(observability.ExporterTypeNoop),
			string(observability.ExporterTypeOTLPGRPC),
			string(observability.ExporterTypeOTLPHTTP),
		}))
	}

	if c.Tasks.DefaultTTL <= 0 {
		errs = append(errs, mcperrors.RequiredFieldMissing("tasks.default_ttl"))
	}
	if c.Tasks.MaxTTL < c.Tasks.DefaultTTL {
		errs = append(errs, mcperrors.ValidationErrorf("tasks.max_ttl %s is below tasks.default_ttl %s",
			c.Tasks.MaxTTL, c.Tasks.DefaultTTL))
	}
	if c.Tasks.SweepInterval <= 0 {
		errs = append(errs, mcperrors.RequiredFieldMissing("tasks.sweep_interval"))
	}

	if c.Pagination.PageSize <= 0 {
		errs = append(errs, mcperrors.RequiredFieldMissing("pagination.page_size"))
	}

	if len(errs) == 0 {
		return nil
	}
	return mcperrors.CombineValidationErrors(errs)
}

// Logger builds the configured logger. Output names stdout, stderr or a
// file path opened for appending; the returned closer releases that file.
func (c *Config) Logger() (logging.Logger, io.Closer, error) {
	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch c.Log.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(c.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		out, closer = f, f
	}

	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(out, logging.Format(c.Log.Format))
	logger.SetLevel(level)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SessionOptions maps the session section onto session options.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithDefaultTimeout(c.Session.RequestTimeout),
		session.WithSupportedVersions(c.Session.ProtocolVersions...),
	}
}

// TransportConfig maps the transport section onto a client transport
// configuration. Frame metrics are reported to observer when it is non-nil.
func (c *Config) TransportConfig(logger logging.Logger, observer transport.FrameObserver) transport.TransportConfig {
	tc := transport.DefaultTransportConfig(transport.TransportType(c.Transport.Kind))
	tc.Endpoint = c.Transport.Endpoint
	tc.Logger = logger
	tc.Performance.MaxMessageSize = c.Transport.MaxMessageSize

	r := c.Transport.Reliability
	tc.Features.EnableReliability = r.Enabled
	tc.Reliability = transport.ReliabilityConfig{
		MaxRetries:         r.MaxRetries,
		InitialRetryDelay:  r.InitialDelay,
		MaxRetryDelay:      r.MaxDelay,
		RetryBackoffFactor: r.BackoffFactor,
		CircuitBreaker: transport.CircuitBreakerConfig{
			Enabled:          r.CircuitBreaker.Enabled,
			FailureThreshold: r.CircuitBreaker.FailureThreshold,
			SuccessThreshold: r.CircuitBreaker.SuccessThreshold,
			Timeout:          r.CircuitBreaker.Timeout,
		},
	}

	tc.Features.EnableObservability = c.Transport.LogFrames || observer != nil
	tc.Observability = transport.ObservabilityConfig{
		EnableLogging: c.Transport.LogFrames,
		EnableMetrics: observer != nil,
		Observer:      observer,
	}
	return tc
}

// ObservabilityConfig maps the metrics and tracing sections.
func (c *Config) ObservabilityConfig() observability.ObservabilityConfig {
	return observability.ObservabilityConfig{
		EnableMetrics: c.Metrics.Enabled,
		ServeMetrics:  c.Metrics.Serve,
		MetricsConfig: observability.MetricsConfig{
			ServiceName:    c.Name,
			ServiceVersion: c.Version,
			Environment:    c.Tracing.Environment,
			MetricsAddr:    c.Metrics.Addr,
			MetricsPath:    c.Metrics.Path,
			Namespace:      c.Metrics.Namespace,
		},
		EnableTracing: c.Tracing.Enabled,
		TracingConfig: observability.TracingConfig{
			ServiceName:    c.Name,
			ServiceVersion: c.Version,
			Environment:    c.Tracing.Environment,
			ExporterType:   observability.ExporterType(c.Tracing.Exporter),
			Endpoint:       c.Tracing.Endpoint,
			Insecure:       c.Tracing.Insecure,
			SampleRate:     c.Tracing.SampleRate,
			NeverSample:    c.Tracing.NeverSample,
		},
		EnableLogging: c.Transport.LogFrames,
	}
}

// Implementation returns the peer identity sent during the handshake.
func (c *Config) Implementation() protocol.Implementation {
	return protocol.Implementation{Name: c.Name, Version: c.Version}
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
