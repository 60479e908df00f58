package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// Transport moves whole frames between two peers. A frame is exactly one
// encoded JSON-RPC message; framing on the wire is the transport's concern.
//
// Send may be called from many goroutines. Receive is called from a single
// receive loop and blocks until a frame arrives, ctx ends or the transport is
// closed. Close must unblock a pending Receive.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Errors
var (
	// ErrClosed is returned by Send and Receive once the transport or its
	// peer has closed.
	ErrClosed = errors.New("transport closed")

	ErrUnsupportedTransportType = errors.New("unsupported transport type")
)

// IsClosed reports whether err means the connection is gone for good.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}

// TransportType identifies the base transport implementation
type TransportType string

const (
	TransportTypeStdio     TransportType = "stdio"
	TransportTypeWebSocket TransportType = "websocket"
	TransportTypeSSE       TransportType = "sse"
)

// TransportConfig is the unified configuration for client-side transports
type TransportConfig struct {
	// Type of transport to create
	Type TransportType `json:"type"`

	// Endpoint is the URL dialled by websocket and SSE transports
	Endpoint string `json:"endpoint,omitempty"`

	// Custom reader/writer for stdio; os.Stdin/os.Stdout otherwise
	StdioReader io.Reader `json:"-"`
	StdioWriter io.Writer `json:"-"`

	// Feature configuration
	Features FeatureConfig `json:"features"`

	// Component configurations
	Connection    ConnectionConfig    `json:"connection"`
	Reliability   ReliabilityConfig   `json:"reliability"`
	Observability ObservabilityConfig `json:"observability"`
	Performance   PerformanceConfig   `json:"performance"`

	// Logger used by the transport and its middleware
	Logger logging.Logger `json:"-"`
}

// FeatureConfig controls which middleware are enabled
type FeatureConfig struct {
	EnableReliability   bool `json:"enable_reliability"`
	EnableObservability bool `json:"enable_observability"`
}

// ConnectionConfig for connection management
type ConnectionConfig struct {
	Timeout   time.Duration `json:"timeout"`
	KeepAlive time.Duration `json:"keep_alive"`
}

// ReliabilityConfig for retry and resilience
type ReliabilityConfig struct {
	MaxRetries         int                  `json:"max_retries"`
	InitialRetryDelay  time.Duration        `json:"initial_retry_delay"`
	MaxRetryDelay      time.Duration        `json:"max_retry_delay"`
	RetryBackoffFactor float64              `json:"retry_backoff_factor"`
	CircuitBreaker     CircuitBreakerConfig `json:"circuit_breaker"`
}

// CircuitBreakerConfig for circuit breaker pattern
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// ObservabilityConfig for frame logging and metrics
type ObservabilityConfig struct {
	EnableMetrics bool `json:"enable_metrics"`
	EnableLogging bool `json:"enable_logging"`
	// LogPayloads includes frame bodies in debug records
	LogPayloads bool `json:"log_payloads"`
	// Observer receives frame counts when metrics are enabled
	Observer FrameObserver `json:"-"`
}

// PerformanceConfig for performance tuning
type PerformanceConfig struct {
	// MaxMessageSize bounds a single frame read from a stream transport
	MaxMessageSize int `json:"max_message_size"`
	// ReceiveBuffer is the number of decoded frames queued ahead of Receive
	ReceiveBuffer int `json:"receive_buffer"`
}

// DefaultMaxMessageSize is the frame limit used when none is configured.
const DefaultMaxMessageSize = 4 << 20

// DefaultTransportConfig returns a transport configuration with sensible defaults
func DefaultTransportConfig(transportType TransportType) TransportConfig {
	return TransportConfig{
		Type: transportType,
		Features: FeatureConfig{
			EnableReliability:   false,
			EnableObservability: true,
		},
		Connection: ConnectionConfig{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:         3,
			InitialRetryDelay:  100 * time.Millisecond,
			MaxRetryDelay:      5 * time.Second,
			RetryBackoffFactor: 2.0,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
		},
		Performance: PerformanceConfig{
			MaxMessageSize: DefaultMaxMessageSize,
			ReceiveBuffer:  64,
		},
	}
}

// NewTransport creates and connects a client-side transport described by
// config and wraps it in the configured middleware chain.
func NewTransport(ctx context.Context, config TransportConfig) (Transport, error) {
	if err := validateTransportConfig(config); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = logging.Nop()
	}

	var (
		base Transport
		err  error
	)
	switch config.Type {
	case TransportTypeStdio:
		base = newStdioTransport(config)
	case TransportTypeWebSocket:
		dialCtx, cancel := withOptionalTimeout(ctx, config.Connection.Timeout)
		defer cancel()
		base, err = DialWebSocket(dialCtx, config.Endpoint, config)
	case TransportTypeSSE:
		dialCtx, cancel := withOptionalTimeout(ctx, config.Connection.Timeout)
		defer cancel()
		base, err = DialSSE(dialCtx, config.Endpoint, config)
	default:
		return nil, ErrUnsupportedTransportType
	}
	if err != nil {
		return nil, err
	}

	return ChainMiddleware(NewMiddlewareBuilder(config).Build()...).Wrap(base), nil
}

// validateTransportConfig validates the transport configuration
func validateTransportConfig(config TransportConfig) error {
	switch config.Type {
	case TransportTypeStdio:
		return nil
	case TransportTypeWebSocket, TransportTypeSSE:
		if config.Endpoint == "" {
			return fmt.Errorf("endpoint is required for %s transports", config.Type)
		}
		return nil
	default:
		return ErrUnsupportedTransportType
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func copyFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}
