package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification, added as constant labels
	ServiceName    string
	ServiceVersion string
	Environment    string

	// HTTP exposition
	MetricsPath string // default: /metrics
	MetricsAddr string // default: :9090

	// Metric options
	Namespace        string    // default: mcp
	Subsystem        string    // optional
	HistogramBuckets []float64 // request latency buckets in seconds

	// Labels to add to all metrics
	ConstLabels prometheus.Labels
}

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeClosed      = "closed"
	OutcomeRemoteError = "remote_error"
	OutcomeError       = "error"
)

// Metrics collects session and transport metrics in its own registry. It
// implements session.Observer and transport.FrameObserver, so one value can
// be handed to both layers.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	frameBytes      *prometheus.CounterVec

	mu     sync.Mutex
	server *http.Server
}

var (
	_ session.Observer        = (*Metrics)(nil)
	_ transport.FrameObserver = (*Metrics)(nil)
)

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsAddr == "" {
		config.MetricsAddr = ":9090"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	}
	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		labels["environment"] = config.Environment
	}
	config.ConstLabels = labels

	m := &Metrics{config: config, registry: prometheus.NewRegistry()}
	m.requestsTotal = config.counterVec("requests_total", "JSON-RPC requests by direction, method and outcome",
		"direction", "method", "outcome")
	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "request_duration_seconds",
		Help:        "JSON-RPC request latency",
		ConstLabels: config.ConstLabels,
		Buckets:     config.HistogramBuckets,
	}, []string{"direction", "method"})
	m.inFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "requests_in_flight",
		Help:        "Requests awaiting a response",
		ConstLabels: config.ConstLabels,
	}, []string{"direction"})
	m.notifications = config.counterVec("notifications_total", "JSON-RPC notifications by direction and method",
		"direction", "method")
	m.dropped = config.counterVec("dropped_messages_total", "Inbound messages dropped by the session", "reason")
	m.framesTotal = config.counterVec("frames_total", "Transport frames by direction and outcome",
		"direction", "outcome")
	m.frameBytes = config.counterVec("frame_bytes_total", "Transport payload bytes by direction", "direction")

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.inFlight, m.notifications,
		m.dropped, m.framesTotal, m.frameBytes,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

func (c MetricsConfig) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.ConstLabels,
	}, labels)
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartRequest implements session.Observer.
func (m *Metrics) StartRequest(ctx context.Context, dir session.Direction, method protocol.Method) (context.Context, func(error)) {
	start := time.Now()
	gauge := m.inFlight.WithLabelValues(string(dir))
	gauge.Inc()
	return ctx, func(err error) {
		gauge.Dec()
		m.requestDuration.WithLabelValues(string(dir), string(method)).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(string(dir), string(method), Outcome(err)).Inc()
	}
}

// ObserveNotification implements session.Observer.
func (m *Metrics) ObserveNotification(_ context.Context, dir session.Direction, method protocol.Method) {
	m.notifications.WithLabelValues(string(dir), string(method)).Inc()
}

// ObserveDropped implements session.Observer.
func (m *Metrics) ObserveDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// ObserveFrame implements transport.FrameObserver.
func (m *Metrics) ObserveFrame(direction string, size int, _ time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.framesTotal.WithLabelValues(direction, outcome).Inc()
	if err == nil {
		m.frameBytes.WithLabelValues(direction).Add(float64(size))
	}
}

// Outcome classifies a request error for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, mcperrors.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, mcperrors.ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, mcperrors.ErrConnectionClosed):
		return OutcomeClosed
	case mcperrors.IsRemote(err):
		return OutcomeRemoteError
	default:
		return OutcomeError
	}
}

// Start serves the metrics endpoint on MetricsAddr until Shutdown.
func (m *Metrics) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return fmt.Errorf("metrics server already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", m.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := m.server
	go func() {
		_ = server.Serve(ln)
	}()
	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.mu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
