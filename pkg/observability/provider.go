package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// ObservabilityConfig selects which signals a Provider produces.
type ObservabilityConfig struct {
	// Tracing configuration
	EnableTracing bool
	TracingConfig TracingConfig

	// Metrics configuration
	EnableMetrics bool
	MetricsConfig MetricsConfig
	// ServeMetrics starts the HTTP exposition endpoint in Start
	ServeMetrics bool

	// Frame logging in the transport middleware
	EnableLogging bool
	LogPayloads   bool
}

// Provider bundles the metrics and tracing observers built from one config.
type Provider struct {
	config  ObservabilityConfig
	logger  logging.Logger
	metrics *Metrics
	tracing *TracingProvider
}

// NewProvider builds the enabled signals. A config with everything disabled
// yields a provider whose observer does nothing.
func NewProvider(config ObservabilityConfig, logger logging.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Provider{config: config, logger: logger.WithFields(logging.Component("Observability"))}

	if config.EnableMetrics {
		m, err := NewMetrics(config.MetricsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		p.metrics = m
	}
	if config.EnableTracing {
		t, err := NewTracingProvider(config.TracingConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracing provider: %w", err)
		}
		p.tracing = t
	}
	return p, nil
}

// Metrics returns the metrics collector, or nil when metrics are disabled.
func (p *Provider) Metrics() *Metrics { return p.metrics }

// Tracing returns the tracing provider, or nil when tracing is disabled.
func (p *Provider) Tracing() *TracingProvider { return p.tracing }

// Observer returns the session observer fanning out to every enabled signal.
func (p *Provider) Observer() session.Observer {
	var observers []session.Observer
	if p.metrics != nil {
		observers = append(observers, p.metrics)
	}
	if p.tracing != nil {
		observers = append(observers, p.tracing)
	}
	return session.MultiObserver(observers...)
}

// Middleware returns transport middleware reporting frames to the metrics
// collector and, if enabled, logging them.
func (p *Provider) Middleware() transport.Middleware {
	cfg := transport.ObservabilityConfig{
		EnableLogging: p.config.EnableLogging,
		LogPayloads:   p.config.LogPayloads,
	}
	if p.metrics != nil {
		cfg.EnableMetrics = true
		cfg.Observer = p.metrics
	}
	return transport.NewObservabilityMiddleware(cfg, p.logger)
}

// Start starts the metrics endpoint when ServeMetrics is set.
func (p *Provider) Start(ctx context.Context) error {
	if p.metrics == nil || !p.config.ServeMetrics {
		return nil
	}
	if err := p.metrics.Start(ctx); err != nil {
		return err
	}
	p.logger.Info("metrics endpoint started",
		logging.String("addr", p.metrics.config.MetricsAddr),
		logging.String("path", p.metrics.config.MetricsPath))
	return nil
}

// Shutdown stops the metrics endpoint and flushes spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	if p.tracing != nil {
		errs = append(errs, p.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
