package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// Frame directions reported to a FrameObserver.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// FrameObserver receives one call per frame crossing a transport. The
// observability package provides a Prometheus implementation.
type FrameObserver interface {
	ObserveFrame(direction string, size int, duration time.Duration, err error)
}

// FrameObserverFunc adapts a function to FrameObserver.
type FrameObserverFunc func(direction string, size int, duration time.Duration, err error)

// ObserveFrame implements FrameObserver.
func (f FrameObserverFunc) ObserveFrame(direction string, size int, duration time.Duration, err error) {
	f(direction, size, duration, err)
}

// ObservabilityMiddleware logs frames and reports them to a FrameObserver
type ObservabilityMiddleware struct {
	config ObservabilityConfig
	logger logging.Logger
}

// NewObservabilityMiddleware creates a new observability middleware
func NewObservabilityMiddleware(config ObservabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ObservabilityMiddleware{
		config: config,
		logger: logger.WithFields(logging.Component("ObservabilityMiddleware")),
	}
}

// Wrap implements the Middleware interface
func (om *ObservabilityMiddleware) Wrap(transport Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          om,
	}
}

// observabilityTransport wraps a transport with observability features
type observabilityTransport struct {
	middlewareTransport
	middleware *ObservabilityMiddleware
}

// Send wraps the underlying Send with logging and metrics
func (ot *observabilityTransport) Send(ctx context.Context, frame []byte) error {
	start := time.Now()
	err := ot.middlewareTransport.Send(ctx, frame)
	ot.middleware.record(DirectionOutbound, frame, time.Since(start), err)
	return err
}

// Receive wraps the underlying Receive with logging and metrics. Waiting
// time is not a latency, so inbound frames report a zero duration.
func (ot *observabilityTransport) Receive(ctx context.Context) ([]byte, error) {
	frame, err := ot.middlewareTransport.Receive(ctx)
	if err != nil && (IsClosed(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return frame, err
	}
	ot.middleware.record(DirectionInbound, frame, 0, err)
	return frame, err
}

func (om *ObservabilityMiddleware) record(direction string, frame []byte, duration time.Duration, err error) {
	if om.config.EnableMetrics && om.config.Observer != nil {
		om.config.Observer.ObserveFrame(direction, len(frame), duration, err)
	}
	if !om.config.EnableLogging {
		return
	}

	fields := []logging.Field{
		logging.String("direction", direction),
		logging.Int("size", len(frame)),
	}
	if duration > 0 {
		fields = append(fields, logging.Duration("duration", duration))
	}
	if om.config.LogPayloads && err == nil {
		fields = append(fields, logging.String("payload", string(frame)))
	}

	if err != nil {
		om.logger.WithError(err).Warn("frame transfer failed", fields...)
		return
	}
	om.logger.Debug("frame", fields...)
}
