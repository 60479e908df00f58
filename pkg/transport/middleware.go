package transport

import (
	"context"
)

// Middleware represents a transport middleware that can wrap a transport
// to add additional functionality like reliability, observability, etc.
type Middleware interface {
	// Wrap wraps the given transport with middleware functionality
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware chains multiple middleware together
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(transport Transport) Transport {
		// Apply in reverse so the first middleware is the outermost
		for i := len(middleware) - 1; i >= 0; i-- {
			transport = middleware[i].Wrap(transport)
		}
		return transport
	})
}

// middlewareTransport is a base type for middleware implementations
type middlewareTransport struct {
	next Transport
}

// Send delegates to the wrapped transport
func (m *middlewareTransport) Send(ctx context.Context, frame []byte) error {
	return m.next.Send(ctx, frame)
}

// Receive delegates to the wrapped transport
func (m *middlewareTransport) Receive(ctx context.Context) ([]byte, error) {
	return m.next.Receive(ctx)
}

// Close delegates to the wrapped transport
func (m *middlewareTransport) Close() error {
	return m.next.Close()
}

// Unwrap returns the wrapped transport.
func (m *middlewareTransport) Unwrap() Transport {
	return m.next
}

// MiddlewareBuilder builds middleware from configuration
type MiddlewareBuilder struct {
	config TransportConfig
}

// NewMiddlewareBuilder creates a new middleware builder
func NewMiddlewareBuilder(config TransportConfig) *MiddlewareBuilder {
	return &MiddlewareBuilder{config: config}
}

// Build constructs the middleware chain based on configuration.
// Observability is outermost so it sees every retry as one frame.
func (mb *MiddlewareBuilder) Build() []Middleware {
	var middleware []Middleware

	if mb.config.Features.EnableObservability {
		middleware = append(middleware, NewObservabilityMiddleware(mb.config.Observability, mb.config.Logger))
	}

	if mb.config.Features.EnableReliability {
		middleware = append(middleware, NewReliabilityMiddleware(mb.config.Reliability, mb.config.Logger))
	}

	return middleware
}
