// Package observability turns session and transport events into Prometheus
// metrics and OpenTelemetry spans.
//
// Metrics and TracingProvider both implement session.Observer; Metrics also
// implements transport.FrameObserver. Provider builds both from one
// ObservabilityConfig:
//
//	p, err := observability.NewProvider(observability.ObservabilityConfig{
//		EnableMetrics: true,
//		EnableTracing: true,
//	}, logger)
//	s := session.New(session.WithObserver(p.Observer()))
//	t := p.Middleware().Wrap(base)
package observability
