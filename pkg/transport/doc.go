// Package transport moves whole JSON-RPC frames between two peers.
//
// A Transport knows nothing about message shapes: Send writes one encoded
// message, Receive returns the next one and Close tears the connection down.
// Decoding, correlation and dispatch live in the session package.
//
// # Supported Transports
//
// StdioTransport:
//   - Newline-delimited frames over a reader and a writer
//   - The default for servers launched as subprocesses
//
// WebSocketTransport:
//   - One text message per frame
//   - DialWebSocket on the client, WebSocketHandler or AcceptWebSocket on the server
//
// SSE:
//   - The server streams frames as "message" events and announces a POST
//     address in an initial "endpoint" event
//   - DialSSE on the client, SSEServer on the server
//
// PipeTransport and MockTransport are in-memory transports for tests.
//
// # Configuration
//
// Client transports are created from a TransportConfig:
//
//	config := transport.DefaultTransportConfig(transport.TransportTypeWebSocket)
//	config.Endpoint = "ws://localhost:8080/mcp"
//	config.Features.EnableReliability = true
//	t, err := transport.NewTransport(ctx, config)
//
// # Middleware System
//
// NewTransport wraps the base transport in the configured middleware:
//
//   - ObservabilityMiddleware: frame logging and a FrameObserver hook for metrics
//   - ReliabilityMiddleware: send retries with exponential backoff and a circuit breaker
//
// Custom middleware implement the Middleware interface and are combined with
// ChainMiddleware, first argument outermost.
package transport
