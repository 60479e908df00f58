// Package mcp is the entry point of a bidirectional JSON-RPC protocol engine
// for Model Context Protocol peers.
//
// The engine is split into packages that can be used on their own:
//
//   - pkg/protocol: message records, codec, capabilities and versions
//   - pkg/session: request correlation, handshake, timeouts and cancellation
//   - pkg/transport: stdio, WebSocket, SSE and in-memory transports plus
//     middleware
//   - pkg/server and pkg/client: the two roles built on a session
//   - pkg/tasks: long-running requests with status polling and pushes
//   - pkg/pagination: opaque cursors and page collection
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//   - pkg/config: file and environment configuration
//
// This package re-exports the constructors most programs need.
//
//	srv := mcp.NewServer(mcp.WithServerName("files"))
//	go srv.Serve(ctx, serverEnd)
//
//	c := mcp.NewClient(mcp.WithClientInfo("agent", "1.0.0"))
//	_ = c.Connect(ctx, clientEnd)
//	_, _ = c.Initialize(ctx)
package mcp
