package server

import (
	"context"
	"net/http"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// serveTransport adapts Serve to the callbacks of the HTTP transports.
func (s *Server) serveTransport(ctx context.Context, t transport.Transport) {
	if err := s.Serve(ctx, t); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Warn("connection ended with error")
	}
}

// WebSocketHandler serves one connection per upgraded request.
func (s *Server) WebSocketHandler(config transport.TransportConfig) http.Handler {
	if config.Logger == nil {
		config.Logger = s.logger
	}
	return logging.HTTPMiddleware(config.Logger)(transport.WebSocketHandler(config, s.serveTransport))
}

// SSEServer serves one connection per event stream. Mount HandleSSE and
// HandleMessage of the result; messageURL is where HandleMessage lives.
func (s *Server) SSEServer(messageURL string, config transport.TransportConfig) *transport.SSEServer {
	if config.Logger == nil {
		config.Logger = s.logger
	}
	s.logger.Debug("sse transport configured", logging.String("message_url", messageURL))
	return transport.NewSSEServer(messageURL, config, s.serveTransport)
}

// SSEHandler mounts the stream and message endpoints of sse on one handler
// with request logging.
func (s *Server) SSEHandler(sse *transport.SSEServer, streamPath, messagePath string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(streamPath, sse.HandleSSE())
	mux.Handle(messagePath, sse.HandleMessage())
	return logging.HTTPMiddleware(s.logger)(mux)
}
