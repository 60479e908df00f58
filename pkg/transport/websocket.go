package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// WebSocketSubprotocol is offered on dial and accepted on the server side.
const WebSocketSubprotocol = "mcp"

// WebSocketTransport carries one frame per text message.
type WebSocketTransport struct {
	conn   *websocket.Conn
	logger logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWebSocketTransport(conn *websocket.Conn, config TransportConfig) *WebSocketTransport {
	maxSize := config.Performance.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	conn.SetReadLimit(int64(maxSize))

	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &WebSocketTransport{
		conn:   conn,
		logger: logger.WithFields(logging.Component("WebSocketTransport")),
		done:   make(chan struct{}),
	}
}

// DialWebSocket connects to a websocket endpoint.
func DialWebSocket(ctx context.Context, endpoint string, config TransportConfig) (*WebSocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		Subprotocols: []string{WebSocketSubprotocol},
	})
	if err != nil {
		return nil, mcperrors.TransportError("WebSocketTransport", "dial", err)
	}
	return newWebSocketTransport(conn, config), nil
}

// AcceptWebSocket upgrades an HTTP request to a websocket transport.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, config TransportConfig) (*WebSocketTransport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{WebSocketSubprotocol},
	})
	if err != nil {
		return nil, mcperrors.TransportError("WebSocketTransport", "accept", err)
	}
	return newWebSocketTransport(conn, config), nil
}

// WebSocketHandler returns a handler that upgrades each request and passes
// the transport to serve. The connection lives as long as serve runs; the
// transport is closed when it returns.
func WebSocketHandler(config TransportConfig, serve func(ctx context.Context, t Transport)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, err := AcceptWebSocket(w, r, config)
		if err != nil {
			if config.Logger != nil {
				config.Logger.WithError(err).Warn("websocket upgrade failed")
			}
			return
		}
		defer t.Close()
		serve(r.Context(), t)
	})
}

// Send writes frame as a single text message.
func (t *WebSocketTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if err := t.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return t.mapError("write_message", err)
	}
	return nil
}

// Receive returns the next text message. Binary messages are skipped.
func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, t.mapError("read_message", err)
		}
		if typ != websocket.MessageText {
			t.logger.Debug("skipping binary message", logging.Int("size", len(data)))
			continue
		}
		return data, nil
	}
}

// Close performs the closing handshake.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil && websocket.CloseStatus(err) != -1 {
			err = nil
		}
	})
	return err
}

func (t *WebSocketTransport) mapError(op string, err error) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) || IsClosed(err) {
		return ErrClosed
	}
	return mcperrors.TransportError("WebSocketTransport", op, err)
}
