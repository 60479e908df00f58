package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// SSE event types. The server announces where to POST with an endpoint
// event and delivers every frame as a message event.
const (
	sseEventEndpoint = "endpoint"
	sseEventMessage  = "message"

	// SSESessionParam is the query parameter naming the session on POSTs.
	SSESessionParam = "sessionId"
)

// SSEServer serves the server half of the SSE transport. HandleSSE opens an
// event stream per client and HandleMessage accepts the client's POSTed
// frames.
type SSEServer struct {
	messageURL string
	serve      func(ctx context.Context, t Transport)
	maxSize    int
	logger     logging.Logger

	mu       sync.Mutex
	sessions map[string]*SSEServerTransport
	closed   bool
}

// NewSSEServer creates a server. messageURL is the address clients POST to,
// usually the path HandleMessage is mounted on. serve runs once per client
// for as long as the stream is open.
func NewSSEServer(messageURL string, config TransportConfig, serve func(ctx context.Context, t Transport)) *SSEServer {
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxSize := config.Performance.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &SSEServer{
		messageURL: messageURL,
		serve:      serve,
		maxSize:    maxSize,
		logger:     logger.WithFields(logging.Component("SSEServer")),
		sessions:   make(map[string]*SSEServerTransport),
	}
}

// HandleSSE returns the handler for the event stream. It blocks until the
// client disconnects, the session's serve function returns or the server
// closes.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			s.logger.WithError(err).Error("failed to upgrade session")
			http.Error(w, "failed to upgrade session", http.StatusInternalServerError)
			return
		}

		st := s.register()
		if st == nil {
			http.Error(w, "server closed", http.StatusServiceUnavailable)
			return
		}
		logger := s.logger.WithFields(logging.SessionID(st.id))
		defer st.Close()

		endpoint := sse.Message{Type: sse.Type(sseEventEndpoint)}
		endpoint.AppendData(fmt.Sprintf("%s?%s=%s", s.messageURL, SSESessionParam, st.id))
		if err := sess.Send(&endpoint); err != nil {
			logger.WithError(err).Warn("failed to write endpoint event")
			return
		}
		if err := sess.Flush(); err != nil {
			logger.WithError(err).Warn("failed to flush endpoint event")
			return
		}

		served := make(chan struct{})
		go func() {
			defer close(served)
			defer st.Close()
			s.serve(r.Context(), st)
		}()
		defer func() {
			st.Close()
			<-served
		}()

		logger.Debug("sse session opened")
		for {
			frame, err := st.outbound.pop(r.Context())
			if err != nil {
				logger.Debug("sse session ended", logging.ErrorField(err))
				return
			}
			msg := sse.Message{Type: sse.Type(sseEventMessage)}
			msg.AppendData(string(frame))
			if err := sess.Send(&msg); err != nil {
				logger.WithError(err).Warn("failed to send message")
				return
			}
			if err := sess.Flush(); err != nil {
				logger.WithError(err).Warn("failed to flush message")
				return
			}
		}
	})
}

// HandleMessage returns the handler for POSTed frames. The frame is queued
// for the session and the request is answered with 202 Accepted.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get(SSESessionParam)
		st := s.lookup(id)
		if st == nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.maxSize)))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		if err := st.inbound.push(body); err != nil {
			http.Error(w, "session closed", http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

// SessionCount returns the number of open streams.
func (s *SSEServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends every open stream and refuses new ones.
func (s *SSEServer) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*SSEServerTransport, 0, len(s.sessions))
	for _, st := range s.sessions {
		sessions = append(sessions, st)
	}
	s.mu.Unlock()

	for _, st := range sessions {
		_ = st.Close()
	}
	return nil
}

func (s *SSEServer) register() *SSEServerTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	st := &SSEServerTransport{
		id:       uuid.NewString(),
		inbound:  newFrameQueue(),
		outbound: newFrameQueue(),
	}
	st.onClose = func() { s.unregister(st.id) }
	s.sessions[st.id] = st
	return st
}

func (s *SSEServer) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *SSEServer) lookup(id string) *SSEServerTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// SSEServerTransport is the server's view of one SSE client.
type SSEServerTransport struct {
	id       string
	inbound  *frameQueue
	outbound *frameQueue

	closeOnce sync.Once
	onClose   func()
}

// ID returns the session id sent to the client in the endpoint event.
func (t *SSEServerTransport) ID() string { return t.id }

// Send queues frame as a message event.
func (t *SSEServerTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.outbound.push(copyFrame(frame))
}

// Receive returns the next POSTed frame.
func (t *SSEServerTransport) Receive(ctx context.Context) ([]byte, error) {
	return t.inbound.pop(ctx)
}

// Close ends the stream once queued message events are written.
func (t *SSEServerTransport) Close() error {
	t.closeOnce.Do(func() {
		t.inbound.close(true)
		t.outbound.close(false)
		if t.onClose != nil {
			t.onClose()
		}
	})
	return nil
}

// SSEClientTransport is the client half of the SSE transport: frames arrive
// on a long-lived event stream and are sent as HTTP POSTs.
type SSEClientTransport struct {
	client     *http.Client
	messageURL string
	inbound    *frameQueue
	logger     logging.Logger

	cancel    context.CancelFunc
	readDone  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// DialSSE opens the event stream at endpoint and waits for the server to
// announce its message URL. ctx bounds the connection attempt only.
func DialSSE(ctx context.Context, endpoint string, config TransportConfig) (*SSEClientTransport, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, mcperrors.TransportError("SSETransport", "parse_endpoint", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxSize := config.Performance.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, mcperrors.TransportError("SSETransport", "create_request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, mcperrors.TransportError("SSETransport", "connect", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, mcperrors.TransportError("SSETransport", "connect",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	t := &SSEClientTransport{
		client:   client,
		inbound:  newFrameQueue(),
		logger:   logger.WithFields(logging.Component("SSETransport")),
		cancel:   cancel,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	ready := make(chan error, 1)
	go t.readLoop(resp.Body, base, maxSize, ready)

	select {
	case err := <-ready:
		if err != nil {
			t.Close()
			return nil, err
		}
		return t, nil
	case <-ctx.Done():
		t.Close()
		return nil, mcperrors.TransportError("SSETransport", "await_endpoint", ctx.Err())
	}
}

func (t *SSEClientTransport) readLoop(body io.ReadCloser, base *url.URL, maxSize int, ready chan<- error) {
	defer close(t.readDone)
	defer body.Close()
	defer t.inbound.close(false)

	announced := false
	defer func() {
		if !announced {
			ready <- mcperrors.TransportError("SSETransport", "await_endpoint",
				errors.New("stream ended before endpoint event"))
		}
	}()

	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: maxSize}) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.WithError(err).Debug("sse stream ended")
			}
			return
		}

		switch ev.Type {
		case sseEventEndpoint:
			if announced {
				continue
			}
			u, err := url.Parse(ev.Data)
			if err != nil || ev.Data == "" {
				ready <- mcperrors.TransportError("SSETransport", "parse_endpoint",
					fmt.Errorf("invalid endpoint %q", ev.Data))
				announced = true
				return
			}
			t.messageURL = base.ResolveReference(u).String()
			announced = true
			ready <- nil
		case sseEventMessage, "":
			if !announced {
				continue
			}
			if err := t.inbound.push([]byte(ev.Data)); err != nil {
				return
			}
		default:
			t.logger.Debug("ignoring sse event", logging.String("type", ev.Type))
		}
	}
}

// Send POSTs frame to the announced message URL.
func (t *SSEClientTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.messageURL, bytes.NewReader(frame))
	if err != nil {
		return mcperrors.TransportError("SSETransport", "create_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return mcperrors.TransportError("SSETransport", "post_message", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrClosed
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return mcperrors.TransportError("SSETransport", "post_message",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// Receive returns the next message event.
func (t *SSEClientTransport) Receive(ctx context.Context) ([]byte, error) {
	return t.inbound.pop(ctx)
}

// Close drops the event stream.
func (t *SSEClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.cancel()
		t.inbound.close(true)
		<-t.readDone
		t.client.CloseIdleConnections()
	})
	return nil
}
