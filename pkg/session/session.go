package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// RequestHandler serves one inbound request. The returned value is encoded
// as the result; a returned error becomes an ErrorResponse. MCP errors keep
// their code, anything else is sent as an internal error.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// cancelNoticeTimeout bounds the best-effort notifications/cancelled write.
const cancelNoticeTimeout = 5 * time.Second

// Session is one end of a JSON-RPC connection. It correlates responses with
// the requests that caused them, dispatches inbound requests to handlers and
// inbound notifications to the router, and runs the initialize handshake.
// The same type serves both roles; the server and client packages configure
// it.
type Session struct {
	id                string
	codec             *protocol.Codec
	logger            logging.Logger
	observer          Observer
	router            *Router
	defaultTimeout    time.Duration
	supportedVersions []string
	initHandler       InitializeHandler

	nextID atomic.Int64

	mu         sync.Mutex
	state      State
	transport  transport.Transport
	connected  bool
	closed     bool
	pending    map[protocol.RequestID]*pendingCall
	abandoned  map[protocol.RequestID]struct{}
	inflight   map[protocol.RequestID]*inflightRequest
	negotiated *Negotiated

	handlersMu sync.RWMutex
	handlers   map[protocol.Method]RequestHandler

	ctx       context.Context
	cancel    context.CancelFunc
	handlerWG sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method   protocol.Method
	ch       chan callResult
	progress ProgressFunc
}

type inflightRequest struct {
	cancel          context.CancelFunc
	cancelledByPeer atomic.Bool
}

// New creates an unconnected session.
func New(opts ...Option) *Session {
	s := &Session{
		id:                uuid.NewString(),
		codec:             protocol.NewCodec(),
		logger:            logging.Default(),
		observer:          nopObserver{},
		supportedVersions: protocol.SupportedVersions(),
		pending:           make(map[protocol.RequestID]*pendingCall),
		abandoned:         make(map[protocol.RequestID]struct{}),
		inflight:          make(map[protocol.RequestID]*inflightRequest),
		handlers:          make(map[protocol.Method]RequestHandler),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.Component("Session"), logging.SessionID(s.id))
	s.router = NewRouter(s.logger)
	return s
}

// ID returns the identifier used in logs.
func (s *Session) ID() string { return s.id }

// Codec returns the codec the session encodes and decodes with.
func (s *Session) Codec() *protocol.Codec { return s.codec }

// Router returns the notification router.
func (s *Session) Router() *Router { return s.router }

// Connect attaches the transport and starts the receive loop. A session can
// be connected once. Cancelling ctx ends the session as if the transport had
// closed.
func (s *Session) Connect(ctx context.Context, t transport.Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mcperrors.ConnectionClosed(nil)
	}
	if s.connected {
		s.mu.Unlock()
		return mcperrors.AlreadyConnected()
	}
	s.connected = true
	s.transport = t
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Debug("session connected")
	go s.receiveLoop()
	return nil
}

// Done is closed once the receive loop has stopped and every inbound handler
// has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session. Pending requests fail with a connection closed
// error and the transport is closed, which interrupts a blocked read. Close
// does not wait; use Done for that.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.state = StateClosed
		t := s.transport
		connected := s.connected
		s.mu.Unlock()

		s.failPending(mcperrors.ConnectionClosed(nil))
		if !connected {
			close(s.done)
			return
		}
		s.cancel()
		if cerr := t.Close(); cerr != nil && !transport.IsClosed(cerr) {
			err = cerr
		}
	})
	return err
}

// OnRequest registers the handler for method, replacing any previous one.
func (s *Session) OnRequest(method protocol.Method, handler RequestHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = handler
}

// OnNotification registers a listener for method. Every listener registered
// for a method is called, in registration order.
func (s *Session) OnNotification(method protocol.Method, listener NotificationListener) (unsubscribe func()) {
	return s.router.On(method, listener)
}

// OnAnyNotification registers a listener called for every notification.
func (s *Session) OnAnyNotification(listener NotificationListener) (unsubscribe func()) {
	return s.router.OnAny(listener)
}

// SendRequest sends a request and waits for its outcome. The first of these
// wins: the peer's response, the deadline (WithTimeout, the session default
// or the ctx deadline), cancellation of ctx, or the end of the session.
func (s *Session) SendRequest(ctx context.Context, method protocol.Method, params interface{}, opts ...RequestOption) (json.RawMessage, error) {
	cfg := requestConfig{timeout: s.defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := s.checkOutbound(method); err != nil {
		return nil, err
	}

	id := protocol.IntID(s.nextID.Add(1))
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.ValidationError(err.Error())
	}
	if cfg.progress != nil {
		meta, err := protocol.ParamsMeta(req.Params)
		if err != nil {
			return nil, mcperrors.ValidationError(err.Error())
		}
		meta.SetProgressToken(id)
		if req.Params, err = protocol.WithParamsMeta(req.Params, meta); err != nil {
			return nil, mcperrors.ValidationError(err.Error())
		}
	}

	frame, err := s.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	call := &pendingCall{method: method, ch: make(chan callResult, 1), progress: cfg.progress}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, mcperrors.ConnectionClosed(nil)
	}
	s.pending[id] = call
	t := s.transport
	s.mu.Unlock()

	ctx, finish := s.observer.StartRequest(ctx, Outbound, method)
	start := time.Now()
	logger := s.logger.WithFields(logging.Method(string(method)), logging.RequestID(id))

	if err := t.Send(ctx, frame); err != nil {
		s.removePending(id)
		err = s.sendError(ctx, method, err)
		finish(err)
		return nil, err
	}
	logger.Debug("request sent")

	var timeout <-chan time.Time
	if cfg.timeout > 0 {
		timer := time.NewTimer(cfg.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var res callResult
	select {
	case res = <-call.ch:
	case <-timeout:
		if s.abandon(id) {
			res.err = mcperrors.Timeout(string(method), cfg.timeout)
			s.sendCancelNotice(id, "request timed out")
		} else {
			res = <-call.ch
		}
	case <-ctx.Done():
		if s.abandon(id) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				res.err = mcperrors.Timeout(string(method), time.Since(start).Round(time.Millisecond))
				s.sendCancelNotice(id, "request timed out")
			} else {
				reason := "request cancelled by caller"
				if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
					reason = cause.Error()
				}
				res.err = mcperrors.Cancelled(string(method), reason)
				s.sendCancelNotice(id, reason)
			}
		} else {
			res = <-call.ch
		}
	}

	finish(res.err)
	if res.err != nil {
		logger.WithError(res.err).Debug("request failed", logging.Duration("duration", time.Since(start)))
		return nil, res.err
	}
	logger.Debug("request completed", logging.Duration("duration", time.Since(start)))
	return res.result, nil
}

// SendNotification encodes and writes a notification.
func (s *Session) SendNotification(ctx context.Context, method protocol.Method, params interface{}) error {
	s.mu.Lock()
	t := s.transport
	closed := s.closed
	s.mu.Unlock()
	if closed || t == nil {
		return mcperrors.ConnectionClosed(nil)
	}

	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.ValidationError(err.Error())
	}
	frame, err := s.codec.Encode(n)
	if err != nil {
		return err
	}
	s.observer.ObserveNotification(ctx, Outbound, method)
	if err := t.Send(ctx, frame); err != nil {
		return s.sendError(ctx, method, err)
	}
	return nil
}

func (s *Session) checkOutbound(method protocol.Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.connected {
		return mcperrors.ConnectionClosed(nil)
	}
	if method != protocol.MethodInitialize && s.state != StateInitialized {
		return mcperrors.NotInitialized(string(method))
	}
	return nil
}

// sendError maps a failed write to the engine taxonomy.
func (s *Session) sendError(ctx context.Context, method protocol.Method, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return mcperrors.Timeout(string(method), 0)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return mcperrors.Cancelled(string(method), "request cancelled by caller")
	case transport.IsClosed(err):
		return mcperrors.ConnectionClosed(err)
	}
	return err
}

// maxAbandoned bounds how many timed out or cancelled ids are remembered so
// their late responses can be told apart from stray ones.
const maxAbandoned = 1024

// removePending deletes the pending entry for id and reports whether it was
// still there. Whoever removes the entry decides the outcome.
func (s *Session) removePending(id protocol.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

// abandon removes id like removePending and remembers it as given up on.
func (s *Session) abandon(id protocol.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	if len(s.abandoned) >= maxAbandoned {
		clear(s.abandoned)
	}
	s.abandoned[id] = struct{}{}
	return true
}

func (s *Session) resolve(id protocol.RequestID, res callResult) {
	s.mu.Lock()
	call, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	_, late := s.abandoned[id]
	delete(s.abandoned, id)
	s.mu.Unlock()

	switch {
	case ok:
	case late:
		s.logger.Debug("dropping late response", logging.RequestID(id))
		s.observer.ObserveDropped(DropLateResponse)
		return
	default:
		s.logger.Debug("dropping response for unknown request", logging.RequestID(id))
		s.observer.ObserveDropped(DropUnmatchedResponse)
		return
	}
	call.ch <- res
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	calls := s.pending
	s.pending = make(map[protocol.RequestID]*pendingCall)
	s.mu.Unlock()

	for _, call := range calls {
		call.ch <- callResult{err: err}
	}
}

// sendCancelNotice tells the peer to abandon id without waiting for the write.
func (s *Session) sendCancelNotice(id protocol.RequestID, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cancelNoticeTimeout)
		defer cancel()
		params := protocol.CancelledParams{RequestID: id, Reason: reason}
		if err := s.SendNotification(ctx, protocol.MethodCancelled, params); err != nil {
			s.logger.Debug("failed to send cancellation", logging.RequestID(id), logging.ErrorField(err))
		}
	}()
}

func (s *Session) receiveLoop() {
	var cause error
	defer func() {
		s.shutdown(cause)
		s.handlerWG.Wait()
		close(s.done)
	}()

	for {
		frame, err := s.transport.Receive(s.ctx)
		if err != nil {
			cause = err
			return
		}

		msg, err := s.codec.Decode(frame)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed frame")
			s.observer.ObserveDropped(DropMalformed)
			continue
		}

		switch m := msg.(type) {
		case *protocol.Response:
			s.resolve(m.ID, callResult{result: m.Result})
		case *protocol.ErrorResponse:
			if !m.ID.IsValid() {
				s.logger.Warn("peer reported an error without a request id",
					logging.Int("code", m.Error.Code), logging.String("error_message", m.Error.Message))
				continue
			}
			s.resolve(m.ID, callResult{err: m.Error.Err()})
		case *protocol.Notification:
			s.handleNotification(m)
		case *protocol.Request:
			s.handleRequest(m)
		}
	}
}

// shutdown runs when the receive loop stops for any reason.
func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	s.closed = true
	s.state = StateClosed
	s.mu.Unlock()

	if cause != nil && !transport.IsClosed(cause) && !errors.Is(cause, context.Canceled) {
		s.logger.WithError(cause).Warn("receive loop stopped")
	} else {
		s.logger.Debug("receive loop stopped")
	}
	s.failPending(mcperrors.ConnectionClosed(cause))
	s.cancel()
	_ = s.transport.Close()
}

func (s *Session) handleNotification(n *protocol.Notification) {
	ctx := s.ctx
	s.observer.ObserveNotification(ctx, Inbound, n.Method)

	switch n.Method {
	case protocol.MethodInitialized:
		s.markInitialized()
	case protocol.MethodCancelled:
		s.cancelInflight(n.Params)
	case protocol.MethodProgress:
		s.routeProgress(n.Params)
	}

	s.router.Dispatch(ctx, n)
}

func (s *Session) cancelInflight(params json.RawMessage) {
	var p protocol.CancelledParams
	if err := json.Unmarshal(params, &p); err != nil || !p.RequestID.IsValid() {
		s.logger.Debug("ignoring malformed cancellation")
		return
	}
	s.mu.Lock()
	req, ok := s.inflight[p.RequestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	req.cancelledByPeer.Store(true)
	req.cancel()
	s.logger.Debug("peer cancelled request", logging.RequestID(p.RequestID), logging.String("reason", p.Reason))
}

func (s *Session) routeProgress(params json.RawMessage) {
	var p protocol.ProgressParams
	if err := json.Unmarshal(params, &p); err != nil || !p.ProgressToken.IsValid() {
		return
	}
	s.mu.Lock()
	call, ok := s.pending[p.ProgressToken]
	s.mu.Unlock()
	if !ok || call.progress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("progress callback panicked", logging.Any("panic", rec))
		}
	}()
	call.progress(p)
}

func (s *Session) handleRequest(req *protocol.Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	entry := &inflightRequest{cancel: cancel}

	s.mu.Lock()
	s.inflight[req.ID] = entry
	s.mu.Unlock()

	s.handlerWG.Add(1)
	go func() {
		defer s.handlerWG.Done()
		defer func() {
			s.mu.Lock()
			if s.inflight[req.ID] == entry {
				delete(s.inflight, req.ID)
			}
			s.mu.Unlock()
			cancel()
		}()

		ctx = withRequest(ctx, s, req.ID)
		ctx, finish := s.observer.StartRequest(ctx, Inbound, req.Method)
		result, err := s.dispatch(ctx, req)
		finish(err)

		if entry.cancelledByPeer.Load() {
			s.logger.Debug("not answering cancelled request", logging.RequestID(req.ID))
			return
		}
		s.reply(req, result, err)
	}()
}

func (s *Session) dispatch(ctx context.Context, req *protocol.Request) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("request handler panicked",
				logging.Method(string(req.Method)), logging.RequestID(req.ID), logging.Any("panic", rec))
			result = nil
			err = mcperrors.InternalError(fmt.Errorf("handler panic: %v", rec))
		}
	}()

	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(ctx, req.Params)
	case protocol.MethodPing:
		return protocol.EmptyResult{}, nil
	}

	if !s.IsInitialized() {
		return nil, mcperrors.InvalidRequest(fmt.Sprintf("%s before initialization completed", req.Method))
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		return nil, mcperrors.MethodNotFound(string(req.Method))
	}
	return handler(ctx, req.Params)
}

func (s *Session) reply(req *protocol.Request, result interface{}, err error) {
	var msg protocol.Message
	if err == nil {
		resp, mErr := protocol.NewResponse(req.ID, result)
		if mErr != nil {
			err = mcperrors.InternalError(mErr)
		} else {
			msg = resp
		}
	}
	if err != nil {
		s.logger.WithError(err).Debug("request handler failed",
			logging.Method(string(req.Method)), logging.RequestID(req.ID))
		msg = protocol.NewErrorResponse(req.ID, err)
	}

	frame, encErr := s.codec.Encode(msg)
	if encErr != nil {
		s.logger.WithError(encErr).Error("failed to encode reply", logging.RequestID(req.ID))
		frame, encErr = s.codec.Encode(protocol.NewErrorResponse(req.ID, mcperrors.InternalError(encErr)))
		if encErr != nil {
			return
		}
	}
	if sendErr := s.transport.Send(s.ctx, frame); sendErr != nil {
		s.logger.WithError(sendErr).Debug("failed to send reply", logging.RequestID(req.ID))
	}
}

type contextKey int

const (
	sessionKey contextKey = iota
	requestIDKey
)

func withRequest(ctx context.Context, s *Session, id protocol.RequestID) context.Context {
	ctx = context.WithValue(ctx, sessionKey, s)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return logging.ContextWithRequestID(ctx, id.String())
}

// FromContext returns the session serving the request a handler runs for.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// RequestIDFromContext returns the id of the request a handler runs for.
func RequestIDFromContext(ctx context.Context) (protocol.RequestID, bool) {
	id, ok := ctx.Value(requestIDKey).(protocol.RequestID)
	return id, ok
}
