package session

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// State is the handshake state of a session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InitializeHandler builds the answer to an inbound initialize request. The
// session fills in the negotiated protocol version.
type InitializeHandler func(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error)

// Negotiated is what both peers agreed on during the handshake.
type Negotiated struct {
	ProtocolVersion    string
	ClientInfo         protocol.Implementation
	ServerInfo         protocol.Implementation
	ClientCapabilities protocol.ClientCapabilities
	ServerCapabilities protocol.ServerCapabilities
	Instructions       string
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsInitialized reports whether the handshake has completed.
func (s *Session) IsInitialized() bool {
	return s.State() == StateInitialized
}

// Negotiated returns a copy of the handshake outcome. The second value is
// false until the handshake has produced one.
func (s *Session) Negotiated() (Negotiated, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.negotiated == nil {
		return Negotiated{}, false
	}
	n := *s.negotiated
	n.ClientCapabilities = n.ClientCapabilities.Clone()
	n.ServerCapabilities = n.ServerCapabilities.Clone()
	return n, true
}

// Initialize runs the initiating side of the handshake: it sends initialize,
// checks the answered version and sends notifications/initialized. An empty
// ProtocolVersion in params is replaced by the preferred supported version.
// Initialize may be called again after a failure.
func (s *Session) Initialize(ctx context.Context, params protocol.InitializeParams, opts ...RequestOption) (*protocol.InitializeResult, error) {
	if params.ProtocolVersion == "" {
		params.ProtocolVersion = s.supportedVersions[0]
	}

	s.mu.Lock()
	switch s.state {
	case StateUninitialized, StateInitializing:
		s.state = StateInitializing
	case StateClosed:
		s.mu.Unlock()
		return nil, mcperrors.ConnectionClosed(nil)
	default:
		state := s.state
		s.mu.Unlock()
		return nil, mcperrors.InvalidRequest("initialize while " + state.String())
	}
	s.mu.Unlock()

	// A failed attempt leaves the session Initializing so it can be retried.
	raw, err := s.SendRequest(ctx, protocol.MethodInitialize, params, opts...)
	if err != nil {
		return nil, err
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperrors.InvalidParams("malformed initialize result: " + err.Error())
	}

	if _, ok := protocol.NegotiateVersion(result.ProtocolVersion, s.supportedVersions); !ok {
		s.logger.Warn("peer answered with an unsupported protocol version",
			logging.String("offered", params.ProtocolVersion),
			logging.String("answered", result.ProtocolVersion))
		return nil, mcperrors.VersionMismatch(result.ProtocolVersion, s.supportedVersions)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, mcperrors.ConnectionClosed(nil)
	}
	s.state = StateInitialized
	s.negotiated = &Negotiated{
		ProtocolVersion:    result.ProtocolVersion,
		ClientInfo:         params.ClientInfo,
		ServerInfo:         result.ServerInfo,
		ClientCapabilities: params.Capabilities.Clone(),
		ServerCapabilities: result.Capabilities.Clone(),
		Instructions:       result.Instructions,
	}
	s.mu.Unlock()

	if err := s.SendNotification(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, err
	}
	s.logger.Info("session initialized",
		logging.String("protocol_version", result.ProtocolVersion),
		logging.String("server", result.ServerInfo.Name))
	return &result, nil
}

// handleInitialize answers an inbound initialize request.
func (s *Session) handleInitialize(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.initHandler == nil {
		return nil, mcperrors.MethodNotFound(string(protocol.MethodInitialize))
	}

	var params protocol.InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.InvalidParams("malformed initialize params: " + err.Error())
	}

	s.mu.Lock()
	if err := s.acceptingInitializeLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// A failed negotiation leaves the session Initializing; only initialize
	// is accepted until one succeeds.
	s.state = StateInitializing
	s.mu.Unlock()

	version, ok := protocol.NegotiateVersion(params.ProtocolVersion, s.supportedVersions)
	if !ok {
		s.logger.Warn("rejecting unsupported protocol version",
			logging.String("offered", params.ProtocolVersion))
		return nil, mcperrors.UnsupportedVersion(params.ProtocolVersion, s.supportedVersions)
	}

	result, err := s.initHandler(ctx, &params)
	if err != nil {
		return nil, err
	}
	result.ProtocolVersion = version

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptingInitializeLocked(); err != nil {
		return nil, err
	}
	s.negotiated = &Negotiated{
		ProtocolVersion:    version,
		ClientInfo:         params.ClientInfo,
		ServerInfo:         result.ServerInfo,
		ClientCapabilities: params.Capabilities.Clone(),
		ServerCapabilities: result.Capabilities.Clone(),
		Instructions:       result.Instructions,
	}
	return result, nil
}

// acceptingInitializeLocked rejects an inbound initialize once a handshake
// has been negotiated or the session has ended.
func (s *Session) acceptingInitializeLocked() error {
	switch {
	case s.state == StateInitialized || s.state == StateClosed:
		return mcperrors.InvalidRequest("initialize while " + s.state.String())
	case s.state == StateInitializing && s.negotiated != nil:
		return mcperrors.InvalidRequest("initialize already answered")
	}
	return nil
}

// markInitialized completes the receiving side of the handshake.
func (s *Session) markInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing || s.initHandler == nil || s.negotiated == nil {
		s.logger.Debug("ignoring unexpected initialized notification",
			logging.String("state", s.state.String()))
		return
	}
	s.state = StateInitialized
	s.logger.Info("session initialized",
		logging.String("protocol_version", s.negotiated.ProtocolVersion),
		logging.String("client", s.negotiated.ClientInfo.Name))
}
