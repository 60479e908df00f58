package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each matches any error built by the constructor of
// the same name, regardless of message or context.
var (
	ErrMalformedMessage   = NewError(CodeMalformedMessage, "malformed message", CategoryProtocol, SeverityWarning)
	ErrTimeout            = NewError(CodeRequestTimeout, "request timed out", CategoryTimeout, SeverityError)
	ErrCancelled          = NewError(CodeOperationCancelled, "request cancelled", CategoryCancelled, SeverityInfo)
	ErrConnectionClosed   = NewError(CodeConnectionClosed, "connection closed", CategoryTransport, SeverityError)
	ErrNotInitialized     = NewError(CodeNotInitialized, "session not initialized", CategoryState, SeverityError)
	ErrAlreadyConnected   = NewError(CodeAlreadyConnected, "session already connected", CategoryState, SeverityError)
	ErrValidation         = NewError(CodeValidationError, "validation failed", CategoryValidation, SeverityError)
	ErrVersionMismatch    = NewError(CodeVersionMismatch, "protocol version mismatch", CategoryProtocol, SeverityError)
	ErrInvalidTransition  = NewError(CodeInvalidTransition, "invalid status transition", CategoryState, SeverityWarning)
	ErrCapabilityRequired = NewError(CodeCapabilityRequired, "capability required", CategoryValidation, SeverityError)
)

// MalformedData describes a frame that could not be decoded.
type MalformedData struct {
	Reason string `json:"reason"`
	Frame  string `json:"frame,omitempty"`
}

// maxFrameEcho bounds how much of a bad frame is kept in error data.
const maxFrameEcho = 256

// MalformedMessage reports a frame whose shape matches no message variant.
func MalformedMessage(reason string, frame []byte) MCPError {
	echo := string(frame)
	if len(echo) > maxFrameEcho {
		echo = echo[:maxFrameEcho] + "..."
	}
	return NewError(CodeMalformedMessage, "malformed message", CategoryProtocol, SeverityWarning).
		WithDetail(reason).
		WithData(&MalformedData{Reason: reason, Frame: echo})
}

// ParseError reports a frame that is not valid JSON.
func ParseError(cause error) MCPError {
	return WrapError(cause, CodeMalformedMessage, "malformed message", CategoryProtocol, SeverityWarning).
		WithData(&MalformedData{Reason: "invalid JSON"})
}

// RemoteError carries an error object returned by the peer. The data is kept
// as raw JSON so callers can decode it into their own types.
func RemoteError(code int, message string, data json.RawMessage) MCPError {
	err := NewError(code, message, CategoryRemote, SeverityError)
	if len(data) > 0 {
		err = err.WithData(data)
	}
	return err
}

// IsRemote reports whether err originated from a peer error response.
func IsRemote(err error) bool {
	return IsCategory(err, CategoryRemote)
}

// Timeout reports a request that received no response before its deadline.
func Timeout(method string, after time.Duration) MCPError {
	return NewError(CodeRequestTimeout, "request timed out", CategoryTimeout, SeverityError).
		WithDetail(fmt.Sprintf("%s after %s", method, after)).
		WithContext(&Context{Method: method, Component: "Session", Operation: "await_response"})
}

// Cancelled reports a request abandoned by its caller.
func Cancelled(method, reason string) MCPError {
	err := NewError(CodeOperationCancelled, "request cancelled", CategoryCancelled, SeverityInfo).
		WithContext(&Context{Method: method, Component: "Session", Operation: "await_response"})
	if reason != "" {
		err = err.WithDetail(reason)
	}
	return err
}

// ConnectionClosed reports that the transport went away. cause may be nil
// when the session was closed deliberately.
func ConnectionClosed(cause error) MCPError {
	return WrapError(cause, CodeConnectionClosed, "connection closed", CategoryTransport, SeverityError)
}

// NotInitialized rejects a request issued before the handshake completed.
func NotInitialized(method string) MCPError {
	return NewError(CodeNotInitialized, "session not initialized", CategoryState, SeverityError).
		WithDetail(fmt.Sprintf("%s requires a completed initialize handshake", method)).
		WithContext(&Context{Method: method, Component: "Session", Operation: "send_request"})
}

// AlreadyConnected rejects a second Connect on one session.
func AlreadyConnected() MCPError {
	return NewError(CodeAlreadyConnected, "session already connected", CategoryState, SeverityError)
}

// VersionData is attached to version negotiation failures.
type VersionData struct {
	Requested string   `json:"requested"`
	Supported []string `json:"supported"`
}

// VersionMismatch reports an offered or returned protocol version that is not
// in the supported set.
func VersionMismatch(requested string, supported []string) MCPError {
	return NewError(CodeVersionMismatch, "unsupported protocol version", CategoryProtocol, SeverityError).
		WithDetail(requested).
		WithData(&VersionData{Requested: requested, Supported: supported})
}

// UnsupportedVersion is the error a receiver answers an initialize request
// with when it cannot speak the offered revision.
func UnsupportedVersion(requested string, supported []string) MCPError {
	return InvalidParams("unsupported protocol version").
		WithData(&VersionData{Requested: requested, Supported: supported})
}

// CapabilityRequired reports that the peer did not advertise a capability the
// operation depends on.
func CapabilityRequired(capability string) MCPError {
	return NewError(CodeCapabilityRequired, "capability required", CategoryValidation, SeverityError).
		WithDetail(capability)
}

// TransitionData is attached to rejected task status transitions.
type TransitionData struct {
	TaskID string `json:"taskId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// InvalidTransition reports a task status change the state machine forbids.
func InvalidTransition(taskID, from, to string) MCPError {
	return NewError(CodeInvalidTransition, "invalid status transition", CategoryState, SeverityWarning).
		WithDetail(fmt.Sprintf("%s -> %s", from, to)).
		WithData(&TransitionData{TaskID: taskID, From: from, To: to}).
		WithContext(&Context{TaskID: taskID, Component: "Tasks"})
}

// TransportError wraps a failure reported by a transport.
func TransportError(transport, operation string, cause error) MCPError {
	return WrapError(cause, CodeTransportError, fmt.Sprintf("%s transport error", transport), CategoryTransport, SeverityError).
		WithContext(&Context{Component: transport, Operation: operation})
}

// MethodNotFound is returned to a peer that calls an unregistered method.
func MethodNotFound(method string) MCPError {
	return NewError(CodeMethodNotFound, "method not found", CategoryProtocol, SeverityError).
		WithDetail(method)
}

// InvalidParams is returned to a peer whose params failed to decode or validate.
func InvalidParams(detail string) MCPError {
	return NewError(CodeInvalidParams, "invalid params", CategoryValidation, SeverityError).
		WithDetail(detail)
}

// InvalidRequest is returned to a peer whose request is not acceptable in the
// current session state.
func InvalidRequest(detail string) MCPError {
	return NewError(CodeInvalidRequest, "invalid request", CategoryProtocol, SeverityError).
		WithDetail(detail)
}

// InternalError is returned to a peer when a handler fails.
func InternalError(cause error) MCPError {
	return WrapError(cause, CodeInternalError, "internal error", CategoryInternal, SeverityError)
}

// InvalidCursor rejects a pagination cursor the server did not issue.
func InvalidCursor(cursor string) MCPError {
	return InvalidParams(fmt.Sprintf("invalid cursor %q", cursor))
}
