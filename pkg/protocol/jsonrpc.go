package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
)

// JSONRPCVersion is the JSON-RPC version marker emitted on every message.
const JSONRPCVersion = "2.0"

type idKind uint8

const (
	idNone idKind = iota
	idString
	idInt
)

// RequestID is a JSON-RPC request identifier: either a string or an integer.
// Two ids are equal only when both the kind and the value match, so the
// string "1" and the integer 1 are distinct. RequestID is comparable and can
// be used as a map key. The zero value represents a null id.
type RequestID struct {
	kind idKind
	str  string
	num  int64
}

// StringID returns a string-valued RequestID.
func StringID(s string) RequestID {
	return RequestID{kind: idString, str: s}
}

// IntID returns an integer-valued RequestID.
func IntID(n int64) RequestID {
	return RequestID{kind: idInt, num: n}
}

// IsValid reports whether the id carries a value (is not null).
func (id RequestID) IsValid() bool { return id.kind != idNone }

// IsString reports whether the id is string-valued.
func (id RequestID) IsString() bool { return id.kind == idString }

// StringValue returns the string value and whether the id is a string.
func (id RequestID) StringValue() (string, bool) { return id.str, id.kind == idString }

// IntValue returns the integer value and whether the id is an integer.
func (id RequestID) IntValue() (int64, bool) { return id.num, id.kind == idInt }

// String formats the id for logs. String ids are quoted so that "1" and 1
// remain distinguishable.
func (id RequestID) String() string {
	switch id.kind {
	case idString:
		return strconv.Quote(id.str)
	case idInt:
		return strconv.FormatInt(id.num, 10)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.str)
	case idInt:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Fractional and exponent numbers
// are rejected.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("empty request id")
	case bytes.Equal(data, []byte("null")):
		*id = RequestID{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string request id: %w", err)
		}
		*id = StringID(s)
		return nil
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("request id must be a string or integer, got %s", data)
		}
		*id = IntID(n)
		return nil
	}
}

// ProgressToken correlates progress notifications with an in-flight request.
// It shares the string-or-integer representation of RequestID.
type ProgressToken = RequestID

// Kind names a message variant.
type Kind string

const (
	KindRequest       Kind = "request"
	KindNotification  Kind = "notification"
	KindResponse      Kind = "response"
	KindErrorResponse Kind = "error"
)

// Message is the sealed union of the four JSON-RPC message shapes:
// *Request, *Notification, *Response and *ErrorResponse.
type Message interface {
	Kind() Kind
	isMessage()
}

// Request is a call that expects exactly one Response or ErrorResponse.
type Request struct {
	ID     RequestID
	Method Method
	Params json.RawMessage
}

// Notification is a one-way message with no id and no reply.
type Notification struct {
	Method Method
	Params json.RawMessage
}

// Response is the successful reply to a Request.
type Response struct {
	ID     RequestID
	Result json.RawMessage
}

// ErrorResponse is the failed reply to a Request. ID is null only when the
// peer could not determine which request failed.
type ErrorResponse struct {
	ID    RequestID
	Error *ErrorObject
}

func (*Request) Kind() Kind       { return KindRequest }
func (*Notification) Kind() Kind  { return KindNotification }
func (*Response) Kind() Kind      { return KindResponse }
func (*ErrorResponse) Kind() Kind { return KindErrorResponse }

func (*Request) isMessage()       {}
func (*Notification) isMessage()  {}
func (*Response) isMessage()      {}
func (*ErrorResponse) isMessage() {}

// ErrorObject is the error member of an ErrorResponse.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

// Err converts the wire error into a RemoteError.
func (e *ErrorObject) Err() error {
	return mcperrors.RemoteError(e.Code, e.Message, e.Data)
}

// ErrorObjectFrom builds the wire form of err. Engine errors keep their code
// and data; any other error becomes an internal error.
func ErrorObjectFrom(err error) *ErrorObject {
	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		return &ErrorObject{Code: mcperrors.CodeInternalError, Message: err.Error()}
	}

	obj := &ErrorObject{Code: mcpErr.Code(), Message: mcpErr.Message()}
	if details := mcpErr.Details(); details != "" {
		obj.Message = obj.Message + ": " + details
	}
	switch data := mcpErr.Data().(type) {
	case nil:
	case json.RawMessage:
		obj.Data = data
	default:
		if raw, mErr := json.Marshal(data); mErr == nil {
			obj.Data = raw
		}
	}
	return obj
}

// NewRequest creates a request, marshalling params unless they are nil.
func NewRequest(id RequestID, method Method, params interface{}) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Params: raw}, nil
}

// NewNotification creates a notification, marshalling params unless they are nil.
func NewNotification(method Method, params interface{}) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{Method: method, Params: raw}, nil
}

// NewResponse creates a successful response. A nil result is sent as an
// empty object.
func NewResponse(id RequestID, result interface{}) (*Response, error) {
	if result == nil {
		return &Response{ID: id, Result: json.RawMessage("{}")}, nil
	}
	if raw, ok := result.(json.RawMessage); ok {
		return &Response{ID: id, Result: raw}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{ID: id, Result: raw}, nil
}

// NewErrorResponse creates an error response from err.
func NewErrorResponse(id RequestID, err error) *ErrorResponse {
	return &ErrorResponse{ID: id, Error: ErrorObjectFrom(err)}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}
