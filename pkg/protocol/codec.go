package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
)

// Codec converts between wire frames and Messages. A Codec is immutable
// after construction and safe for concurrent use; each Session holds its own.
type Codec struct {
	maxMessageSize int
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxMessageSize rejects frames larger than n bytes on decode and
// messages larger than n bytes on encode. Zero disables the limit.
func WithMaxMessageSize(n int) CodecOption {
	return func(c *Codec) {
		c.maxMessageSize = n
	}
}

// NewCodec creates a codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxMessageSize returns the configured frame size limit.
func (c *Codec) MaxMessageSize() int { return c.maxMessageSize }

// wireMessage is the encoding shape shared by all variants.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  Method          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// probe records which members are present in an inbound frame. Raw members
// distinguish an absent key (nil) from an explicit null.
type probe struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// MarshalJSON implements json.Marshaler.
func (r *Request) MarshalJSON() ([]byte, error) {
	id := r.ID
	return json.Marshal(wireMessage{JSONRPC: JSONRPCVersion, ID: &id, Method: r.Method, Params: r.Params})
}

// MarshalJSON implements json.Marshaler.
func (n *Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{JSONRPC: JSONRPCVersion, Method: n.Method, Params: n.Params})
}

// MarshalJSON implements json.Marshaler.
func (r *Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	return json.Marshal(wireMessage{JSONRPC: JSONRPCVersion, ID: &id, Result: result})
}

// MarshalJSON implements json.Marshaler.
func (r *ErrorResponse) MarshalJSON() ([]byte, error) {
	id := r.ID
	errObj := r.Error
	if errObj == nil {
		errObj = &ErrorObject{Code: mcperrors.CodeInternalError, Message: "internal error"}
	}
	return json.Marshal(wireMessage{JSONRPC: JSONRPCVersion, ID: &id, Error: errObj})
}

// Encode serializes msg. Requests and responses must carry a non-null id and
// requests and notifications a method name.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		if !m.ID.IsValid() {
			return nil, fmt.Errorf("encode request %s: missing id", m.Method)
		}
		if m.Method == "" {
			return nil, fmt.Errorf("encode request: missing method")
		}
	case *Notification:
		if m.Method == "" {
			return nil, fmt.Errorf("encode notification: missing method")
		}
	case *Response:
		if !m.ID.IsValid() {
			return nil, fmt.Errorf("encode response: missing id")
		}
	case *ErrorResponse:
	case nil:
		return nil, fmt.Errorf("encode: nil message")
	default:
		return nil, fmt.Errorf("encode: unsupported message type %T", msg)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}
	if c.maxMessageSize > 0 && len(data) > c.maxMessageSize {
		return nil, mcperrors.ValidationErrorf("encoded %s is %d bytes, limit is %d", msg.Kind(), len(data), c.maxMessageSize)
	}
	return data, nil
}

// Decode classifies a frame by the members it carries: id+method is a
// Request, method alone a Notification, id+result a Response and id+error an
// ErrorResponse. Every other shape fails with a MalformedMessage error.
func (c *Codec) Decode(data []byte) (Message, error) {
	if c.maxMessageSize > 0 && len(data) > c.maxMessageSize {
		return nil, mcperrors.MalformedMessage(
			fmt.Sprintf("frame is %d bytes, limit is %d", len(data), c.maxMessageSize), nil)
	}

	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, mcperrors.ParseError(fmt.Errorf("frame is not valid JSON"))
	}
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		return nil, mcperrors.MalformedMessage("batch messages are not supported", trimmed)
	case len(trimmed) == 0 || trimmed[0] != '{':
		return nil, mcperrors.MalformedMessage("message must be a JSON object", trimmed)
	}

	var p probe
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, mcperrors.MalformedMessage(err.Error(), trimmed)
	}
	if p.JSONRPC != JSONRPCVersion {
		return nil, mcperrors.MalformedMessage(fmt.Sprintf("unsupported jsonrpc version %q", p.JSONRPC), trimmed)
	}

	hasID := p.ID != nil
	hasMethod := p.Method != nil && !isNull(p.Method)
	hasResult := p.Result != nil
	hasError := p.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return nil, mcperrors.MalformedMessage("message carries both method and result/error", trimmed)
		}
		var method string
		if err := json.Unmarshal(p.Method, &method); err != nil || method == "" {
			return nil, mcperrors.MalformedMessage("method must be a non-empty string", trimmed)
		}
		if !hasID {
			return &Notification{Method: Method(method), Params: p.Params}, nil
		}
		id, err := decodeID(p.ID)
		if err != nil || !id.IsValid() {
			return nil, mcperrors.MalformedMessage("request id must be a string or integer", trimmed)
		}
		return &Request{ID: id, Method: Method(method), Params: p.Params}, nil
	}

	if !hasID {
		return nil, mcperrors.MalformedMessage("message has neither method nor id", trimmed)
	}
	id, err := decodeID(p.ID)
	if err != nil {
		return nil, mcperrors.MalformedMessage(err.Error(), trimmed)
	}

	switch {
	case hasResult && !hasError:
		if !id.IsValid() {
			return nil, mcperrors.MalformedMessage("response id must not be null", trimmed)
		}
		return &Response{ID: id, Result: p.Result}, nil
	case hasError && !hasResult:
		var obj ErrorObject
		if err := json.Unmarshal(p.Error, &obj); err != nil || isNull(p.Error) {
			return nil, mcperrors.MalformedMessage("error member must be an object", trimmed)
		}
		return &ErrorResponse{ID: id, Error: &obj}, nil
	case hasResult && hasError:
		return nil, mcperrors.MalformedMessage("message carries both result and error", trimmed)
	default:
		return nil, mcperrors.MalformedMessage("message with id has no method, result or error", trimmed)
	}
}

func decodeID(raw json.RawMessage) (RequestID, error) {
	var id RequestID
	err := id.UnmarshalJSON(raw)
	return id, err
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
