package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetaKey is the reserved member name carrying Meta inside params and results.
const MetaKey = "_meta"

const progressTokenKey = "progressToken"

// Meta is the opaque metadata bag attached to params and results. Values are
// kept as raw JSON so unknown keys pass through untouched.
type Meta map[string]json.RawMessage

// ProgressToken returns the progress token, if one is present and well formed.
func (m Meta) ProgressToken() (ProgressToken, bool) {
	raw, ok := m[progressTokenKey]
	if !ok {
		return ProgressToken{}, false
	}
	var tok ProgressToken
	if err := tok.UnmarshalJSON(raw); err != nil || !tok.IsValid() {
		return ProgressToken{}, false
	}
	return tok, true
}

// SetProgressToken stores tok under the reserved progressToken key.
func (m *Meta) SetProgressToken(tok ProgressToken) {
	raw, _ := tok.MarshalJSON()
	if *m == nil {
		*m = make(Meta)
	}
	(*m)[progressTokenKey] = raw
}

// Get decodes the value stored under key into v.
func (m Meta) Get(key string, v interface{}) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode _meta.%s: %w", key, err)
	}
	return true, nil
}

// Set encodes v and stores it under key.
func (m *Meta) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode _meta.%s: %w", key, err)
	}
	if *m == nil {
		*m = make(Meta)
	}
	(*m)[key] = raw
	return nil
}

// ParamsMeta extracts the _meta member from a params or result object.
// Absent params, non-object params and a missing _meta all yield nil.
func ParamsMeta(params json.RawMessage) (Meta, error) {
	if !isObject(params) {
		return nil, nil
	}
	var holder struct {
		Meta Meta `json:"_meta"`
	}
	if err := json.Unmarshal(params, &holder); err != nil {
		return nil, fmt.Errorf("decode _meta: %w", err)
	}
	return holder.Meta, nil
}

// WithParamsMeta returns params with its _meta member replaced by meta,
// leaving every other member untouched. Absent params become an object that
// only holds _meta. Non-object params cannot carry metadata.
func WithParamsMeta(params json.RawMessage, meta Meta) (json.RawMessage, error) {
	members := map[string]json.RawMessage{}
	if len(params) > 0 && !isNull(params) {
		if !isObject(params) {
			return nil, fmt.Errorf("params must be an object to carry _meta")
		}
		if err := json.Unmarshal(params, &members); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode _meta: %w", err)
	}
	members[MetaKey] = raw

	out, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return out, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
