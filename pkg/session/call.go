package session

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// Call sends a request and decodes its result into R.
func Call[R any](ctx context.Context, s *Session, method protocol.Method, params interface{}, opts ...RequestOption) (*R, error) {
	raw, err := s.SendRequest(ctx, method, params, opts...)
	if err != nil {
		return nil, err
	}
	var out R
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, mcperrors.InvalidParams("malformed " + string(method) + " result: " + err.Error())
	}
	return &out, nil
}

// Handle adapts a typed handler to a RequestHandler. Params that do not
// decode into P are rejected with an invalid params error.
func Handle[P, R any](fn func(ctx context.Context, params *P) (R, error)) RequestHandler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var params P
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, mcperrors.InvalidParams(err.Error())
			}
		}
		return fn(ctx, &params)
	}
}
