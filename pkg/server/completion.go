package server

import (
	"context"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// CompletionProvider suggests values for a prompt or resource template
// argument.
type CompletionProvider interface {
	Complete(ctx context.Context, params *protocol.CompleteParams) (*protocol.Completion, error)
}

// CompletionFunc adapts a function to CompletionProvider.
type CompletionFunc func(ctx context.Context, params *protocol.CompleteParams) (*protocol.Completion, error)

// Complete implements CompletionProvider.
func (f CompletionFunc) Complete(ctx context.Context, params *protocol.CompleteParams) (*protocol.Completion, error) {
	return f(ctx, params)
}

func (c *Conn) complete(ctx context.Context, params *protocol.CompleteParams) (*protocol.CompleteResult, error) {
	switch params.Ref.Type {
	case protocol.RefTypePrompt:
		if params.Ref.Name == "" {
			return nil, mcperrors.InvalidParams("ref.name is required for prompt references")
		}
	case protocol.RefTypeResource:
		if params.Ref.URI == "" {
			return nil, mcperrors.InvalidParams("ref.uri is required for resource references")
		}
	default:
		return nil, mcperrors.InvalidParams("unknown reference type " + params.Ref.Type)
	}
	if params.Argument.Name == "" {
		return nil, mcperrors.InvalidParams("argument.name is required")
	}

	suggested, err := c.server.completions.Complete(ctx, params)
	if err != nil {
		return nil, err
	}
	if suggested == nil {
		suggested = &protocol.Completion{}
	}

	// Overlong answers are cut to the limit rather than rejected.
	values, hasMore := suggested.Values, suggested.HasMore
	if len(values) > protocol.MaxCompletionValues {
		values, hasMore = values[:protocol.MaxCompletionValues], true
	}
	completion, err := protocol.NewCompletion(values, suggested.Total, hasMore)
	if err != nil {
		return nil, err
	}
	return &protocol.CompleteResult{Completion: completion}, nil
}
