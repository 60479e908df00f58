package protocol

import (
	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
)

// MaxCompletionValues is the most values a single completion may carry.
const MaxCompletionValues = 100

// Reference types for completion/complete.
const (
	RefTypePrompt   = "ref/prompt"
	RefTypeResource = "ref/resource"
)

// CompletionReference names the prompt or resource template being completed.
type CompletionReference struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// CompletionArgument is the argument under completion.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompletionContext carries already-resolved arguments.
type CompletionContext struct {
	Arguments map[string]string `json:"arguments,omitempty"`
}

// CompleteParams are the params of completion/complete.
type CompleteParams struct {
	Meta     Meta                `json:"_meta,omitempty"`
	Ref      CompletionReference `json:"ref"`
	Argument CompletionArgument  `json:"argument"`
	Context  *CompletionContext  `json:"context,omitempty"`
}

// Completion is a list of suggested values.
type Completion struct {
	Values  []string `json:"values"`
	Total   *int     `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// NewCompletion builds a Completion, rejecting more than MaxCompletionValues
// values.
func NewCompletion(values []string, total *int, hasMore bool) (Completion, error) {
	c := Completion{Values: values, Total: total, HasMore: hasMore}
	if err := c.Validate(); err != nil {
		return Completion{}, err
	}
	if c.Values == nil {
		c.Values = []string{}
	}
	return c, nil
}

// Validate checks the value limit.
func (c Completion) Validate() error {
	if len(c.Values) > MaxCompletionValues {
		return mcperrors.TooManyItems("completion.values", len(c.Values), MaxCompletionValues)
	}
	return nil
}

// CompleteResult answers completion/complete.
type CompleteResult struct {
	Meta       Meta       `json:"_meta,omitempty"`
	Completion Completion `json:"completion"`
}
