package protocol

import (
	"encoding/json"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
)

// ModelHint suggests a model by name substring.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// ModelPreferences guides the client's model selection. Every priority is
// in [0,1].
type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	CostPriority         *float64    `json:"costPriority,omitempty"`
	SpeedPriority        *float64    `json:"speedPriority,omitempty"`
	IntelligencePriority *float64    `json:"intelligencePriority,omitempty"`
}

// Validate checks that every priority that is set lies in [0,1].
func (p ModelPreferences) Validate() error {
	var errs []mcperrors.MCPError
	check := func(field string, v *float64) {
		if v != nil && (*v < 0 || *v > 1) {
			errs = append(errs, mcperrors.OutOfRange(field, *v, 0, 1))
		}
	}
	check("costPriority", p.CostPriority)
	check("speedPriority", p.SpeedPriority)
	check("intelligencePriority", p.IntelligencePriority)
	if err := mcperrors.CombineValidationErrors(errs); err != nil {
		return err
	}
	return nil
}

// ModelPreferencesBuilder accumulates preferences; Build validates them.
type ModelPreferencesBuilder struct {
	prefs ModelPreferences
}

// NewModelPreferences starts an empty builder.
func NewModelPreferences() *ModelPreferencesBuilder {
	return &ModelPreferencesBuilder{}
}

// Hint appends a model hint.
func (b *ModelPreferencesBuilder) Hint(name string) *ModelPreferencesBuilder {
	b.prefs.Hints = append(b.prefs.Hints, ModelHint{Name: name})
	return b
}

func (b *ModelPreferencesBuilder) CostPriority(v float64) *ModelPreferencesBuilder {
	b.prefs.CostPriority = &v
	return b
}

func (b *ModelPreferencesBuilder) SpeedPriority(v float64) *ModelPreferencesBuilder {
	b.prefs.SpeedPriority = &v
	return b
}

func (b *ModelPreferencesBuilder) IntelligencePriority(v float64) *ModelPreferencesBuilder {
	b.prefs.IntelligencePriority = &v
	return b
}

// Build returns the preferences or a validation error naming every priority
// outside [0,1].
func (b *ModelPreferencesBuilder) Build() (ModelPreferences, error) {
	if err := b.prefs.Validate(); err != nil {
		return ModelPreferences{}, err
	}
	out := b.prefs
	out.Hints = append([]ModelHint(nil), b.prefs.Hints...)
	return out, nil
}

// SamplingMessage is one turn of a sampling conversation.
type SamplingMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"-"`
}

// MarshalJSON implements json.Marshaler.
func (m SamplingMessage) MarshalJSON() ([]byte, error) {
	content, err := MarshalContent(m.Content)
	if err != nil {
		return nil, fmt.Errorf("sampling message: %w", err)
	}
	return json.Marshal(struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}{m.Role, content})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *SamplingMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := UnmarshalContent(wire.Content)
	if err != nil {
		return fmt.Errorf("sampling message: %w", err)
	}
	m.Role = wire.Role
	m.Content = content
	return nil
}

// CreateMessageParams are the params of sampling/createMessage.
type CreateMessageParams struct {
	Meta             Meta              `json:"_meta,omitempty"`
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	Task             *TaskMetadata     `json:"task,omitempty"`
}

// CreateMessageResult answers sampling/createMessage.
type CreateMessageResult struct {
	Meta       Meta   `json:"_meta,omitempty"`
	Model      string `json:"model"`
	StopReason string `json:"stopReason,omitempty"`
	SamplingMessage
}

// MarshalJSON implements json.Marshaler; the embedded message's own
// marshaller would otherwise hide the outer fields.
func (r CreateMessageResult) MarshalJSON() ([]byte, error) {
	msg, err := r.SamplingMessage.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, err
	}
	fields["model"], _ = json.Marshal(r.Model)
	if r.StopReason != "" {
		fields["stopReason"], _ = json.Marshal(r.StopReason)
	}
	if len(r.Meta) > 0 {
		fields[MetaKey], _ = json.Marshal(r.Meta)
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *CreateMessageResult) UnmarshalJSON(data []byte) error {
	var outer struct {
		Meta       Meta   `json:"_meta,omitempty"`
		Model      string `json:"model"`
		StopReason string `json:"stopReason,omitempty"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return err
	}
	if err := r.SamplingMessage.UnmarshalJSON(data); err != nil {
		return err
	}
	r.Meta, r.Model, r.StopReason = outer.Meta, outer.Model, outer.StopReason
	return nil
}
