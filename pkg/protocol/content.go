package protocol

import (
	"encoding/json"
	"fmt"
)

// Role is the speaker of a message or the audience of an annotation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content type tags.
const (
	ContentTypeText         = "text"
	ContentTypeImage        = "image"
	ContentTypeAudio        = "audio"
	ContentTypeResourceLink = "resource_link"
	ContentTypeResource     = "resource"
)

// Content is one block of a tool result, prompt or sampling message. The set
// of variants is closed for encoding; decoding an unrecognised type yields
// UnknownContent so newer peers do not break older ones.
type Content interface {
	ContentType() string
	isContent()
}

// Annotations are client hints attached to content.
type Annotations struct {
	Audience     []Role   `json:"audience,omitempty"`
	Priority     *float64 `json:"priority,omitempty"`
	LastModified string   `json:"lastModified,omitempty"`
}

// TextContent is plain text.
type TextContent struct {
	Text        string       `json:"text"`
	Annotations *Annotations `json:"annotations,omitempty"`
	Meta        Meta         `json:"_meta,omitempty"`
}

// ImageContent is base64 image data.
type ImageContent struct {
	Data        string       `json:"data"`
	MimeType    string       `json:"mimeType"`
	Annotations *Annotations `json:"annotations,omitempty"`
	Meta        Meta         `json:"_meta,omitempty"`
}

// AudioContent is base64 audio data.
type AudioContent struct {
	Data        string       `json:"data"`
	MimeType    string       `json:"mimeType"`
	Annotations *Annotations `json:"annotations,omitempty"`
	Meta        Meta         `json:"_meta,omitempty"`
}

// ResourceLink points at a resource without embedding it.
type ResourceLink struct {
	URI         string       `json:"uri"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
	Meta        Meta         `json:"_meta,omitempty"`
}

// EmbeddedResource carries resource contents inline.
type EmbeddedResource struct {
	Resource    json.RawMessage `json:"resource"`
	Annotations *Annotations    `json:"annotations,omitempty"`
	Meta        Meta            `json:"_meta,omitempty"`
}

// UnknownContent keeps a block whose type this module does not know.
// It re-encodes to exactly the bytes it was decoded from.
type UnknownContent struct {
	Type string
	Raw  json.RawMessage
}

func (TextContent) ContentType() string      { return ContentTypeText }
func (ImageContent) ContentType() string     { return ContentTypeImage }
func (AudioContent) ContentType() string     { return ContentTypeAudio }
func (ResourceLink) ContentType() string     { return ContentTypeResourceLink }
func (EmbeddedResource) ContentType() string { return ContentTypeResource }
func (c UnknownContent) ContentType() string { return c.Type }

func (TextContent) isContent()      {}
func (ImageContent) isContent()     {}
func (AudioContent) isContent()     {}
func (ResourceLink) isContent()     {}
func (EmbeddedResource) isContent() {}
func (UnknownContent) isContent()   {}

// NewTextContent is shorthand for a text block.
func NewTextContent(text string) TextContent {
	return TextContent{Text: text}
}

// MarshalContent encodes c with its type tag.
func MarshalContent(c Content) ([]byte, error) {
	switch v := c.(type) {
	case UnknownContent:
		return v.Raw, nil
	case *UnknownContent:
		return v.Raw, nil
	case nil:
		return nil, fmt.Errorf("nil content")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(c.ContentType())
	return json.Marshal(fields)
}

// UnmarshalContent decodes one block, dispatching on its type tag.
func UnmarshalContent(data []byte) (Content, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid content block: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("content block has no type")
	}

	var (
		c   Content
		err error
	)
	switch probe.Type {
	case ContentTypeText:
		var v TextContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentTypeImage:
		var v ImageContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentTypeAudio:
		var v AudioContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentTypeResourceLink:
		var v ResourceLink
		err = json.Unmarshal(data, &v)
		c = v
	case ContentTypeResource:
		var v EmbeddedResource
		err = json.Unmarshal(data, &v)
		c = v
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownContent{Type: probe.Type, Raw: raw}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s content: %w", probe.Type, err)
	}
	return c, nil
}

// Contents is an ordered list of content blocks.
type Contents []Content

// MarshalJSON implements json.Marshaler.
func (cs Contents) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(cs))
	for i, c := range cs {
		raw, err := MarshalContent(c)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		items = append(items, raw)
	}
	return json.Marshal(items)
}

// UnmarshalJSON implements json.Unmarshaler.
func (cs *Contents) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(Contents, 0, len(items))
	for i, raw := range items {
		c, err := UnmarshalContent(raw)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	*cs = out
	return nil
}
