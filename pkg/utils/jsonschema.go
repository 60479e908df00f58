package utils

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor infers a JSON schema for T. Fields without omitempty become
// required, and the jsonschema struct tag supplies the description. The
// result disallows properties T does not declare.
func SchemaFor[T any]() (json.RawMessage, error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for type: %w", err)
	}
	if schema.AdditionalProperties == nil {
		schema.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// CompiledSchema is a resolved schema ready to validate documents.
type CompiledSchema struct {
	resolved *jsonschema.Resolved
}

// CompileSchema parses and resolves schema. An empty schema accepts any
// object.
func CompileSchema(schema json.RawMessage) (*CompiledSchema, error) {
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}
	return &CompiledSchema{resolved: resolved}, nil
}

// Validate checks data against the schema. Absent data is validated as an
// empty object, which is how tools/call treats omitted arguments.
func (c *CompiledSchema) Validate(data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return c.resolved.Validate(instance)
}

// ValidateAgainstSchema compiles schema and validates data against it.
func ValidateAgainstSchema(data json.RawMessage, schema json.RawMessage) error {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	return compiled.Validate(data)
}
