// Package jsonutil extracts and schema-validates JSON produced by LLMs or
// received as chat tool arguments: pull the first balanced object out of
// prose/markdown, decode it, and validate it against a compiled
// santhosh-tekuri/jsonschema/v6 schema before a caller trusts it over a
// safer fallback.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ExtractJSONObject pulls the first balanced `{...}` block out of text,
// stripping a leading ```json fence if present. LLMs asked for "emit a
// JSON object" routinely wrap it in prose or markdown.
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if fence := strings.Index(text, "```"); fence != -1 {
		rest := text[fence+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end != -1 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", fmt.Errorf("jsonutil: no JSON object found in text")
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("jsonutil: unbalanced JSON object in text")
}

// CompileSchema compiles an inline JSON Schema document identified by name
// (used only as the compiler's internal resource URL, never fetched).
func CompileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("jsonutil: invalid schema literal: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// MustCompileSchema compiles a package-level schema literal at init time;
// a malformed literal is a programming error, not a runtime condition.
func MustCompileSchema(name, schemaJSON string) *jsonschema.Schema {
	s, err := CompileSchema(name, schemaJSON)
	if err != nil {
		panic(fmt.Sprintf("jsonutil: invalid schema %s: %v", name, err))
	}
	return s
}

// DecodeAndValidate unmarshals raw into dst and, if schema is non-nil,
// validates the decoded-as-interface{} form against it first.
func DecodeAndValidate(raw string, schema *jsonschema.Schema, dst interface{}) error {
	var generic interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return fmt.Errorf("jsonutil: invalid JSON: %w", err)
	}
	if schema != nil {
		if err := schema.Validate(generic); err != nil {
			return fmt.Errorf("jsonutil: schema validation failed: %w", err)
		}
	}
	return json.Unmarshal([]byte(raw), dst)
}

// Validate validates an already-decoded value (e.g. tool call arguments
// decoded into map[string]interface{}) against schema.
func Validate(schema *jsonschema.Schema, decoded interface{}) error {
	if schema == nil {
		return nil
	}
	return schema.Validate(decoded)
}
