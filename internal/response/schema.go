package response

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON Schemas for the structured blocks of model responses. Validation
// happens before decoding so a response that decodes but violates the
// contract (bad confidence value, unknown edit type) still maps to a
// parse error.
const (
	pageMetaSchemaJSON = `{
		"type": "object",
		"required": ["confidence", "handwriting_present", "typewriting_present"],
		"properties": {
			"confidence": {"type": "string", "enum": ["low", "medium", "high"]},
			"handwriting_present": {"type": "boolean"},
			"typewriting_present": {"type": "boolean"},
			"layout_notes": {"type": "string"},
			"problems": {"type": "array", "items": {"type": "string"}}
		}
	}`

	editLogSchemaJSON = `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["type", "from", "to"],
			"properties": {
				"type": {"type": "string", "enum": ["correction", "expansion", "punctuation"]},
				"from": {"type": "string"},
				"to": {"type": "string"},
				"reason": {"type": "string"}
			}
		}
	}`

	normalizeMetaSchemaJSON = `{
		"type": "object",
		"required": ["total_changes", "total_flags"],
		"properties": {
			"total_changes": {"type": "integer", "minimum": 0},
			"total_flags": {"type": "integer", "minimum": 0},
			"notes": {"type": "string"}
		}
	}`
)

var (
	pageMetaSchema      = mustCompileSchema("page_meta.json", pageMetaSchemaJSON)
	editLogSchema       = mustCompileSchema("edit_log.json", editLogSchemaJSON)
	normalizeMetaSchema = mustCompileSchema("normalize_meta.json", normalizeMetaSchemaJSON)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("failed to load schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile schema %s: %v", name, err))
	}
	return schema
}

// decodeValidated validates a JSON block against its schema and decodes
// it into out. Any failure maps to a ParseError.
func decodeValidated(phase, section string, schema *jsonschema.Schema, body string, out any) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return &ParseError{Phase: phase, Detail: fmt.Sprintf("empty %s block", section)}
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return &ParseError{Phase: phase, Detail: fmt.Sprintf("invalid %s JSON: %v", section, err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ParseError{Phase: phase, Detail: fmt.Sprintf("%s does not match schema: %v", section, err)}
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return &ParseError{Phase: phase, Detail: fmt.Sprintf("failed to decode %s: %v", section, err)}
	}
	return nil
}
