package ollama

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const intentSchema = `{
  "type": "object",
  "required": ["intent", "confidence"],
  "properties": {
    "intent": {
      "type": "string",
      "enum": ["entity_lookup", "relationship_traversal", "conceptual_lookup", "aggregate_metric", "ambiguous"]
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const cypherSchema = `{
  "type": "object",
  "required": ["cypher"],
  "properties": {
    "cypher": {"type": "string", "minLength": 1},
    "params": {"type": "object"}
  }
}`

const draftSchema = `{
  "type": "object",
  "required": ["answer", "citations"],
  "properties": {
    "answer": {"type": "string"},
    "citations": {"type": "array", "items": {"type": "string"}}
  }
}`

type jsonSchema struct {
	name   string
	schema *gojsonschema.Schema
}

func mustSchema(name, raw string) *jsonSchema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return &jsonSchema{name: name, schema: schema}
}

var (
	intentResponseSchema = mustSchema("intent", intentSchema)
	cypherResponseSchema = mustSchema("cypher", cypherSchema)
	draftResponseSchema  = mustSchema("draft", draftSchema)
)

// decode extracts the JSON object from a model response, validates it and
// unmarshals it into out.
func (s *jsonSchema) decode(raw string, out any) error {
	document := extractJSONObject(raw)
	result, err := s.schema.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return fmt.Errorf("parse %s json: %w", s.name, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%s json failed validation: %s", s.name, strings.Join(errs, "; "))
	}
	if err := json.Unmarshal([]byte(document), out); err != nil {
		return fmt.Errorf("decode %s json: %w", s.name, err)
	}
	return nil
}
