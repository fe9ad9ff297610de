package summary

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const journalSchema = `{
  "type": "object",
  "required": ["mood", "tone", "topics", "decisions"],
  "properties": {
    "mood": {"type": "string", "minLength": 1},
    "tone": {"type": "string", "minLength": 1},
    "topics": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "decisions": {"type": "array", "items": {"type": "string"}}
  }
}`

// scorecardSchema is parameterized by the number of rubric criteria.
const scorecardSchema = `{
  "type": "object",
  "required": ["criteria", "overall_score", "overall_level", "top_strength", "top_improvements"],
  "properties": {
    "criteria": {
      "type": "array",
      "minItems": %[1]d,
      "maxItems": %[1]d,
      "items": {
        "type": "object",
        "required": ["id", "name", "score", "justification"],
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string"},
          "score": {"type": "integer", "minimum": 1, "maximum": 5},
          "justification": {"type": "string"}
        }
      }
    },
    "overall_score": {"type": "integer"},
    "overall_level": {"type": "string"},
    "top_strength": {"type": "string", "minLength": 1},
    "top_improvements": {
      "type": "array",
      "minItems": 2,
      "maxItems": 2,
      "items": {
        "type": "object",
        "required": ["area", "suggestion"],
        "properties": {
          "area": {"type": "string"},
          "suggestion": {"type": "string"}
        }
      }
    }
  }
}`

type validator struct {
	schema *gojsonschema.Schema
}

func newValidator(schema string) (*validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validator{schema: s}, nil
}

func (v *validator) validate(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidOutput)
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; "))
	}
	return nil
}

// stripFences removes a markdown code fence the model may wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
