package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// chatRequestSchema describes the body accepted by POST /api/chat. Content is
// either a string or an array of text/image parts.
const chatRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {
            "oneOf": [
              {"type": "string"},
              {
                "type": "array",
                "minItems": 1,
                "items": {
                  "oneOf": [
                    {
                      "type": "object",
                      "required": ["type", "text"],
                      "properties": {"type": {"const": "text"}, "text": {"type": "string"}}
                    },
                    {
                      "type": "object",
                      "required": ["type", "image"],
                      "properties": {
                        "type": {"const": "image"},
                        "image": {"type": "string", "pattern": "^data:image/[a-zA-Z0-9.+-]+;base64,"}
                      }
                    }
                  ]
                }
              }
            ]
          }
        }
      }
    }
  }
}`

// RequestValidator checks request bodies against a compiled JSON schema.
type RequestValidator struct {
	schema *gojsonschema.Schema
}

// NewRequestValidator compiles the chat request schema.
func NewRequestValidator() (*RequestValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(chatRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &RequestValidator{schema: schema}, nil
}

// Validate checks that data is JSON and conforms to the schema.
func (v *RequestValidator) Validate(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("request body is not valid JSON")
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(errs, "; "))
	}

	return nil
}
