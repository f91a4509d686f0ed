package models

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type payloadSchemaRegistry struct {
	once    sync.Once
	initErr error
	byType  map[TestCaseType]*jsonschema.Schema
}

var payloadSchemas payloadSchemaRegistry

func initPayloadSchemas() error {
	payloadSchemas.once.Do(func() {
		sources := map[TestCaseType]string{
			TestCaseTypeLLM:            llmPayloadSchema,
			TestCaseTypeConversational: conversationalPayloadSchema,
			TestCaseTypeMultimodal:     multimodalPayloadSchema,
		}
		payloadSchemas.byType = make(map[TestCaseType]*jsonschema.Schema, len(sources))
		for t, src := range sources {
			compiled, err := jsonschema.CompileString("payload_"+string(t)+".json", src)
			if err != nil {
				payloadSchemas.initErr = fmt.Errorf("compile %s payload schema: %w", t, err)
				return
			}
			payloadSchemas.byType[t] = compiled
		}
	})
	return payloadSchemas.initErr
}

// PayloadSchema returns the compiled JSON Schema for a test case type.
func PayloadSchema(t TestCaseType) (*jsonschema.Schema, error) {
	if err := initPayloadSchemas(); err != nil {
		return nil, err
	}
	s, ok := payloadSchemas.byType[t]
	if !ok {
		return nil, fmt.Errorf("no payload schema for type %q", t)
	}
	return s, nil
}

const llmPayloadSchema = `{
  "type": "object",
  "required": ["input"],
  "properties": {
    "input": { "type": "string", "minLength": 1 },
    "expected_output": { "type": ["string", "null"] }
  },
  "additionalProperties": false
}`

const conversationalPayloadSchema = `{
  "type": "object",
  "required": ["turns"],
  "properties": {
    "turns": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": { "enum": ["user", "assistant", "system", "tool"] },
          "content": { "type": "string", "minLength": 1 }
        },
        "additionalProperties": false
      }
    },
    "expected_output": { "type": ["string", "null"] }
  },
  "additionalProperties": false
}`

const multimodalPayloadSchema = `{
  "type": "object",
  "required": ["blocks"],
  "properties": {
    "blocks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "content"],
        "properties": {
          "type": { "enum": ["text", "image", "audio", "video", "file"] },
          "content": { "type": "string", "minLength": 1 }
        },
        "additionalProperties": false
      }
    },
    "expected_output": { "type": ["string", "null"] }
  },
  "additionalProperties": false
}`
