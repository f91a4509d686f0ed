package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	dErrors "evalledger/pkg/domain-errors"
)

// TestCaseType tags the payload variant of a test case.
type TestCaseType string

const (
	TestCaseTypeLLM            TestCaseType = "llm"
	TestCaseTypeConversational TestCaseType = "conversational"
	TestCaseTypeMultimodal     TestCaseType = "multimodal"
)

func (t TestCaseType) IsValid() bool {
	switch t {
	case TestCaseTypeLLM, TestCaseTypeConversational, TestCaseTypeMultimodal:
		return true
	}
	return false
}

func (t TestCaseType) String() string { return string(t) }

// ParseTestCaseType validates a type tag.
func ParseTestCaseType(s string) (TestCaseType, error) {
	t := TestCaseType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return "", dErrors.Field("type", "is required")
	}
	if !t.IsValid() {
		return "", dErrors.Field("type", "must be one of llm, conversational, multimodal")
	}
	return t, nil
}

// Payload is the variant-specific body of a test case. Exactly one concrete
// type exists per TestCaseType.
type Payload interface {
	Type() TestCaseType
	Expected() *string
	clone() Payload
}

// LLMPayload is a single-turn prompt.
type LLMPayload struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
}

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationalPayload is an ordered sequence of turns.
type ConversationalPayload struct {
	Turns          []Turn  `json:"turns"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
}

// Block is one content item of a multimodal prompt. Content is inline text or
// a reference (URL, object key) to binary media.
type Block struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// MultimodalPayload is an ordered sequence of content blocks.
type MultimodalPayload struct {
	Blocks         []Block `json:"blocks"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
}

func (p *LLMPayload) Type() TestCaseType            { return TestCaseTypeLLM }
func (p *ConversationalPayload) Type() TestCaseType { return TestCaseTypeConversational }
func (p *MultimodalPayload) Type() TestCaseType     { return TestCaseTypeMultimodal }

func (p *LLMPayload) Expected() *string            { return p.ExpectedOutput }
func (p *ConversationalPayload) Expected() *string { return p.ExpectedOutput }
func (p *MultimodalPayload) Expected() *string     { return p.ExpectedOutput }

func (p *LLMPayload) clone() Payload {
	c := *p
	c.ExpectedOutput = cloneString(p.ExpectedOutput)
	return &c
}

func (p *ConversationalPayload) clone() Payload {
	c := *p
	c.Turns = append([]Turn(nil), p.Turns...)
	c.ExpectedOutput = cloneString(p.ExpectedOutput)
	return &c
}

func (p *MultimodalPayload) clone() Payload {
	c := *p
	c.Blocks = append([]Block(nil), p.Blocks...)
	c.ExpectedOutput = cloneString(p.ExpectedOutput)
	return &c
}

// ParsePayload validates raw against the schema for t and decodes it into the
// matching variant. Shape mismatches are validation errors naming the
// offending payload field.
func ParsePayload(t TestCaseType, raw json.RawMessage) (Payload, error) {
	if !t.IsValid() {
		return nil, dErrors.Field("type", "must be one of llm, conversational, multimodal")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, dErrors.Field("payload", "is required")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dErrors.Field("payload", "must be valid JSON")
	}
	schema, err := PayloadSchema(t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "payload schema unavailable")
	}
	if err := schema.Validate(doc); err != nil {
		return nil, schemaFieldError(t, err)
	}

	var p Payload
	switch t {
	case TestCaseTypeLLM:
		p = &LLMPayload{}
	case TestCaseTypeConversational:
		p = &ConversationalPayload{}
	case TestCaseTypeMultimodal:
		p = &MultimodalPayload{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, dErrors.Field("payload", "does not match type "+string(t))
	}
	return p, nil
}

// MarshalPayload encodes a payload for storage or transport.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, errors.New("nil payload")
	}
	return json.Marshal(p)
}

// schemaFieldError reduces a schema failure to its first leaf cause, reported
// against a JSON path like payload.turns[0].role.
func schemaFieldError(t TestCaseType, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return dErrors.Field("payload", "does not match type "+string(t))
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := "payload" + pointerToPath(ve.InstanceLocation)
	msg := ve.Message
	if strings.HasPrefix(msg, "additionalProperties") {
		msg = fmt.Sprintf("%s (not allowed for type %s)", msg, t)
	}
	return dErrors.Field(field, msg)
}

// pointerToPath turns "/turns/0/role" into ".turns[0].role".
func pointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		b.WriteString("." + seg)
	}
	return b.String()
}

// DecodeStoredPayload rebuilds a payload persisted by MarshalPayload. Stored
// rows were validated on write, so only decoding is performed.
func DecodeStoredPayload(t TestCaseType, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case TestCaseTypeLLM:
		p = &LLMPayload{}
	case TestCaseTypeConversational:
		p = &ConversationalPayload{}
	case TestCaseTypeMultimodal:
		p = &MultimodalPayload{}
	default:
		return nil, fmt.Errorf("unknown test case type %q", t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
