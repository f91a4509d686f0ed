package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "evalledger/pkg/domain-errors"
)

func TestParsePayload_Variants(t *testing.T) {
	t.Run("llm", func(t *testing.T) {
		p, err := ParsePayload(TestCaseTypeLLM, json.RawMessage(`{"input":"2+2?","expected_output":"4"}`))
		require.NoError(t, err)
		llm, ok := p.(*LLMPayload)
		require.True(t, ok)
		assert.Equal(t, "2+2?", llm.Input)
		require.NotNil(t, llm.Expected())
		assert.Equal(t, "4", *llm.Expected())
	})

	t.Run("conversational", func(t *testing.T) {
		p, err := ParsePayload(TestCaseTypeConversational, json.RawMessage(
			`{"turns":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`))
		require.NoError(t, err)
		conv := p.(*ConversationalPayload)
		assert.Len(t, conv.Turns, 2)
		assert.Equal(t, TestCaseTypeConversational, p.Type())
		assert.Nil(t, p.Expected())
	})

	t.Run("multimodal", func(t *testing.T) {
		p, err := ParsePayload(TestCaseTypeMultimodal, json.RawMessage(
			`{"blocks":[{"type":"text","content":"describe"},{"type":"image","content":"s3://bucket/cat.png"}]}`))
		require.NoError(t, err)
		mm := p.(*MultimodalPayload)
		assert.Equal(t, "image", mm.Blocks[1].Type)
	})
}

func TestParsePayload_ShapeMismatch(t *testing.T) {
	tests := []struct {
		name      string
		typ       TestCaseType
		raw       string
		wantField string
	}{
		{"llm given turns", TestCaseTypeLLM, `{"turns":[{"role":"user","content":"hi"}]}`, "payload"},
		{"llm missing input", TestCaseTypeLLM, `{"expected_output":"4"}`, "payload"},
		{"conversational given input", TestCaseTypeConversational, `{"input":"hi"}`, "payload"},
		{"conversational empty turns", TestCaseTypeConversational, `{"turns":[]}`, "payload.turns"},
		{"conversational bad role", TestCaseTypeConversational, `{"turns":[{"role":"narrator","content":"x"}]}`, "payload.turns[0].role"},
		{"multimodal bad block type", TestCaseTypeMultimodal, `{"blocks":[{"type":"hologram","content":"x"}]}`, "payload.blocks[0].type"},
		{"payload not an object", TestCaseTypeLLM, `"just text"`, "payload"},
		{"payload absent", TestCaseTypeLLM, ``, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(tt.typ, json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, dErrors.FieldsOf(err), tt.wantField)
		})
	}
}

func TestParseTestCaseType(t *testing.T) {
	got, err := ParseTestCaseType(" Conversational ")
	require.NoError(t, err)
	assert.Equal(t, TestCaseTypeConversational, got)

	_, err = ParseTestCaseType("image")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = ParseTestCaseType("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestPointerToPath(t *testing.T) {
	assert.Equal(t, "", pointerToPath(""))
	assert.Equal(t, ".turns[0].role", pointerToPath("/turns/0/role"))
	assert.Equal(t, ".a/b", pointerToPath("/a~1b"))
}
