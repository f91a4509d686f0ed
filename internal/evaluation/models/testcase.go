package models

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

const (
	FieldType               = "type"
	FieldPayload            = "payload"
	FieldContext            = "context"
	FieldRetrievalContext   = "retrieval_context"
	FieldAdditionalMetadata = "additional_metadata"
	FieldGlobal             = "global"
)

var TestCaseMutableFields = []string{
	FieldName, FieldPayload, FieldContext, FieldRetrievalContext, FieldAdditionalMetadata,
}

// TestCase is a reusable evaluation input in one of three variants.
//
// Invariants:
//   - Type is immutable and always equals Payload.Type()
//   - OwnerID nil marks a global test case, readable by everyone and
//     mutable only by a privileged actor or its creator
//   - ownership is never transferred
type TestCase struct {
	ID                 id.TestCaseID   `json:"id"`
	OwnerID            *id.UserID      `json:"owner_id"`
	CreatedBy          id.UserID       `json:"created_by"`
	Name               string          `json:"name"`
	Type               TestCaseType    `json:"type"`
	Payload            Payload         `json:"payload"`
	Context            []string        `json:"context"`
	RetrievalContext   []string        `json:"retrieval_context"`
	AdditionalMetadata json.RawMessage `json:"additional_metadata"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TestCaseInput carries the client-supplied fields of a test case. Normalize
// populates the parsed type and payload.
type TestCaseInput struct {
	Name               string
	Type               string
	Payload            json.RawMessage
	Context            []string
	RetrievalContext   []string
	AdditionalMetadata json.RawMessage
	Global             *bool

	parsedType    TestCaseType
	parsedPayload Payload
}

// Normalize validates shape: name, type tag, payload against the type's
// schema, metadata object. Fields in keep are not validated.
func (in *TestCaseInput) Normalize(keep FieldSet) error {
	if !keep.Has(FieldName) {
		name, err := normalizeName(FieldName, in.Name, MaxNameLength)
		if err != nil {
			return err
		}
		in.Name = name
	}
	t, err := ParseTestCaseType(in.Type)
	if err != nil {
		return err
	}
	in.parsedType = t
	in.Type = string(t)

	if !keep.Has(FieldPayload) {
		p, err := ParsePayload(t, in.Payload)
		if err != nil {
			return err
		}
		in.parsedPayload = p
	}
	if !keep.Has(FieldAdditionalMetadata) {
		md, err := normalizeObject(FieldAdditionalMetadata, in.AdditionalMetadata)
		if err != nil {
			return err
		}
		in.AdditionalMetadata = md
	}
	in.Context = normalizeStrings(in.Context)
	in.RetrievalContext = normalizeStrings(in.RetrievalContext)
	return nil
}

func (in *TestCaseInput) ParsedType() TestCaseType { return in.parsedType }
func (in *TestCaseInput) ParsedPayload() Payload   { return in.parsedPayload }

// WantsGlobal reports whether the input asks for a global test case.
func (in *TestCaseInput) WantsGlobal() bool {
	return in.Global != nil && *in.Global
}

// NewTestCase builds a test case from normalized input. A nil owner creates a
// global test case.
func NewTestCase(tcID id.TestCaseID, owner *id.UserID, createdBy id.UserID, in TestCaseInput, now time.Time) (*TestCase, error) {
	if in.parsedPayload == nil {
		if err := in.Normalize(nil); err != nil {
			return nil, err
		}
	}
	if in.parsedPayload.Type() != in.parsedType {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "payload variant does not match type")
	}
	var ownerCopy *id.UserID
	if owner != nil {
		o := *owner
		ownerCopy = &o
	}
	return &TestCase{
		ID:                 tcID,
		OwnerID:            ownerCopy,
		CreatedBy:          createdBy,
		Name:               in.Name,
		Type:               in.parsedType,
		Payload:            in.parsedPayload,
		Context:            in.Context,
		RetrievalContext:   in.RetrievalContext,
		AdditionalMetadata: in.AdditionalMetadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (tc *TestCase) IsGlobal() bool { return tc.OwnerID == nil }

// NameKey is the case-insensitive uniqueness key of the name.
func (tc *TestCase) NameKey() string { return NameKey(tc.Name) }

// NameKey folds a name for uniqueness comparisons.
func NameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// VisibleTo reports whether a can read the test case.
func (tc *TestCase) VisibleTo(a Actor) bool {
	return tc.IsGlobal() || *tc.OwnerID == a.UserID
}

// AuthorizeMutation checks a may update or delete the test case. Someone
// else's owned test case is reported as not found; a global one the actor may
// read but not change is forbidden.
func (tc *TestCase) AuthorizeMutation(a Actor) error {
	if tc.IsGlobal() {
		if a.Privileged || tc.CreatedBy == a.UserID {
			return nil
		}
		return dErrors.New(dErrors.CodeForbidden, "global test cases can only be modified by a privileged user or their creator")
	}
	if *tc.OwnerID != a.UserID {
		return dErrors.New(dErrors.CodeNotFound, "test case not found")
	}
	return nil
}

// Replace applies a full-replacement update. The type tag is immutable and
// ownership cannot change; both are validation errors.
func (tc *TestCase) Replace(in TestCaseInput, keep FieldSet, now time.Time) error {
	if in.parsedType != tc.Type {
		return dErrors.Field(FieldType, "cannot change from "+string(tc.Type)+" to "+string(in.parsedType))
	}
	if in.Global != nil && *in.Global != tc.IsGlobal() {
		return dErrors.Field(FieldGlobal, "cannot be changed after creation")
	}
	if !keep.Has(FieldName) {
		tc.Name = in.Name
	}
	if !keep.Has(FieldPayload) {
		tc.Payload = in.parsedPayload
	}
	if !keep.Has(FieldContext) {
		tc.Context = in.Context
	}
	if !keep.Has(FieldRetrievalContext) {
		tc.RetrievalContext = in.RetrievalContext
	}
	if !keep.Has(FieldAdditionalMetadata) {
		tc.AdditionalMetadata = in.AdditionalMetadata
	}
	tc.UpdatedAt = now
	return nil
}

func (tc *TestCase) Clone() *TestCase {
	c := *tc
	if tc.OwnerID != nil {
		o := *tc.OwnerID
		c.OwnerID = &o
	}
	if tc.Payload != nil {
		c.Payload = tc.Payload.clone()
	}
	c.Context = normalizeStrings(tc.Context)
	c.RetrievalContext = normalizeStrings(tc.RetrievalContext)
	c.AdditionalMetadata = slices.Clone(tc.AdditionalMetadata)
	return &c
}

// TestCaseScope selects which test cases a by-type listing includes.
type TestCaseScope string

const (
	ScopeOwned TestCaseScope = "owned"
	ScopeAll   TestCaseScope = "all"
)

// ParseTestCaseScope defaults an empty scope to all.
func ParseTestCaseScope(s string) (TestCaseScope, error) {
	switch TestCaseScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeOwned:
		return ScopeOwned, nil
	}
	return "", dErrors.Field("scope", "must be owned or all")
}

// UnmarshalJSON rehydrates the payload variant from the type tag.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	type plain TestCase
	aux := struct {
		*plain
		Payload json.RawMessage `json:"payload"`
	}{plain: (*plain)(tc)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if string(tc.AdditionalMetadata) == "null" {
		tc.AdditionalMetadata = nil
	}
	if len(aux.Payload) == 0 || string(aux.Payload) == "null" {
		tc.Payload = nil
		return nil
	}
	p, err := DecodeStoredPayload(tc.Type, aux.Payload)
	if err != nil {
		return err
	}
	tc.Payload = p
	return nil
}
