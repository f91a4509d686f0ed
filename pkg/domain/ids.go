// Package domain holds the typed identifiers shared across evalledger.
//
// Each entity gets its own named UUID type so the compiler rejects passing a
// RunID where an ExperimentID is expected. Parse* functions are the trust
// boundary: they reject empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"github.com/google/uuid"

	dErrors "evalledger/pkg/domain-errors"
)

type (
	UserID       uuid.UUID
	ExperimentID uuid.UUID
	RunID        uuid.UUID
	TestCaseID   uuid.UUID
	TestResultID uuid.UUID
)

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id ExperimentID) String() string { return uuid.UUID(id).String() }
func (id RunID) String() string        { return uuid.UUID(id).String() }
func (id TestCaseID) String() string   { return uuid.UUID(id).String() }
func (id TestResultID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ExperimentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RunID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id TestCaseID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TestResultID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps IDs as canonical UUID strings in JSON.
func (id UserID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id ExperimentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RunID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id TestCaseID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id TestResultID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error       { return unmarshalID(id, b, "user ID") }
func (id *ExperimentID) UnmarshalText(b []byte) error { return unmarshalID(id, b, "experiment ID") }
func (id *RunID) UnmarshalText(b []byte) error        { return unmarshalID(id, b, "run ID") }
func (id *TestCaseID) UnmarshalText(b []byte) error   { return unmarshalID(id, b, "test case ID") }
func (id *TestResultID) UnmarshalText(b []byte) error { return unmarshalID(id, b, "test result ID") }

func ParseUserID(s string) (UserID, error) {
	return parseID[UserID](s, "user ID")
}

func ParseExperimentID(s string) (ExperimentID, error) {
	return parseID[ExperimentID](s, "experiment ID")
}

func ParseRunID(s string) (RunID, error) {
	return parseID[RunID](s, "run ID")
}

func ParseTestCaseID(s string) (TestCaseID, error) {
	return parseID[TestCaseID](s, "test case ID")
}

func ParseTestResultID(s string) (TestResultID, error) {
	return parseID[TestResultID](s, "test result ID")
}

// NewExperimentID and friends mint fresh random identifiers.
func NewExperimentID() ExperimentID { return ExperimentID(uuid.New()) }
func NewRunID() RunID               { return RunID(uuid.New()) }
func NewTestCaseID() TestCaseID     { return TestCaseID(uuid.New()) }
func NewTestResultID() TestResultID { return TestResultID(uuid.New()) }

func parseID[T ~[16]byte](s, label string) (T, error) {
	var zero T
	if s == "" {
		return zero, dErrors.New(dErrors.CodeInvalidInput, label+" required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return zero, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if parsed == uuid.Nil {
		return zero, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return T(parsed), nil
}

func unmarshalID[T ~[16]byte](dst *T, b []byte, label string) error {
	parsed, err := parseID[T](string(b), label)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}
