// Package domainerrors carries the error taxonomy shared by services and the
// transport layer. Services return *Error values with a Code; handlers turn the
// Code into an HTTP status in exactly one place (httputil.WriteError).
package domainerrors

import (
	"errors"
	"fmt"
	"maps"
)

// Code classifies a domain failure.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeDependency         Code = "dependency_unavailable"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error. Fields holds field-level detail for
// validation and conflict errors (field name -> reason).
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Field creates a validation error naming the offending field.
func Field(field, reason string) error {
	return &Error{
		Code:    CodeValidation,
		Message: field + ": " + reason,
		Fields:  map[string]string{field: reason},
	}
}

// ConflictOn creates a conflict error naming the conflicting field.
func ConflictOn(field, message string) error {
	return &Error{
		Code:    CodeConflict,
		Message: message,
		Fields:  map[string]string{field: "already in use"},
	}
}

// WithPrefix returns a copy of err whose field names are prefixed, so nested
// validation can report paths like "payload.turns[0].role".
func WithPrefix(err error, prefix string) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	out := &Error{Code: de.Code, Message: prefix + "." + de.Message, Err: de.Err}
	if len(de.Fields) > 0 {
		out.Fields = make(map[string]string, len(de.Fields))
		for k, v := range de.Fields {
			out.Fields[prefix+"."+k] = v
		}
	}
	return out
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost *Error in err's chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// FieldsOf returns field-level detail from the outermost *Error, if any.
func FieldsOf(err error) map[string]string {
	var de *Error
	if errors.As(err, &de) && len(de.Fields) > 0 {
		return maps.Clone(de.Fields)
	}
	return nil
}

// MessageOf returns the client-facing message of the outermost *Error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
