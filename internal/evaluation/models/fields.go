package models

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	dErrors "evalledger/pkg/domain-errors"
)

const (
	MaxNameLength        = 255
	MaxDescriptionLength = 4096
	MaxGitCommitLength   = 255
)

// FieldSet names mutable fields an update keeps from the stored record.
type FieldSet map[string]struct{}

// ParseFieldSet builds a FieldSet, rejecting names outside allowed.
func ParseFieldSet(names []string, allowed ...string) (FieldSet, error) {
	set := make(FieldSet, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !slices.Contains(allowed, n) {
			return nil, dErrors.Field("unchanged", "unknown field "+strconv.Quote(n)+"; allowed: "+strings.Join(allowed, ", "))
		}
		set[n] = struct{}{}
	}
	return set, nil
}

func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// normalizeName trims and bounds a required name field.
func normalizeName(field, name string, maxLen int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", dErrors.Field(field, "is required")
	}
	if utf8.RuneCountInString(name) > maxLen {
		return "", dErrors.Field(field, "must be at most "+strconv.Itoa(maxLen)+" characters")
	}
	return name, nil
}

// normalizeOptionalText trims an optional text field; blank becomes nil.
func normalizeOptionalText(field string, s *string, maxLen int) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil, nil
	}
	if maxLen > 0 && utf8.RuneCountInString(v) > maxLen {
		return nil, dErrors.Field(field, "must be at most "+strconv.Itoa(maxLen)+" characters")
	}
	return &v, nil
}

// normalizeObject accepts an absent/null value or a JSON object. Contents are
// stored verbatim and never interpreted.
func normalizeObject(field string, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, dErrors.Field(field, "must be a JSON object")
	}
	return json.RawMessage(slices.Clone(trimmed)), nil
}

// normalizeStrings copies a string list; nil stays nil.
func normalizeStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return slices.Clone(in)
}
