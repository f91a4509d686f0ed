package models

import (
	"encoding/json"
	"slices"
	"time"

	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

// Experiment fields an update may keep via "unchanged".
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldConfig      = "config"
)

var ExperimentMutableFields = []string{FieldName, FieldDescription, FieldConfig}

// Experiment is the root of the evaluation hierarchy.
//
// Invariants:
//   - Name is non-empty, trimmed and at most 255 characters
//   - (OwnerID, lower(Name)) is unique
//   - OwnerID is immutable
type Experiment struct {
	ID          id.ExperimentID `json:"id"`
	OwnerID     id.UserID       `json:"owner_id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Config      json.RawMessage `json:"config"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ExperimentWithRuns is an experiment plus its runs, oldest first.
type ExperimentWithRuns struct {
	*Experiment
	Runs []*Run `json:"runs"`
}

// ExperimentInput carries the mutable fields of an experiment.
type ExperimentInput struct {
	Name        string
	Description *string
	Config      json.RawMessage
}

// Normalize trims and validates the input. Fields listed in keep are skipped.
func (in *ExperimentInput) Normalize(keep FieldSet) error {
	if !keep.Has(FieldName) {
		name, err := normalizeName(FieldName, in.Name, MaxNameLength)
		if err != nil {
			return err
		}
		in.Name = name
	}
	if !keep.Has(FieldDescription) {
		desc, err := normalizeOptionalText(FieldDescription, in.Description, MaxDescriptionLength)
		if err != nil {
			return err
		}
		in.Description = desc
	}
	if !keep.Has(FieldConfig) {
		cfg, err := normalizeObject(FieldConfig, in.Config)
		if err != nil {
			return err
		}
		in.Config = cfg
	}
	return nil
}

// NewExperiment builds an experiment from normalized input.
func NewExperiment(expID id.ExperimentID, owner id.UserID, in ExperimentInput, now time.Time) (*Experiment, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "experiment owner is required")
	}
	if err := in.Normalize(nil); err != nil {
		return nil, err
	}
	return &Experiment{
		ID:          expID,
		OwnerID:     owner,
		Name:        in.Name,
		Description: in.Description,
		Config:      in.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Replace applies a full-replacement update. Fields in keep retain their
// stored value; every other field takes the input value, absent becoming null.
func (e *Experiment) Replace(in ExperimentInput, keep FieldSet, now time.Time) {
	if !keep.Has(FieldName) {
		e.Name = in.Name
	}
	if !keep.Has(FieldDescription) {
		e.Description = in.Description
	}
	if !keep.Has(FieldConfig) {
		e.Config = in.Config
	}
	e.UpdatedAt = now
}

// Clone returns a deep copy.
func (e *Experiment) Clone() *Experiment {
	c := *e
	if e.Description != nil {
		d := *e.Description
		c.Description = &d
	}
	c.Config = slices.Clone(e.Config)
	return &c
}
