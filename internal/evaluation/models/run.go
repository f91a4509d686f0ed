package models

import (
	"encoding/json"
	"slices"
	"time"

	id "evalledger/pkg/domain"
)

const (
	FieldGitCommit       = "git_commit"
	FieldHyperparameters = "hyperparameters"
)

var RunMutableFields = []string{FieldGitCommit, FieldHyperparameters}

// Run is one evaluation attempt under an experiment.
//
// Invariants:
//   - ExperimentID references an existing experiment and never changes
//   - GitCommit is non-empty; it is an opaque revision identifier
//   - Hyperparameters is stored verbatim
type Run struct {
	ID              id.RunID        `json:"id"`
	ExperimentID    id.ExperimentID `json:"experiment_id"`
	GitCommit       string          `json:"git_commit"`
	Hyperparameters json.RawMessage `json:"hyperparameters"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RunWithResults is a run plus its test results, oldest first.
type RunWithResults struct {
	*Run
	TestResults []*TestResult `json:"test_results"`
}

type RunInput struct {
	GitCommit       string
	Hyperparameters json.RawMessage
}

func (in *RunInput) Normalize(keep FieldSet) error {
	if !keep.Has(FieldGitCommit) {
		commit, err := normalizeName(FieldGitCommit, in.GitCommit, MaxGitCommitLength)
		if err != nil {
			return err
		}
		in.GitCommit = commit
	}
	if !keep.Has(FieldHyperparameters) {
		hp, err := normalizeObject(FieldHyperparameters, in.Hyperparameters)
		if err != nil {
			return err
		}
		in.Hyperparameters = hp
	}
	return nil
}

func NewRun(runID id.RunID, experimentID id.ExperimentID, in RunInput, now time.Time) (*Run, error) {
	if err := in.Normalize(nil); err != nil {
		return nil, err
	}
	return &Run{
		ID:              runID,
		ExperimentID:    experimentID,
		GitCommit:       in.GitCommit,
		Hyperparameters: in.Hyperparameters,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Replace applies a full-replacement update honoring keep.
func (r *Run) Replace(in RunInput, keep FieldSet, now time.Time) {
	if !keep.Has(FieldGitCommit) {
		r.GitCommit = in.GitCommit
	}
	if !keep.Has(FieldHyperparameters) {
		r.Hyperparameters = in.Hyperparameters
	}
	r.UpdatedAt = now
}

func (r *Run) Clone() *Run {
	c := *r
	c.Hyperparameters = slices.Clone(r.Hyperparameters)
	return &c
}
