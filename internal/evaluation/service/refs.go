package service

import (
	"context"
	"errors"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

// errBatchRejected rolls back a batch transaction after item failures.
var errBatchRejected = errors.New("batch rejected")

// refResolver checks the run and test case references of result inputs,
// memoizing lookups so a batch touching the same run reads it once.
type refResolver struct {
	s         *Service
	actor     models.Actor
	runs      map[id.RunID]error
	testCases map[id.TestCaseID]*models.TestCase
	tcErrs    map[id.TestCaseID]error
}

func newRefResolver(s *Service, actor models.Actor) *refResolver {
	return &refResolver{
		s:         s,
		actor:     actor,
		runs:      make(map[id.RunID]error),
		testCases: make(map[id.TestCaseID]*models.TestCase),
		tcErrs:    make(map[id.TestCaseID]error),
	}
}

// check verifies existence and ownership of the run, visibility of the test
// case, then variant agreement. in must already be normalized.
func (r *refResolver) check(ctx context.Context, in *models.TestResultInput) error {
	runID := in.ParsedRunID()
	runErr, seen := r.runs[runID]
	if !seen {
		_, runErr = r.s.ownedRun(ctx, r.actor, runID, false)
		r.runs[runID] = runErr
	}
	if runErr != nil {
		return runErr
	}

	tcID := in.ParsedTestCaseID()
	tc, ok := r.testCases[tcID]
	if !ok {
		if err, failed := r.tcErrs[tcID]; failed {
			return err
		}
		var err error
		tc, err = r.s.visibleTestCase(ctx, r.actor, tcID, false)
		if err != nil {
			r.tcErrs[tcID] = err
			return err
		}
		r.testCases[tcID] = tc
	}
	return in.CheckVariant(tc.Type)
}

// isItemError reports whether err describes the item rather than the store.
func isItemError(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeNotFound, dErrors.CodeForbidden:
		return true
	}
	return false
}
