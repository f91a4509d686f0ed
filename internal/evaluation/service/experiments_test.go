package service

import (
	"context"
	"encoding/json"

	"evalledger/internal/evaluation/models"
	"evalledger/internal/evaluation/store"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"
)

func (s *ServiceSuite) TestCreateExperiment() {
	s.Run("stores trimmed name and config", func() {
		desc := "  baseline prompts  "
		exp, err := s.service.CreateExperiment(s.ctx, s.alice, models.ExperimentInput{
			Name:        "  Prompt v1 ",
			Description: &desc,
			Config:      json.RawMessage(`{"model":"gpt-4o"}`),
		})
		s.Require().NoError(err)
		s.Equal("Prompt v1", exp.Name)
		s.Require().NotNil(exp.Description)
		s.Equal("baseline prompts", *exp.Description)
		s.Equal(s.alice.UserID, exp.OwnerID)
		s.Equal(fixedNow, exp.CreatedAt)
		s.JSONEq(`{"model":"gpt-4o"}`, string(exp.Config))
	})

	s.Run("blank name is a validation error", func() {
		_, err := s.service.CreateExperiment(s.ctx, s.alice, models.ExperimentInput{Name: "   "})
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "name")
	})

	s.Run("non-object config is a validation error", func() {
		_, err := s.service.CreateExperiment(s.ctx, s.alice, models.ExperimentInput{
			Name:   "arr",
			Config: json.RawMessage(`[1,2]`),
		})
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "config")
	})

	s.Run("names are unique per owner ignoring case", func() {
		s.mustExperiment(s.alice, "Shared Name")

		_, err := s.service.CreateExperiment(s.ctx, s.alice, models.ExperimentInput{Name: "shared name"})
		s.requireCode(err, dErrors.CodeConflict)
		s.Equal(map[string]string{"name": "already in use"}, dErrors.FieldsOf(err))

		_, err = s.service.CreateExperiment(s.ctx, s.bob, models.ExperimentInput{Name: "Shared Name"})
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestGetAndListExperiments() {
	first := s.mustExperiment(s.alice, "first")
	second := s.mustExperiment(s.alice, "second")
	s.mustExperiment(s.bob, "bob's")
	run := s.mustRun(s.alice, first.ID)

	s.Run("get includes runs", func() {
		got, err := s.service.GetExperiment(s.ctx, s.alice, first.ID)
		s.Require().NoError(err)
		s.Equal(first.ID, got.ID)
		s.Require().Len(got.Runs, 1)
		s.Equal(run.ID, got.Runs[0].ID)
	})

	s.Run("someone else's experiment is not found", func() {
		_, err := s.service.GetExperiment(s.ctx, s.bob, first.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("unknown experiment is not found", func() {
		_, err := s.service.GetExperiment(s.ctx, s.alice, id.ExperimentID(uuid.New()))
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("list returns only owned experiments in creation order", func() {
		exps, err := s.service.ListExperiments(s.ctx, s.alice, models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(exps, 2)
		s.Equal(first.ID, exps[0].ID)
		s.Equal(second.ID, exps[1].ID)
	})

	s.Run("list honors skip and limit", func() {
		exps, err := s.service.ListExperiments(s.ctx, s.alice, models.Page{Skip: 1, Limit: 1})
		s.Require().NoError(err)
		s.Require().Len(exps, 1)
		s.Equal(second.ID, exps[0].ID)

		_, err = s.service.ListExperiments(s.ctx, s.alice, models.Page{Skip: 0, Limit: 101})
		s.requireCode(err, dErrors.CodeValidation)
	})
}

func (s *ServiceSuite) TestUpdateExperiment() {
	desc := "keep me"
	exp, err := s.service.CreateExperiment(s.ctx, s.alice, models.ExperimentInput{
		Name:        "original",
		Description: &desc,
		Config:      json.RawMessage(`{"a":1}`),
	})
	s.Require().NoError(err)

	s.Run("absent fields become null unless listed as unchanged", func() {
		updated, err := s.service.UpdateExperiment(s.ctx, s.alice, exp.ID,
			models.ExperimentInput{Name: "renamed"}, []string{"description"})
		s.Require().NoError(err)
		s.Equal("renamed", updated.Name)
		s.Require().NotNil(updated.Description)
		s.Equal("keep me", *updated.Description)
		s.Nil(updated.Config)
	})

	s.Run("unknown unchanged field is rejected", func() {
		_, err := s.service.UpdateExperiment(s.ctx, s.alice, exp.ID,
			models.ExperimentInput{Name: "x"}, []string{"owner_id"})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("non-owner gets not found", func() {
		_, err := s.service.UpdateExperiment(s.ctx, s.bob, exp.ID, models.ExperimentInput{Name: "hijack"}, nil)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("renaming onto another experiment conflicts", func() {
		s.mustExperiment(s.alice, "taken")
		_, err := s.service.UpdateExperiment(s.ctx, s.alice, exp.ID, models.ExperimentInput{Name: "TAKEN"}, nil)
		s.requireCode(err, dErrors.CodeConflict)
	})
}

// mustResults records n results for run against tc in one batch.
func (s *ServiceSuite) mustResults(actor models.Actor, runID id.RunID, tcID id.TestCaseID, n int) []*models.TestResult {
	s.T().Helper()
	inputs := make([]models.TestResultInput, n)
	for i := range inputs {
		inputs[i] = resultInput(runID, tcID, false)
	}
	report, err := s.service.CreateTestResultsBatch(s.ctx, actor, inputs)
	s.Require().NoError(err)
	return report.Results
}

func (s *ServiceSuite) TestDeleteExperimentCascades() {
	s.publisher.EXPECT().PublishResultsIngested(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	exp := s.mustExperiment(s.alice, "to delete")
	sibling := s.mustExperiment(s.alice, "sibling")
	tc := s.mustTestCase(s.alice, "q1", models.TestCaseTypeLLM)

	runs := []*models.Run{s.mustRun(s.alice, exp.ID), s.mustRun(s.alice, exp.ID)}
	var results []*models.TestResult
	for _, run := range runs {
		results = append(results, s.mustResults(s.alice, run.ID, tc.ID, 2)...)
	}
	siblingRun := s.mustRun(s.alice, sibling.ID)
	siblingResults := s.mustResults(s.alice, siblingRun.ID, tc.ID, 2)

	_, err := s.service.DeleteExperiment(s.ctx, s.bob, exp.ID)
	s.requireCode(err, dErrors.CodeNotFound)

	deleted, err := s.service.DeleteExperiment(s.ctx, s.alice, exp.ID)
	s.Require().NoError(err)
	s.Equal(exp.ID, deleted.ID)

	s.Run("the experiment and everything under it is gone", func() {
		_, err := s.service.GetExperiment(s.ctx, s.alice, exp.ID)
		s.requireCode(err, dErrors.CodeNotFound)
		for _, run := range runs {
			_, err = s.service.GetRun(s.ctx, s.alice, run.ID)
			s.requireCode(err, dErrors.CodeNotFound)
		}
		for _, res := range results {
			_, err = s.service.GetTestResult(s.ctx, s.alice, res.ID)
			s.requireCode(err, dErrors.CodeNotFound)
		}
	})

	s.Run("sibling experiments keep their runs and results", func() {
		got, err := s.service.GetExperiment(s.ctx, s.alice, sibling.ID)
		s.Require().NoError(err)
		s.Require().Len(got.Runs, 1)
		s.Equal(siblingRun.ID, got.Runs[0].ID)

		withResults, err := s.service.GetRun(s.ctx, s.alice, siblingRun.ID)
		s.Require().NoError(err)
		s.Require().Len(withResults.TestResults, 2)
		s.Equal(siblingResults[0].ID, withResults.TestResults[0].ID)
		s.Equal(siblingResults[1].ID, withResults.TestResults[1].ID)
	})

	s.Run("test cases are not part of the experiment hierarchy", func() {
		_, err := s.service.GetTestCase(s.ctx, s.alice, tc.ID)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestGetExperimentIsRepeatable() {
	exp := s.mustExperiment(s.alice, "stable")
	s.mustRun(s.alice, exp.ID)
	s.mustRun(s.alice, exp.ID)

	first, err := s.service.GetExperiment(s.ctx, s.alice, exp.ID)
	s.Require().NoError(err)
	second, err := s.service.GetExperiment(s.ctx, s.alice, exp.ID)
	s.Require().NoError(err)
	s.Equal(first, second)
	s.Len(second.Runs, 2)
}

// txMarker tags contexts handed out by markingTx.
type txMarker struct{}

// markingTx tags every transaction context so readsAuditStore can tell which
// reads ran inside one.
type markingTx struct {
	*store.InMemory
}

func (m markingTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return m.InMemory.RunInTx(ctx, func(txCtx context.Context) error {
		return fn(context.WithValue(txCtx, txMarker{}, true))
	})
}

// readsAuditStore records parent locks and child listings with whether they
// ran in a transaction.
type readsAuditStore struct {
	*store.InMemory
	reads []string
}

func (a *readsAuditStore) note(ctx context.Context, what string) {
	if ctx.Value(txMarker{}) != nil {
		what += " in tx"
	}
	a.reads = append(a.reads, what)
}

func (a *readsAuditStore) FindExperimentForUpdate(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error) {
	a.note(ctx, "lock experiment")
	return a.InMemory.FindExperimentForUpdate(ctx, expID)
}

func (a *readsAuditStore) ListRunsByExperiment(ctx context.Context, expID id.ExperimentID) ([]*models.Run, error) {
	a.note(ctx, "list runs")
	return a.InMemory.ListRunsByExperiment(ctx, expID)
}

func (a *readsAuditStore) FindRunForUpdate(ctx context.Context, runID id.RunID) (*models.Run, error) {
	a.note(ctx, "lock run")
	return a.InMemory.FindRunForUpdate(ctx, runID)
}

func (a *readsAuditStore) ListTestResultsByRun(ctx context.Context, runID id.RunID) ([]*models.TestResult, error) {
	a.note(ctx, "list results")
	return a.InMemory.ListTestResultsByRun(ctx, runID)
}

func (s *ServiceSuite) TestParentAndChildrenReadTogether() {
	exp := s.mustExperiment(s.alice, "snapshot")
	run := s.mustRun(s.alice, exp.ID)

	audit := &readsAuditStore{InMemory: s.store}
	svc := New(audit, markingTx{InMemory: s.store})

	s.Run("experiment with runs", func() {
		audit.reads = nil
		got, err := svc.GetExperiment(s.ctx, s.alice, exp.ID)
		s.Require().NoError(err)
		s.Len(got.Runs, 1)
		s.Equal([]string{"lock experiment in tx", "list runs in tx"}, audit.reads)
	})

	s.Run("run with results", func() {
		audit.reads = nil
		got, err := svc.GetRun(s.ctx, s.alice, run.ID)
		s.Require().NoError(err)
		s.Empty(got.TestResults)
		s.Equal([]string{"lock run in tx", "list results in tx"}, audit.reads)
	})
}
