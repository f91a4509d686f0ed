package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

func (s *ServiceSuite) TestCreateTestResult() {
	exp := s.mustExperiment(s.alice, "results")
	run := s.mustRun(s.alice, exp.ID)
	llm := s.mustTestCase(s.alice, "llm", models.TestCaseTypeLLM)
	chat := s.mustTestCase(s.alice, "chat", models.TestCaseTypeConversational)
	foreign := s.mustTestCase(s.bob, "bob's", models.TestCaseTypeLLM)

	s.Run("records the result and publishes one event", func() {
		var published models.ResultsIngested
		s.publisher.EXPECT().PublishResultsIngested(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, ev models.ResultsIngested) error {
				published = ev
				return nil
			})

		res, err := s.service.CreateTestResult(s.ctx, s.alice, resultInput(run.ID, llm.ID, false))
		s.Require().NoError(err)
		s.Equal(run.ID, res.RunID)
		s.Equal(fixedNow, res.ExecutedAt)
		s.Equal(run.ID, published.RunID)
		s.Equal([]id.TestResultID{res.ID}, published.ResultIDs)
		s.Equal(1, published.Succeeded)
	})

	s.Run("conversational flag must agree with the test case", func() {
		_, err := s.service.CreateTestResult(s.ctx, s.alice, resultInput(run.ID, chat.ID, false))
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "conversational")
	})

	s.Run("multimodal flag must agree when present", func() {
		in := resultInput(run.ID, llm.ID, false)
		in.Multimodal = boolPtr(true)
		_, err := s.service.CreateTestResult(s.ctx, s.alice, in)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "multimodal")
	})

	s.Run("another user's test case is not found", func() {
		_, err := s.service.CreateTestResult(s.ctx, s.alice, resultInput(run.ID, foreign.ID, false))
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("another user's run is not found", func() {
		_, err := s.service.CreateTestResult(s.ctx, s.bob, resultInput(run.ID, foreign.ID, false))
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("missing score is a validation error", func() {
		in := resultInput(run.ID, llm.ID, false)
		in.MetricsData = []models.MetricData{{Name: "relevancy"}}
		_, err := s.service.CreateTestResult(s.ctx, s.alice, in)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "metrics_data[0].score")
	})

	s.Run("publish failure does not fail the request", func() {
		s.publisher.EXPECT().PublishResultsIngested(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
		_, err := s.service.CreateTestResult(s.ctx, s.alice, resultInput(run.ID, llm.ID, false))
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestCreateTestResultsBatch() {
	exp := s.mustExperiment(s.alice, "batch")
	runA := s.mustRun(s.alice, exp.ID)
	runB := s.mustRun(s.alice, exp.ID)
	llm := s.mustTestCase(s.alice, "llm", models.TestCaseTypeLLM)
	chat := s.mustTestCase(s.alice, "chat", models.TestCaseTypeConversational)

	s.Run("one invalid item rejects the whole batch", func() {
		bad := resultInput(runA.ID, llm.ID, false)
		bad.RunID = "not-a-uuid"
		inputs := []models.TestResultInput{
			resultInput(runA.ID, llm.ID, false),
			bad,
			resultInput(runA.ID, chat.ID, false),
			resultInput(runA.ID, chat.ID, true),
		}

		report, err := s.service.CreateTestResultsBatch(s.ctx, s.alice, inputs)
		s.requireCode(err, dErrors.CodeValidation)
		s.Require().NotNil(report)
		s.Require().Len(report.Items, 4)
		s.Equal(models.BatchItemAborted, report.Items[0].Status)
		s.Equal(models.BatchItemFailed, report.Items[1].Status)
		s.Contains(report.Items[1].Fields, "run_id")
		s.Equal(models.BatchItemFailed, report.Items[2].Status)
		s.Equal(string(dErrors.CodeValidation), report.Items[2].Code)
		s.Equal(models.BatchItemAborted, report.Items[3].Status)
		s.Equal(2, report.Failed())
		s.Empty(report.Results)

		results, err := s.service.ListTestResults(s.ctx, s.alice, runA.ID)
		s.Require().NoError(err)
		s.Empty(results)
	})

	s.Run("valid batch is stored in order with one event per run", func() {
		var events []models.ResultsIngested
		s.publisher.EXPECT().PublishResultsIngested(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, ev models.ResultsIngested) error {
				events = append(events, ev)
				return nil
			}).Times(2)

		inputs := []models.TestResultInput{
			resultInput(runA.ID, llm.ID, false),
			resultInput(runB.ID, chat.ID, true),
			resultInput(runA.ID, chat.ID, true),
		}
		report, err := s.service.CreateTestResultsBatch(s.ctx, s.alice, inputs)
		s.Require().NoError(err)
		s.Require().Len(report.Results, 3)
		for i, item := range report.Items {
			s.Equal(models.BatchItemCreated, item.Status)
			s.Require().NotNil(item.ID)
			s.Equal(report.Results[i].ID, *item.ID)
		}

		results, err := s.service.ListTestResults(s.ctx, s.alice, runA.ID)
		s.Require().NoError(err)
		s.Require().Len(results, 2)
		s.Equal(report.Results[0].ID, results[0].ID)
		s.Equal(report.Results[2].ID, results[1].ID)

		s.Require().Len(events, 2)
		s.Equal(runA.ID, events[0].RunID)
		s.Len(events[0].ResultIDs, 2)
		s.Equal(runB.ID, events[1].RunID)
	})

	s.Run("empty and oversized batches are rejected", func() {
		_, err := s.service.CreateTestResultsBatch(s.ctx, s.alice, nil)
		s.requireCode(err, dErrors.CodeValidation)

		inputs := make([]models.TestResultInput, 6)
		for i := range inputs {
			inputs[i] = resultInput(runA.ID, llm.ID, false)
		}
		_, err = s.service.CreateTestResultsBatch(s.ctx, s.alice, inputs)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "items")
	})

	s.Run("unknown run fails only the referencing items", func() {
		inputs := []models.TestResultInput{
			resultInput(id.RunID(uuid.New()), llm.ID, false),
			resultInput(runA.ID, llm.ID, false),
		}
		report, err := s.service.CreateTestResultsBatch(s.ctx, s.alice, inputs)
		s.requireCode(err, dErrors.CodeValidation)
		s.Equal(string(dErrors.CodeNotFound), report.Items[0].Code)
		s.Equal(models.BatchItemAborted, report.Items[1].Status)
	})
}

func (s *ServiceSuite) TestBatchWithUnknownTestCaseMidway() {
	exp := s.mustExperiment(s.alice, "midway")
	run := s.mustRun(s.alice, exp.ID)
	tc := s.mustTestCase(s.alice, "llm", models.TestCaseTypeLLM)

	inputs := make([]models.TestResultInput, 5)
	for i := range inputs {
		inputs[i] = resultInput(run.ID, tc.ID, false)
	}
	inputs[2] = resultInput(run.ID, id.TestCaseID(uuid.New()), false)

	report, err := s.service.CreateTestResultsBatch(s.ctx, s.alice, inputs)
	s.requireCode(err, dErrors.CodeValidation)
	s.Require().NotNil(report)
	s.Require().Len(report.Items, 5)
	for i, item := range report.Items {
		s.Equal(i, item.Index)
		if i == 2 {
			s.Equal(models.BatchItemFailed, item.Status)
			s.Equal(string(dErrors.CodeNotFound), item.Code)
			continue
		}
		s.Equal(models.BatchItemAborted, item.Status, "item %d", i)
		s.Nil(item.ID)
	}
	s.Equal(1, report.Failed())
	s.Empty(report.Results)

	withResults, err := s.service.GetRun(s.ctx, s.alice, run.ID)
	s.Require().NoError(err)
	s.Empty(withResults.TestResults)
}

func (s *ServiceSuite) TestRecordAndReadBackRun() {
	s.publisher.EXPECT().PublishResultsIngested(gomock.Any(), gomock.Any()).Return(nil)
	hyperparameters := `{"model":"gpt-4","temperature":0.7}`

	exp := s.mustExperiment(s.alice, "Exp1")
	run, err := s.service.CreateRun(s.ctx, s.alice, exp.ID, models.RunInput{
		GitCommit:       "r1",
		Hyperparameters: []byte(hyperparameters),
	})
	s.Require().NoError(err)
	tc := s.mustTestCase(s.alice, "tc1", models.TestCaseTypeLLM)

	in := resultInput(run.ID, tc.ID, false)
	actual := "4"
	in.ActualOutput = &actual
	res, err := s.service.CreateTestResult(s.ctx, s.alice, in)
	s.Require().NoError(err)

	got, err := s.service.GetRun(s.ctx, s.alice, run.ID)
	s.Require().NoError(err)
	s.Equal(hyperparameters, string(got.Hyperparameters))
	s.Require().Len(got.TestResults, 1)
	s.Equal(res.ID, got.TestResults[0].ID)
	s.Require().NotNil(got.TestResults[0].ActualOutput)
	s.Equal("4", *got.TestResults[0].ActualOutput)
}

func (s *ServiceSuite) TestResultsOutliveTestCase() {
	exp := s.mustExperiment(s.alice, "survive")
	run := s.mustRun(s.alice, exp.ID)
	tc := s.mustTestCase(s.alice, "ephemeral", models.TestCaseTypeLLM)
	s.publisher.EXPECT().PublishResultsIngested(gomock.Any(), gomock.Any()).Return(nil)
	res, err := s.service.CreateTestResult(s.ctx, s.alice, resultInput(run.ID, tc.ID, false))
	s.Require().NoError(err)

	_, err = s.service.DeleteTestCase(s.ctx, s.alice, tc.ID)
	s.Require().NoError(err)

	got, err := s.service.GetTestResult(s.ctx, s.alice, res.ID)
	s.Require().NoError(err)
	s.Equal(tc.ID, got.TestCaseID)

	withResults, err := s.service.GetRun(s.ctx, s.alice, run.ID)
	s.Require().NoError(err)
	s.Len(withResults.TestResults, 1)
}

func (s *ServiceSuite) TestDeleteRun() {
	exp := s.mustExperiment(s.alice, "runs")
	run := s.mustRun(s.alice, exp.ID)

	_, err := s.service.DeleteRun(s.ctx, s.bob, run.ID)
	s.requireCode(err, dErrors.CodeNotFound)

	deleted, err := s.service.DeleteRun(s.ctx, s.alice, run.ID)
	s.Require().NoError(err)
	s.Equal(run.ID, deleted.ID)

	runs, err := s.service.ListRuns(s.ctx, s.alice, exp.ID)
	s.Require().NoError(err)
	s.Empty(runs)
}

func (s *ServiceSuite) TestUpdateRun() {
	exp := s.mustExperiment(s.alice, "runs")
	run, err := s.service.CreateRun(s.ctx, s.alice, exp.ID, models.RunInput{
		GitCommit:       "abc123",
		Hyperparameters: []byte(`{"temperature":0.2}`),
	})
	s.Require().NoError(err)

	updated, err := s.service.UpdateRun(s.ctx, s.alice, run.ID, models.RunInput{GitCommit: "def456"}, []string{"hyperparameters"})
	s.Require().NoError(err)
	s.Equal("def456", updated.GitCommit)
	s.JSONEq(`{"temperature":0.2}`, string(updated.Hyperparameters))
	s.Equal(exp.ID, updated.ExperimentID)

	_, err = s.service.UpdateRun(s.ctx, s.alice, run.ID, models.RunInput{GitCommit: " "}, nil)
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.CreateRun(s.ctx, s.bob, exp.ID, models.RunInput{GitCommit: "x"})
	s.requireCode(err, dErrors.CodeNotFound)
}
