package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
	"evalledger/pkg/requestcontext"
)

const msgTestResultNotFound = "test result not found"

// CreateTestResult records a single result against an owned run and a visible
// test case.
func (s *Service) CreateTestResult(ctx context.Context, actor models.Actor, in models.TestResultInput) (_ *models.TestResult, err error) {
	ctx, end := s.begin(ctx, "create_test_result", actor)
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := in.Normalize(); err != nil {
		return nil, err
	}

	var res *models.TestResult
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		refs := newRefResolver(s, actor)
		if err := refs.check(txCtx, &in); err != nil {
			return err
		}
		r := models.NewTestResult(id.NewTestResultID(), in, now(txCtx))
		if err := s.store.CreateTestResults(txCtx, []*models.TestResult{r}); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}

	s.metrics.IncrementCreated("test_result")
	s.metrics.AddResultsIngested(1)
	s.publishIngested(ctx, actor, []*models.TestResult{res})
	return res, nil
}

// CreateTestResultsBatch records a batch of results atomically. Every item is
// validated; if any item fails, nothing is written and the returned report
// carries the per-item outcome alongside a validation error.
func (s *Service) CreateTestResultsBatch(ctx context.Context, actor models.Actor, inputs []models.TestResultInput) (_ *models.BatchReport, err error) {
	ctx, end := s.begin(ctx, "create_test_results_batch", actor, attribute.Int("batch.size", len(inputs)))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	switch {
	case len(inputs) == 0:
		return nil, dErrors.Field("items", "must contain at least one result")
	case len(inputs) > s.maxBatchSize:
		return nil, dErrors.Field("items", "must contain at most "+strconv.Itoa(s.maxBatchSize)+" results")
	}
	s.metrics.ObserveBatchSize(len(inputs))

	report := &models.BatchReport{Items: make([]models.BatchItemReport, len(inputs))}
	for i := range inputs {
		report.Items[i] = models.BatchItemReport{Index: i}
		if err := inputs[i].Normalize(); err != nil {
			report.Fail(i, err)
		}
	}

	var results []*models.TestResult
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		refs := newRefResolver(s, actor)
		for i := range inputs {
			if report.Items[i].Status == models.BatchItemFailed {
				continue
			}
			if err := refs.check(txCtx, &inputs[i]); err != nil {
				if !isItemError(err) {
					return err
				}
				report.Fail(i, err)
			}
		}
		if report.Failed() > 0 {
			return errBatchRejected
		}

		at := now(txCtx)
		results = make([]*models.TestResult, len(inputs))
		for i := range inputs {
			results[i] = models.NewTestResult(id.NewTestResultID(), inputs[i], at)
		}
		return s.store.CreateTestResults(txCtx, results)
	})
	if errors.Is(err, errBatchRejected) {
		failed := report.Failed()
		for i := range report.Items {
			if report.Items[i].Status != models.BatchItemFailed {
				report.Items[i].Status = models.BatchItemAborted
			}
		}
		s.metrics.IncrementBatchRejected()
		s.logger.InfoContext(ctx, "test result batch rejected",
			"request_id", requestcontext.RequestID(ctx),
			"items", len(inputs),
			"failed", failed,
		)
		return report, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("batch rejected: %d of %d items failed", failed, len(inputs)))
	}
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}

	for i, r := range results {
		resID := r.ID
		report.Items[i].Status = models.BatchItemCreated
		report.Items[i].ID = &resID
	}
	report.Results = results

	s.metrics.AddResultsIngested(len(results))
	s.logger.InfoContext(ctx, "test result batch ingested",
		"request_id", requestcontext.RequestID(ctx),
		"items", len(results),
	)
	s.publishIngested(ctx, actor, results)
	return report, nil
}

// GetTestResult returns a result whose run belongs to one of the actor's
// experiments.
func (s *Service) GetTestResult(ctx context.Context, actor models.Actor, resID id.TestResultID) (_ *models.TestResult, err error) {
	ctx, end := s.begin(ctx, "get_test_result", actor, attribute.String("test_result.id", resID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	res, err := s.store.FindTestResult(ctx, resID)
	if err != nil {
		return nil, wrapStoreErr(err, msgTestResultNotFound)
	}
	if _, err := s.ownedRun(ctx, actor, res.RunID, false); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, msgTestResultNotFound)
		}
		return nil, err
	}
	return res, nil
}

// ListTestResults returns the results of an owned run, oldest first.
func (s *Service) ListTestResults(ctx context.Context, actor models.Actor, runID id.RunID) (_ []*models.TestResult, err error) {
	ctx, end := s.begin(ctx, "list_test_results", actor, attribute.String("run.id", runID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.ownedRun(ctx, actor, runID, false); err != nil {
		return nil, err
	}
	results, err := s.store.ListTestResultsByRun(ctx, runID)
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}
	return results, nil
}

// publishIngested emits one event per run. Results are already committed, so
// publish failures are logged and counted, never returned.
func (s *Service) publishIngested(ctx context.Context, actor models.Actor, results []*models.TestResult) {
	if s.publisher == nil || len(results) == 0 {
		return
	}
	for _, ev := range models.GroupByRun(results, actor.UserID, now(ctx)) {
		if err := s.publisher.PublishResultsIngested(ctx, ev); err != nil {
			s.metrics.IncrementEventPublishFailure()
			s.logger.WarnContext(ctx, "failed to publish results ingested event",
				"request_id", requestcontext.RequestID(ctx),
				"run_id", ev.RunID,
				"results", len(ev.ResultIDs),
				"error", err,
			)
		}
	}
}
