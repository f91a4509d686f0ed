package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
	"evalledger/pkg/requestcontext"
)

const msgRunNotFound = "run not found"

// CreateRun attaches a run to an owned experiment.
func (s *Service) CreateRun(ctx context.Context, actor models.Actor, expID id.ExperimentID, in models.RunInput) (_ *models.Run, err error) {
	ctx, end := s.begin(ctx, "create_run", actor, attribute.String("experiment.id", expID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := in.Normalize(nil); err != nil {
		return nil, err
	}

	var run *models.Run
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.ownedExperiment(txCtx, actor, expID, true); err != nil {
			return err
		}
		r, err := models.NewRun(id.NewRunID(), expID, in, now(txCtx))
		if err != nil {
			return err
		}
		if err := s.store.CreateRun(txCtx, r); err != nil {
			return err
		}
		run = r
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}

	s.metrics.IncrementCreated("run")
	s.logger.InfoContext(ctx, "run created",
		"request_id", requestcontext.RequestID(ctx),
		"experiment_id", expID,
		"run_id", run.ID,
	)
	return run, nil
}

// ListRuns returns the runs of an owned experiment, oldest first.
func (s *Service) ListRuns(ctx context.Context, actor models.Actor, expID id.ExperimentID) (_ []*models.Run, err error) {
	ctx, end := s.begin(ctx, "list_runs", actor, attribute.String("experiment.id", expID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.ownedExperiment(ctx, actor, expID, false); err != nil {
		return nil, err
	}
	runs, err := s.store.ListRunsByExperiment(ctx, expID)
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}
	return runs, nil
}

// GetRun returns a run with its results when the actor owns its experiment.
func (s *Service) GetRun(ctx context.Context, actor models.Actor, runID id.RunID) (_ *models.RunWithResults, err error) {
	ctx, end := s.begin(ctx, "get_run", actor, attribute.String("run.id", runID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out *models.RunWithResults
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		run, err := s.ownedRun(txCtx, actor, runID, true)
		if err != nil {
			return err
		}
		results, err := s.store.ListTestResultsByRun(txCtx, runID)
		if err != nil {
			return err
		}
		out = &models.RunWithResults{Run: run, TestResults: results}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}
	return out, nil
}

// UpdateRun replaces the mutable fields of a run. The parent experiment
// cannot change.
func (s *Service) UpdateRun(ctx context.Context, actor models.Actor, runID id.RunID, in models.RunInput, unchanged []string) (_ *models.Run, err error) {
	ctx, end := s.begin(ctx, "update_run", actor, attribute.String("run.id", runID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	keep, err := models.ParseFieldSet(unchanged, models.RunMutableFields...)
	if err != nil {
		return nil, err
	}
	if err := in.Normalize(keep); err != nil {
		return nil, err
	}

	var run *models.Run
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.ownedRun(txCtx, actor, runID, true)
		if err != nil {
			return err
		}
		r.Replace(in, keep, now(txCtx))
		if err := s.store.UpdateRun(txCtx, r); err != nil {
			return err
		}
		run = r
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}
	return run, nil
}

// DeleteRun removes a run and its results in one transaction.
func (s *Service) DeleteRun(ctx context.Context, actor models.Actor, runID id.RunID) (_ *models.Run, err error) {
	ctx, end := s.begin(ctx, "delete_run", actor, attribute.String("run.id", runID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	var (
		run      *models.Run
		nResults int
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.ownedRun(txCtx, actor, runID, true)
		if err != nil {
			return err
		}
		if nResults, err = s.store.DeleteTestResultsByRuns(txCtx, []id.RunID{runID}); err != nil {
			return err
		}
		if err := s.store.DeleteRun(txCtx, runID); err != nil {
			return err
		}
		run = r
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}

	s.metrics.AddDeleted("run", 1)
	s.metrics.AddDeleted("test_result", nResults)
	s.logger.InfoContext(ctx, "run deleted",
		"request_id", requestcontext.RequestID(ctx),
		"run_id", runID,
		"results_deleted", nResults,
	)
	return run, nil
}

// ownedRun loads a run whose experiment the actor owns. A run under someone
// else's experiment is reported as not found.
func (s *Service) ownedRun(ctx context.Context, actor models.Actor, runID id.RunID, forUpdate bool) (*models.Run, error) {
	var (
		run *models.Run
		err error
	)
	if forUpdate {
		run, err = s.store.FindRunForUpdate(ctx, runID)
	} else {
		run, err = s.store.FindRun(ctx, runID)
	}
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}
	exp, err := s.store.FindExperiment(ctx, run.ExperimentID)
	if err != nil {
		return nil, wrapStoreErr(err, msgRunNotFound)
	}
	if !actor.Owns(exp.OwnerID) {
		return nil, dErrors.New(dErrors.CodeNotFound, msgRunNotFound)
	}
	return run, nil
}
