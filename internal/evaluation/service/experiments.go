package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
	"evalledger/pkg/requestcontext"
)

const msgExperimentNotFound = "experiment not found"

func (s *Service) CreateExperiment(ctx context.Context, actor models.Actor, in models.ExperimentInput) (_ *models.Experiment, err error) {
	ctx, end := s.begin(ctx, "create_experiment", actor)
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := in.Normalize(nil); err != nil {
		return nil, err
	}

	var exp *models.Experiment
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := models.NewExperiment(id.NewExperimentID(), actor.UserID, in, now(txCtx))
		if err != nil {
			return err
		}
		if err := s.store.CreateExperiment(txCtx, e); err != nil {
			return wrapNameConflict(err, "an experiment with this name already exists")
		}
		exp = e
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}

	s.metrics.IncrementCreated("experiment")
	s.logger.InfoContext(ctx, "experiment created",
		"request_id", requestcontext.RequestID(ctx),
		"experiment_id", exp.ID,
		"user_id", actor.UserID,
	)
	return exp, nil
}

// ListExperiments returns the actor's experiments, oldest first.
func (s *Service) ListExperiments(ctx context.Context, actor models.Actor, page models.Page) (_ []*models.Experiment, err error) {
	ctx, end := s.begin(ctx, "list_experiments", actor)
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	exps, err := s.store.ListExperimentsByOwner(ctx, actor.UserID, page)
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}
	return exps, nil
}

// GetExperiment returns an owned experiment with its runs. Experiments owned
// by someone else are reported as not found.
func (s *Service) GetExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID) (_ *models.ExperimentWithRuns, err error) {
	ctx, end := s.begin(ctx, "get_experiment", actor, attribute.String("experiment.id", expID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	// The parent row lock keeps a concurrent cascade from splitting the read.
	var out *models.ExperimentWithRuns
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		exp, err := s.ownedExperiment(txCtx, actor, expID, true)
		if err != nil {
			return err
		}
		runs, err := s.store.ListRunsByExperiment(txCtx, expID)
		if err != nil {
			return err
		}
		out = &models.ExperimentWithRuns{Experiment: exp, Runs: runs}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}
	return out, nil
}

// UpdateExperiment replaces the mutable fields of an owned experiment. Fields
// named in unchanged keep their stored values.
func (s *Service) UpdateExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID, in models.ExperimentInput, unchanged []string) (_ *models.Experiment, err error) {
	ctx, end := s.begin(ctx, "update_experiment", actor, attribute.String("experiment.id", expID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	keep, err := models.ParseFieldSet(unchanged, models.ExperimentMutableFields...)
	if err != nil {
		return nil, err
	}
	if err := in.Normalize(keep); err != nil {
		return nil, err
	}

	var exp *models.Experiment
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.ownedExperiment(txCtx, actor, expID, true)
		if err != nil {
			return err
		}
		e.Replace(in, keep, now(txCtx))
		if err := s.store.UpdateExperiment(txCtx, e); err != nil {
			return wrapNameConflict(err, "an experiment with this name already exists")
		}
		exp = e
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}
	return exp, nil
}

// DeleteExperiment removes an owned experiment with all of its runs and
// their results in one transaction.
func (s *Service) DeleteExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID) (_ *models.Experiment, err error) {
	ctx, end := s.begin(ctx, "delete_experiment", actor, attribute.String("experiment.id", expID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	var (
		exp      *models.Experiment
		nRuns    int
		nResults int
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		e, err := s.ownedExperiment(txCtx, actor, expID, true)
		if err != nil {
			return err
		}
		runs, err := s.store.ListRunsByExperiment(txCtx, expID)
		if err != nil {
			return err
		}
		runIDs := make([]id.RunID, len(runs))
		for i, r := range runs {
			runIDs[i] = r.ID
		}
		if nResults, err = s.store.DeleteTestResultsByRuns(txCtx, runIDs); err != nil {
			return err
		}
		if nRuns, err = s.store.DeleteRunsByExperiment(txCtx, expID); err != nil {
			return err
		}
		if err := s.store.DeleteExperiment(txCtx, expID); err != nil {
			return err
		}
		exp = e
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}

	s.metrics.AddDeleted("experiment", 1)
	s.metrics.AddDeleted("run", nRuns)
	s.metrics.AddDeleted("test_result", nResults)
	s.logger.InfoContext(ctx, "experiment deleted",
		"request_id", requestcontext.RequestID(ctx),
		"experiment_id", expID,
		"runs_deleted", nRuns,
		"results_deleted", nResults,
	)
	return exp, nil
}

// ownedExperiment loads an experiment the actor owns. forUpdate locks the row
// for the rest of the transaction.
func (s *Service) ownedExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID, forUpdate bool) (*models.Experiment, error) {
	var (
		exp *models.Experiment
		err error
	)
	if forUpdate {
		exp, err = s.store.FindExperimentForUpdate(ctx, expID)
	} else {
		exp, err = s.store.FindExperiment(ctx, expID)
	}
	if err != nil {
		return nil, wrapStoreErr(err, msgExperimentNotFound)
	}
	if !actor.Owns(exp.OwnerID) {
		return nil, dErrors.New(dErrors.CodeNotFound, msgExperimentNotFound)
	}
	return exp, nil
}
