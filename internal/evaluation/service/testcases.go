package service

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
	"evalledger/pkg/requestcontext"
)

const (
	msgTestCaseNotFound = "test case not found"
	msgTestCaseNameUsed = "a test case with this name already exists"
	globalFillKey       = "global_test_cases"
	globalFillTimeout   = 10 * time.Second
)

// CreateTestCase stores a new test case. Global test cases require a
// privileged actor and are owned by nobody.
func (s *Service) CreateTestCase(ctx context.Context, actor models.Actor, in models.TestCaseInput) (_ *models.TestCase, err error) {
	ctx, end := s.begin(ctx, "create_test_case", actor)
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := in.Normalize(nil); err != nil {
		return nil, err
	}
	global := in.WantsGlobal()
	if global && !actor.Privileged {
		return nil, dErrors.New(dErrors.CodeForbidden, "only privileged users can create global test cases")
	}

	var owner *id.UserID
	if !global {
		owner = &actor.UserID
	}

	var tc *models.TestCase
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := models.NewTestCase(id.NewTestCaseID(), owner, actor.UserID, in, now(txCtx))
		if err != nil {
			return err
		}
		if err := s.store.CreateTestCase(txCtx, c); err != nil {
			return wrapNameConflict(err, msgTestCaseNameUsed)
		}
		tc = c
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}

	if global {
		s.invalidateGlobal(ctx)
	}
	s.metrics.IncrementCreated("test_case")
	s.logger.InfoContext(ctx, "test case created",
		"request_id", requestcontext.RequestID(ctx),
		"test_case_id", tc.ID,
		"type", tc.Type,
		"global", global,
	)
	return tc, nil
}

// ListTestCases returns the actor's own test cases.
func (s *Service) ListTestCases(ctx context.Context, actor models.Actor) (_ []*models.TestCase, err error) {
	ctx, end := s.begin(ctx, "list_test_cases", actor)
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	cases, err := s.store.ListTestCasesByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}
	return cases, nil
}

// ListGlobalTestCases returns every global test case. The listing is served
// from the cache when one is configured; concurrent misses share one store
// read.
func (s *Service) ListGlobalTestCases(ctx context.Context, actor models.Actor) (_ []*models.TestCase, err error) {
	ctx, end := s.begin(ctx, "list_global_test_cases", actor)
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cases, ok, err := s.cache.GetGlobal(ctx)
		switch {
		case err != nil:
			s.metrics.IncrementCacheLookup("error")
			s.logger.WarnContext(ctx, "global test case cache read failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		case ok:
			s.metrics.IncrementCacheLookup("hit")
			return cases, nil
		default:
			s.metrics.IncrementCacheLookup("miss")
		}
	}

	key := globalFillKey + ":" + strconv.FormatUint(s.globalGen.Load(), 10)
	v, err, _ := s.globalFill.Do(key, func() (any, error) {
		// The flight is shared, so one caller's cancellation must not fail the rest.
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), globalFillTimeout)
		defer cancel()
		return s.fillGlobal(fillCtx)
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}
	return v.([]*models.TestCase), nil
}

// fillGlobal reads the listing from the store and offers it to the cache
// under the generation observed before the read.
func (s *Service) fillGlobal(ctx context.Context) ([]*models.TestCase, error) {
	var (
		gen       uint64
		cacheable bool
	)
	if s.cache != nil {
		g, err := s.cache.Generation(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "global test case cache generation read failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		} else {
			gen, cacheable = g, true
		}
	}
	cases, err := s.store.ListGlobalTestCases(ctx)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return cases, nil
	}
	if err := s.cache.SetGlobal(ctx, gen, cases); err != nil {
		s.logger.WarnContext(ctx, "global test case cache fill failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	return cases, nil
}

// ListTestCasesByType filters the actor's test cases by variant. Scope "all"
// (the default) also includes global test cases of that type.
func (s *Service) ListTestCasesByType(ctx context.Context, actor models.Actor, typ, scope string) (_ []*models.TestCase, err error) {
	ctx, end := s.begin(ctx, "list_test_cases_by_type", actor, attribute.String("test_case.type", typ))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	t, err := models.ParseTestCaseType(typ)
	if err != nil {
		return nil, err
	}
	sc, err := models.ParseTestCaseScope(scope)
	if err != nil {
		return nil, err
	}
	cases, err := s.store.ListTestCasesByType(ctx, actor.UserID, t, sc == models.ScopeAll)
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}
	return cases, nil
}

// GetTestCase returns a test case the actor owns or a global one.
func (s *Service) GetTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID) (_ *models.TestCase, err error) {
	ctx, end := s.begin(ctx, "get_test_case", actor, attribute.String("test_case.id", tcID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return s.visibleTestCase(ctx, actor, tcID, false)
}

// UpdateTestCase replaces the mutable fields of a test case. The type tag
// must be restated and cannot change.
func (s *Service) UpdateTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID, in models.TestCaseInput, unchanged []string) (_ *models.TestCase, err error) {
	ctx, end := s.begin(ctx, "update_test_case", actor, attribute.String("test_case.id", tcID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	keep, err := models.ParseFieldSet(unchanged, models.TestCaseMutableFields...)
	if err != nil {
		return nil, err
	}
	if err := in.Normalize(keep); err != nil {
		return nil, err
	}

	var tc *models.TestCase
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.visibleTestCase(txCtx, actor, tcID, true)
		if err != nil {
			return err
		}
		if err := c.AuthorizeMutation(actor); err != nil {
			return err
		}
		if err := c.Replace(in, keep, now(txCtx)); err != nil {
			return err
		}
		if err := s.store.UpdateTestCase(txCtx, c); err != nil {
			return wrapNameConflict(err, msgTestCaseNameUsed)
		}
		tc = c
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}

	if tc.IsGlobal() {
		s.invalidateGlobal(ctx)
	}
	return tc, nil
}

// DeleteTestCase removes a test case. Results that reference it are kept.
func (s *Service) DeleteTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID) (_ *models.TestCase, err error) {
	ctx, end := s.begin(ctx, "delete_test_case", actor, attribute.String("test_case.id", tcID.String()))
	defer end(&err)

	if err := actor.Validate(); err != nil {
		return nil, err
	}

	var tc *models.TestCase
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.visibleTestCase(txCtx, actor, tcID, true)
		if err != nil {
			return err
		}
		if err := c.AuthorizeMutation(actor); err != nil {
			return err
		}
		if err := s.store.DeleteTestCase(txCtx, tcID); err != nil {
			return err
		}
		tc = c
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}

	if tc.IsGlobal() {
		s.invalidateGlobal(ctx)
	}
	s.metrics.AddDeleted("test_case", 1)
	s.logger.InfoContext(ctx, "test case deleted",
		"request_id", requestcontext.RequestID(ctx),
		"test_case_id", tcID,
	)
	return tc, nil
}

func (s *Service) visibleTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID, forUpdate bool) (*models.TestCase, error) {
	var (
		tc  *models.TestCase
		err error
	)
	if forUpdate {
		tc, err = s.store.FindTestCaseForUpdate(ctx, tcID)
	} else {
		tc, err = s.store.FindTestCase(ctx, tcID)
	}
	if err != nil {
		return nil, wrapStoreErr(err, msgTestCaseNotFound)
	}
	if !tc.VisibleTo(actor) {
		return nil, dErrors.New(dErrors.CodeNotFound, msgTestCaseNotFound)
	}
	return tc, nil
}

// invalidateGlobal drops the cached global listing after a committed change.
// Failures are logged; the stale entry still expires by TTL.
func (s *Service) invalidateGlobal(ctx context.Context) {
	s.globalGen.Add(1)
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateGlobal(ctx); err != nil {
		s.metrics.IncrementCacheLookup("error")
		s.logger.WarnContext(ctx, "global test case cache invalidation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
