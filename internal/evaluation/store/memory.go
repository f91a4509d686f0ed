package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	"evalledger/pkg/platform/sentinel"
)

type memTxKey struct{}

// record pairs a stored value with its insertion sequence, which breaks ties
// between equal creation times.
type record[T any] struct {
	v   T
	seq uint64
}

type memState struct {
	experiments map[id.ExperimentID]record[*models.Experiment]
	runs        map[id.RunID]record[*models.Run]
	testCases   map[id.TestCaseID]record[*models.TestCase]
	results     map[id.TestResultID]record[*models.TestResult]
}

func newMemState() memState {
	return memState{
		experiments: make(map[id.ExperimentID]record[*models.Experiment]),
		runs:        make(map[id.RunID]record[*models.Run]),
		testCases:   make(map[id.TestCaseID]record[*models.TestCase]),
		results:     make(map[id.TestResultID]record[*models.TestResult]),
	}
}

func (st memState) clone() memState {
	c := newMemState()
	for k, r := range st.experiments {
		c.experiments[k] = record[*models.Experiment]{v: r.v.Clone(), seq: r.seq}
	}
	for k, r := range st.runs {
		c.runs[k] = record[*models.Run]{v: r.v.Clone(), seq: r.seq}
	}
	for k, r := range st.testCases {
		c.testCases[k] = record[*models.TestCase]{v: r.v.Clone(), seq: r.seq}
	}
	for k, r := range st.results {
		c.results[k] = record[*models.TestResult]{v: r.v.Clone(), seq: r.seq}
	}
	return c
}

// InMemory is a Store backed by maps. Each transaction works on a private
// copy of the state that replaces the shared one only on commit, so it
// mirrors the isolation and all-or-nothing behavior of PostgresStore for
// tests and local runs.
type InMemory struct {
	// txMu serializes writers: transactions and standalone writes.
	txMu sync.Mutex
	mu   sync.RWMutex
	st   memState
	seq  uint64 // guarded by txMu
}

// memTx is the uncommitted state of one transaction.
type memTx struct {
	st memState
}

func NewInMemory() *InMemory {
	return &InMemory{st: newMemState()}
}

// RunInTx runs fn against a private copy of the state. The copy is committed
// when fn returns nil and discarded otherwise. Other callers keep seeing the
// last committed state meanwhile.
func (s *InMemory) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &memTx{st: s.st.clone()}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()
	return nil
}

// read runs fn on the transaction's state, or on the committed state.
func (s *InMemory) read(ctx context.Context, fn func(st memState)) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		fn(tx.st)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// write runs fn on the transaction's state, or applies it to the committed
// state as a single-statement transaction. fn must not mutate before it
// has validated.
func (s *InMemory) write(ctx context.Context, fn func(st memState) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(tx.st)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *InMemory) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func sortRecords[T any](recs []record[T], created func(T) int64) []T {
	slices.SortFunc(recs, func(a, b record[T]) int {
		if c := cmp.Compare(created(a.v), created(b.v)); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = r.v
	}
	return out
}

// collect clones the records of m that match.
func collect[K comparable, T interface{ Clone() T }](m map[K]record[T], match func(T) bool) []record[T] {
	var recs []record[T]
	for _, r := range m {
		if match(r.v) {
			recs = append(recs, record[T]{v: r.v.Clone(), seq: r.seq})
		}
	}
	return recs
}

// Experiments

func (s *InMemory) CreateExperiment(ctx context.Context, e *models.Experiment) error {
	return s.write(ctx, func(st memState) error {
		if _, ok := st.experiments[e.ID]; ok {
			return sentinel.ErrAlreadyUsed
		}
		if st.experimentNameTaken(e) {
			return sentinel.ErrAlreadyUsed
		}
		st.experiments[e.ID] = record[*models.Experiment]{v: e.Clone(), seq: s.nextSeq()}
		return nil
	})
}

func (st memState) experimentNameTaken(e *models.Experiment) bool {
	key := models.NameKey(e.Name)
	for _, r := range st.experiments {
		if r.v.ID != e.ID && r.v.OwnerID == e.OwnerID && models.NameKey(r.v.Name) == key {
			return true
		}
	}
	return false
}

func (s *InMemory) FindExperiment(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error) {
	var (
		e  *models.Experiment
		ok bool
	)
	s.read(ctx, func(st memState) {
		var r record[*models.Experiment]
		if r, ok = st.experiments[expID]; ok {
			e = r.v.Clone()
		}
	})
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e, nil
}

func (s *InMemory) FindExperimentForUpdate(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error) {
	return s.FindExperiment(ctx, expID)
}

func (s *InMemory) ListExperimentsByOwner(ctx context.Context, owner id.UserID, page models.Page) ([]*models.Experiment, error) {
	var recs []record[*models.Experiment]
	s.read(ctx, func(st memState) {
		recs = collect(st.experiments, func(e *models.Experiment) bool { return e.OwnerID == owner })
	})
	all := sortRecords(recs, func(e *models.Experiment) int64 { return e.CreatedAt.UnixNano() })
	lo, hi := page.Window(len(all))
	return slices.Clone(all[lo:hi]), nil
}

func (s *InMemory) UpdateExperiment(ctx context.Context, e *models.Experiment) error {
	return s.write(ctx, func(st memState) error {
		r, ok := st.experiments[e.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if st.experimentNameTaken(e) {
			return sentinel.ErrAlreadyUsed
		}
		st.experiments[e.ID] = record[*models.Experiment]{v: e.Clone(), seq: r.seq}
		return nil
	})
}

// DeleteExperiment removes the experiment and, like the foreign key cascade
// in Postgres, anything still attached to it.
func (s *InMemory) DeleteExperiment(ctx context.Context, expID id.ExperimentID) error {
	return s.write(ctx, func(st memState) error {
		if _, ok := st.experiments[expID]; !ok {
			return sentinel.ErrNotFound
		}
		for runID, r := range st.runs {
			if r.v.ExperimentID == expID {
				st.deleteRun(runID)
			}
		}
		delete(st.experiments, expID)
		return nil
	})
}

// Runs

func (s *InMemory) CreateRun(ctx context.Context, r *models.Run) error {
	return s.write(ctx, func(st memState) error {
		if _, ok := st.experiments[r.ExperimentID]; !ok {
			return sentinel.ErrNotFound
		}
		if _, ok := st.runs[r.ID]; ok {
			return sentinel.ErrAlreadyUsed
		}
		st.runs[r.ID] = record[*models.Run]{v: r.Clone(), seq: s.nextSeq()}
		return nil
	})
}

func (s *InMemory) FindRun(ctx context.Context, runID id.RunID) (*models.Run, error) {
	var (
		run *models.Run
		ok  bool
	)
	s.read(ctx, func(st memState) {
		var r record[*models.Run]
		if r, ok = st.runs[runID]; ok {
			run = r.v.Clone()
		}
	})
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return run, nil
}

func (s *InMemory) FindRunForUpdate(ctx context.Context, runID id.RunID) (*models.Run, error) {
	return s.FindRun(ctx, runID)
}

func (s *InMemory) ListRunsByExperiment(ctx context.Context, expID id.ExperimentID) ([]*models.Run, error) {
	var recs []record[*models.Run]
	s.read(ctx, func(st memState) {
		recs = collect(st.runs, func(r *models.Run) bool { return r.ExperimentID == expID })
	})
	return sortRecords(recs, func(r *models.Run) int64 { return r.CreatedAt.UnixNano() }), nil
}

func (s *InMemory) UpdateRun(ctx context.Context, r *models.Run) error {
	return s.write(ctx, func(st memState) error {
		existing, ok := st.runs[r.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		st.runs[r.ID] = record[*models.Run]{v: r.Clone(), seq: existing.seq}
		return nil
	})
}

func (s *InMemory) DeleteRun(ctx context.Context, runID id.RunID) error {
	return s.write(ctx, func(st memState) error {
		if _, ok := st.runs[runID]; !ok {
			return sentinel.ErrNotFound
		}
		st.deleteRun(runID)
		return nil
	})
}

func (s *InMemory) DeleteRunsByExperiment(ctx context.Context, expID id.ExperimentID) (int, error) {
	n := 0
	err := s.write(ctx, func(st memState) error {
		for runID, r := range st.runs {
			if r.v.ExperimentID == expID {
				st.deleteRun(runID)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (st memState) deleteRun(runID id.RunID) {
	for resID, r := range st.results {
		if r.v.RunID == runID {
			delete(st.results, resID)
		}
	}
	delete(st.runs, runID)
}

// Test cases

func (s *InMemory) CreateTestCase(ctx context.Context, tc *models.TestCase) error {
	return s.write(ctx, func(st memState) error {
		if _, ok := st.testCases[tc.ID]; ok {
			return sentinel.ErrAlreadyUsed
		}
		if st.testCaseNameTaken(tc) {
			return sentinel.ErrAlreadyUsed
		}
		st.testCases[tc.ID] = record[*models.TestCase]{v: tc.Clone(), seq: s.nextSeq()}
		return nil
	})
}

// testCaseNameTaken applies per-owner uniqueness to owned test cases and a
// separate namespace to global ones.
func (st memState) testCaseNameTaken(tc *models.TestCase) bool {
	key := tc.NameKey()
	for _, r := range st.testCases {
		other := r.v
		if other.ID == tc.ID || other.NameKey() != key {
			continue
		}
		switch {
		case tc.IsGlobal() && other.IsGlobal():
			return true
		case !tc.IsGlobal() && !other.IsGlobal() && *tc.OwnerID == *other.OwnerID:
			return true
		}
	}
	return false
}

func (s *InMemory) FindTestCase(ctx context.Context, tcID id.TestCaseID) (*models.TestCase, error) {
	var (
		tc *models.TestCase
		ok bool
	)
	s.read(ctx, func(st memState) {
		var r record[*models.TestCase]
		if r, ok = st.testCases[tcID]; ok {
			tc = r.v.Clone()
		}
	})
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return tc, nil
}

func (s *InMemory) FindTestCaseForUpdate(ctx context.Context, tcID id.TestCaseID) (*models.TestCase, error) {
	return s.FindTestCase(ctx, tcID)
}

func (s *InMemory) listTestCases(ctx context.Context, match func(*models.TestCase) bool) []*models.TestCase {
	var recs []record[*models.TestCase]
	s.read(ctx, func(st memState) {
		recs = collect(st.testCases, match)
	})
	return sortRecords(recs, func(tc *models.TestCase) int64 { return tc.CreatedAt.UnixNano() })
}

func (s *InMemory) ListTestCasesByOwner(ctx context.Context, owner id.UserID) ([]*models.TestCase, error) {
	return s.listTestCases(ctx, func(tc *models.TestCase) bool {
		return !tc.IsGlobal() && *tc.OwnerID == owner
	}), nil
}

func (s *InMemory) ListGlobalTestCases(ctx context.Context) ([]*models.TestCase, error) {
	return s.listTestCases(ctx, (*models.TestCase).IsGlobal), nil
}

func (s *InMemory) ListTestCasesByType(ctx context.Context, owner id.UserID, t models.TestCaseType, includeGlobal bool) ([]*models.TestCase, error) {
	return s.listTestCases(ctx, func(tc *models.TestCase) bool {
		if tc.Type != t {
			return false
		}
		if tc.IsGlobal() {
			return includeGlobal
		}
		return *tc.OwnerID == owner
	}), nil
}

func (s *InMemory) UpdateTestCase(ctx context.Context, tc *models.TestCase) error {
	return s.write(ctx, func(st memState) error {
		existing, ok := st.testCases[tc.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if st.testCaseNameTaken(tc) {
			return sentinel.ErrAlreadyUsed
		}
		st.testCases[tc.ID] = record[*models.TestCase]{v: tc.Clone(), seq: existing.seq}
		return nil
	})
}

func (s *InMemory) DeleteTestCase(ctx context.Context, tcID id.TestCaseID) error {
	return s.write(ctx, func(st memState) error {
		if _, ok := st.testCases[tcID]; !ok {
			return sentinel.ErrNotFound
		}
		delete(st.testCases, tcID)
		return nil
	})
}

// Test results

// CreateTestResults inserts all results or none.
func (s *InMemory) CreateTestResults(ctx context.Context, results []*models.TestResult) error {
	return s.write(ctx, func(st memState) error {
		for _, r := range results {
			if _, ok := st.runs[r.RunID]; !ok {
				return sentinel.ErrNotFound
			}
			if _, ok := st.results[r.ID]; ok {
				return sentinel.ErrAlreadyUsed
			}
		}
		for _, r := range results {
			st.results[r.ID] = record[*models.TestResult]{v: r.Clone(), seq: s.nextSeq()}
		}
		return nil
	})
}

func (s *InMemory) FindTestResult(ctx context.Context, resID id.TestResultID) (*models.TestResult, error) {
	var (
		res *models.TestResult
		ok  bool
	)
	s.read(ctx, func(st memState) {
		var r record[*models.TestResult]
		if r, ok = st.results[resID]; ok {
			res = r.v.Clone()
		}
	})
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return res, nil
}

// ListTestResultsByRun orders by insertion so a batch keeps its input order.
func (s *InMemory) ListTestResultsByRun(ctx context.Context, runID id.RunID) ([]*models.TestResult, error) {
	var recs []record[*models.TestResult]
	s.read(ctx, func(st memState) {
		recs = collect(st.results, func(r *models.TestResult) bool { return r.RunID == runID })
	})
	return sortRecords(recs, func(*models.TestResult) int64 { return 0 }), nil
}

func (s *InMemory) DeleteTestResultsByRuns(ctx context.Context, runIDs []id.RunID) (int, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	n := 0
	err := s.write(ctx, func(st memState) error {
		for resID, r := range st.results {
			if slices.Contains(runIDs, r.v.RunID) {
				delete(st.results, resID)
				n++
			}
		}
		return nil
	})
	return n, err
}
