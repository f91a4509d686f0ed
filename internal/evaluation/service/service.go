// Package service enforces the evaluation domain rules: shape validation,
// referential existence, ownership, cascading deletes and all-or-nothing
// result ingestion. Every mutation runs in a single store transaction.
package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	evalmetrics "evalledger/internal/evaluation/metrics"
	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	"evalledger/pkg/requestcontext"
)

type ExperimentStore interface {
	CreateExperiment(ctx context.Context, e *models.Experiment) error
	FindExperiment(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error)
	FindExperimentForUpdate(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error)
	ListExperimentsByOwner(ctx context.Context, owner id.UserID, page models.Page) ([]*models.Experiment, error)
	UpdateExperiment(ctx context.Context, e *models.Experiment) error
	DeleteExperiment(ctx context.Context, expID id.ExperimentID) error
}

type RunStore interface {
	CreateRun(ctx context.Context, r *models.Run) error
	FindRun(ctx context.Context, runID id.RunID) (*models.Run, error)
	FindRunForUpdate(ctx context.Context, runID id.RunID) (*models.Run, error)
	ListRunsByExperiment(ctx context.Context, expID id.ExperimentID) ([]*models.Run, error)
	UpdateRun(ctx context.Context, r *models.Run) error
	DeleteRun(ctx context.Context, runID id.RunID) error
	DeleteRunsByExperiment(ctx context.Context, expID id.ExperimentID) (int, error)
}

type TestCaseStore interface {
	CreateTestCase(ctx context.Context, tc *models.TestCase) error
	FindTestCase(ctx context.Context, tcID id.TestCaseID) (*models.TestCase, error)
	FindTestCaseForUpdate(ctx context.Context, tcID id.TestCaseID) (*models.TestCase, error)
	ListTestCasesByOwner(ctx context.Context, owner id.UserID) ([]*models.TestCase, error)
	ListGlobalTestCases(ctx context.Context) ([]*models.TestCase, error)
	ListTestCasesByType(ctx context.Context, owner id.UserID, t models.TestCaseType, includeGlobal bool) ([]*models.TestCase, error)
	UpdateTestCase(ctx context.Context, tc *models.TestCase) error
	DeleteTestCase(ctx context.Context, tcID id.TestCaseID) error
}

type TestResultStore interface {
	CreateTestResults(ctx context.Context, results []*models.TestResult) error
	FindTestResult(ctx context.Context, resID id.TestResultID) (*models.TestResult, error)
	ListTestResultsByRun(ctx context.Context, runID id.RunID) ([]*models.TestResult, error)
	DeleteTestResultsByRuns(ctx context.Context, runIDs []id.RunID) (int, error)
}

// Store is the full persistence port. PostgresStore and InMemory satisfy it.
type Store interface {
	ExperimentStore
	RunStore
	TestCaseStore
	TestResultStore
}

// StoreTx provides the transactional boundary. Store calls made with txCtx
// join the transaction; a non-nil return from fn rolls everything back.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Service orchestrates experiments, runs, test cases and test results.
type Service struct {
	store        Store
	tx           StoreTx
	logger       *slog.Logger
	metrics      *evalmetrics.Metrics
	cache        GlobalTestCaseCache
	publisher    EventPublisher
	tracer       trace.Tracer
	maxBatchSize int
	globalFill   singleflight.Group
	// globalGen advances on every committed global test case change so
	// later listings never join a fill that started before it.
	globalGen atomic.Uint64
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *evalmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithGlobalCache enables caching of ListGlobalTestCases.
func WithGlobalCache(c GlobalTestCaseCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service over store, running mutations through tx.
func New(store Store, tx StoreTx, opts ...Option) *Service {
	s := &Service{
		store:        store,
		tx:           tx,
		logger:       slog.Default(),
		tracer:       otel.Tracer("evalledger/internal/evaluation/service"),
		maxBatchSize: models.DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// begin opens a span and returns a finisher that records the outcome in the
// span and the operation histogram.
func (s *Service) begin(ctx context.Context, op string, actor models.Actor, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	attrs = append(attrs, attribute.String("actor.user_id", actor.UserID.String()))
	ctx, span := s.tracer.Start(ctx, "evaluation."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveOperation(op, start, err)
	}
}

// now is the request-scoped clock in UTC.
func now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}
