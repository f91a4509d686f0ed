package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the evaluation module. All methods are
// safe on a nil receiver so services can run without metrics.
type Metrics struct {
	EntitiesCreated     *prometheus.CounterVec
	EntitiesDeleted     *prometheus.CounterVec
	ResultsIngested     prometheus.Counter
	BatchRejected       prometheus.Counter
	BatchSize           prometheus.Histogram
	OperationDuration   *prometheus.HistogramVec
	GlobalCacheLookups  *prometheus.CounterVec
	EventPublishFailure prometheus.Counter
}

// New registers the evaluation metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the evaluation metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntitiesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evalledger_entities_created_total",
			Help: "Total number of entities created by kind",
		}, []string{"kind"}), // experiment, run, test_case

		EntitiesDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evalledger_entities_deleted_total",
			Help: "Total number of entities deleted by kind, including cascaded children",
		}, []string{"kind"}),

		ResultsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "evalledger_test_results_ingested_total",
			Help: "Total number of test results persisted",
		}),

		BatchRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "evalledger_test_result_batches_rejected_total",
			Help: "Total number of result batches rolled back because an item failed",
		}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "evalledger_test_result_batch_size",
			Help:    "Number of items per result batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evalledger_operation_duration_seconds",
			Help:    "Duration of evaluation service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation", "outcome"}),

		GlobalCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evalledger_global_test_case_cache_lookups_total",
			Help: "Global test case cache lookups by result",
		}, []string{"result"}), // hit, miss, error

		EventPublishFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "evalledger_event_publish_failures_total",
			Help: "Result-ingested events that could not be published",
		}),
	}
}

func (m *Metrics) IncrementCreated(kind string) {
	if m != nil {
		m.EntitiesCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AddDeleted(kind string, n int) {
	if m != nil && n > 0 {
		m.EntitiesDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) AddResultsIngested(n int) {
	if m != nil {
		m.ResultsIngested.Add(float64(n))
	}
}

func (m *Metrics) IncrementBatchRejected() {
	if m != nil {
		m.BatchRejected.Inc()
	}
}

func (m *Metrics) ObserveBatchSize(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

// ObserveOperation records an operation's duration. Call with time.Now() at
// the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OperationDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.GlobalCacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementEventPublishFailure() {
	if m != nil {
		m.EventPublishFailure.Inc()
	}
}
