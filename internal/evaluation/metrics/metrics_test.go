package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.IncrementCreated("experiment")
	m.AddDeleted("run", 3)
	m.AddDeleted("run", 0)
	m.AddResultsIngested(5)
	m.IncrementCacheLookup("hit")
	m.ObserveOperation("create_run", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitiesCreated.WithLabelValues("experiment")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EntitiesDeleted.WithLabelValues("run")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ResultsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GlobalCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementCreated("experiment")
		m.ObserveOperation("get_run", time.Now(), nil)
		m.IncrementBatchRejected()
	})
}
