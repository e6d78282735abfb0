package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.ObserveRollup(ScopeAccount, nil, 20*time.Millisecond)
	r.ObserveRollup(ScopeAccount, errors.New("boom"), time.Millisecond)
	r.ObserveRollup(ScopeCustomer, nil, time.Second)
	r.KPIScored("high")
	r.KPIScored("high")
	r.KPIScored("unknown")
	r.PersistRetry("health_trends")
	r.AlertSent("health_drop")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.rollups.WithLabelValues(ScopeAccount, ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rollups.WithLabelValues(ScopeAccount, ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rollups.WithLabelValues(ScopeCustomer, ResultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.kpisScored.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.persistRetries.WithLabelValues("health_trends")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsSent.WithLabelValues("health_drop")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.rollupDuration))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveRollup(ScopeAccount, nil, time.Second)
		r.KPIScored("low")
		r.PersistRetry("kpi_timeseries")
		r.AlertSent("health_low")
	})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorder_Handler(t *testing.T) {
	r := New(WithNamespace("test"))
	r.KPIScored("medium")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_kpis_scored_total{status="medium"} 1`)
	assert.NotContains(t, rec.Body.String(), "go_goroutines")
}

func TestRecorder_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(WithRegistry(reg), WithHistogramBuckets([]float64{0.1, 1}))
	assert.Same(t, reg, r.Registry())

	r.ObserveRollup(ScopeAccount, nil, 50*time.Millisecond)
	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "health_rollups_total")
	assert.Contains(t, names, "health_rollup_duration_seconds")
}
