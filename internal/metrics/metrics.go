// Package metrics provides Prometheus metrics for rollups, KPI scoring,
// trend writes and health alerts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rollup scopes.
const (
	ScopeAccount  = "account"
	ScopeCustomer = "customer"
)

// Rollup results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Recorder holds the engine's collectors. A nil *Recorder records nothing.
type Recorder struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	rollups        *prometheus.CounterVec
	rollupDuration *prometheus.HistogramVec
	kpisScored     *prometheus.CounterVec
	persistRetries *prometheus.CounterVec
	alertsSent     *prometheus.CounterVec
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithNamespace sets the metric namespace (default "health").
func WithNamespace(ns string) Option {
	return func(r *Recorder) { r.namespace = ns }
}

// WithHistogramBuckets sets the rollup duration buckets in seconds.
func WithHistogramBuckets(b []float64) Option {
	return func(r *Recorder) { r.buckets = b }
}

// WithRegistry registers the collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Recorder) { r.registry = reg }
}

// New creates a Recorder on its own registry, so Go runtime collectors are
// not exported unless the caller adds them.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "health",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(r.registry)
	r.rollups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "rollups_total",
		Help:      "Rollups completed by scope and result",
	}, []string{"scope", "result"})

	r.rollupDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "rollup_duration_seconds",
		Help:      "Rollup latency in seconds",
		Buckets:   r.buckets,
	}, []string{"scope"})

	r.kpisScored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "kpis_scored_total",
		Help:      "KPIs scored by resulting status",
	}, []string{"status"})

	r.persistRetries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "persist_retries_total",
		Help:      "Write retries after conflicts or transient errors, by table",
	}, []string{"table"})

	r.alertsSent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "alerts_sent_total",
		Help:      "Health alerts delivered to the webhook, by type",
	}, []string{"type"})

	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRollup records one finished rollup.
func (r *Recorder) ObserveRollup(scope string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	r.rollups.WithLabelValues(scope, result).Inc()
	r.rollupDuration.WithLabelValues(scope).Observe(elapsed.Seconds())
}

// KPIScored counts one scored KPI.
func (r *Recorder) KPIScored(status string) {
	if r == nil {
		return
	}
	r.kpisScored.WithLabelValues(status).Inc()
}

// PersistRetry counts one write retry against table.
func (r *Recorder) PersistRetry(table string) {
	if r == nil {
		return
	}
	r.persistRetries.WithLabelValues(table).Inc()
}

// AlertSent counts one delivered alert.
func (r *Recorder) AlertSent(alertType string) {
	if r == nil {
		return
	}
	r.alertsSent.WithLabelValues(alertType).Inc()
}
