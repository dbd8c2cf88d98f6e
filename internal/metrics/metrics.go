// Package metrics defines the Prometheus instrumentation the Engine emits
// when wired with relgraph.WithMetrics, grounded in the
// promauto.NewCounterVec/NewHistogramVec pattern used for task
// instrumentation in the wider example corpus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters and histograms the engine updates on every
// check, write, and cycle rejection. The zero value is unusable; use New.
type Metrics struct {
	checksTotal        *prometheus.CounterVec
	checkDuration      *prometheus.HistogramVec
	writesTotal        *prometheus.CounterVec
	cycleRejections    *prometheus.CounterVec
	expiredCleaned     prometheus.Counter
	partitionsCreated  prometheus.Counter
	partitionsDropped  prometheus.Counter
}

// New registers a fresh set of metrics against reg. Callers typically pass
// prometheus.DefaultRegisterer, or a dedicated registry in tests to avoid
// cross-test collisions from repeated registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relgraph",
			Name:      "checks_total",
			Help:      "Total permission checks, by decision.",
		}, []string{"decision"}),
		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relgraph",
			Name:      "check_duration_seconds",
			Help:      "Check evaluation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		writesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relgraph",
			Name:      "writes_total",
			Help:      "Tuple and hierarchy mutations, by kind.",
		}, []string{"kind"}),
		cycleRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relgraph",
			Name:      "cycle_rejections_total",
			Help:      "Writes rejected for introducing a cycle, by edge kind.",
		}, []string{"edge_kind"}),
		expiredCleaned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relgraph",
			Name:      "expired_tuples_cleaned_total",
			Help:      "Tuples physically deleted by cleanup_expired.",
		}),
		partitionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relgraph",
			Name:      "audit_partitions_created_total",
			Help:      "Audit log partitions created by ensure_partitions.",
		}),
		partitionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relgraph",
			Name:      "audit_partitions_dropped_total",
			Help:      "Audit log partitions dropped by drop_partitions.",
		}),
	}
}

// ObserveCheck records the outcome and latency of one Check/CheckAny/CheckAll
// call.
func (m *Metrics) ObserveCheck(operation string, allowed bool, d time.Duration) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.checksTotal.WithLabelValues(decision).Inc()
	m.checkDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncWrite records a tuple or hierarchy mutation.
func (m *Metrics) IncWrite(kind string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(kind).Inc()
}

// IncCycleRejection records a write rejected for introducing a cycle.
func (m *Metrics) IncCycleRejection(edgeKind string) {
	if m == nil {
		return
	}
	m.cycleRejections.WithLabelValues(edgeKind).Inc()
}

// AddExpiredCleaned adds n to the expired-tuple cleanup counter.
func (m *Metrics) AddExpiredCleaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredCleaned.Add(float64(n))
}

// AddPartitionsCreated adds n to the partitions-created counter.
func (m *Metrics) AddPartitionsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.partitionsCreated.Add(float64(n))
}

// AddPartitionsDropped adds n to the partitions-dropped counter.
func (m *Metrics) AddPartitionsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.partitionsDropped.Add(float64(n))
}
