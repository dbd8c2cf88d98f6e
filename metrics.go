package relgraph

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relgraph/relgraph/internal/metrics"
)

// Metrics is the Prometheus instrumentation bundle an Engine updates on
// every check, write, and maintenance operation when wired via WithMetrics.
type Metrics = metrics.Metrics

// NewMetrics registers relgraph's counters and histograms against reg.
// Pass prometheus.DefaultRegisterer for a normal process, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions from repeated
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics { return metrics.New(reg) }

// WithMetrics wires m into the Engine so checks, writes, and maintenance
// operations update it.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }
