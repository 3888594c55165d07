package matrix

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/xconform/internal/ir"
)

// Metrics exports run counters in the Prometheus text format. Each Metrics
// owns a private registry so several runs in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	passRate *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xconform",
			Name:      "results_total",
			Help:      "Test case results by engine, suite and status.",
		}, []string{"engine", "suite", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xconform",
			Name:      "case_duration_seconds",
			Help:      "Wall time per executed test case.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms to ~2min
		}, []string{"engine", "suite"}),
		passRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xconform",
			Name:      "pass_rate_percent",
			Help:      "Pass rate excluding skipped cases.",
		}, []string{"engine", "suite"}),
	}
}

// Observe counts one result.
func (m *Metrics) Observe(engine, suite string, r ir.TestResult) {
	m.results.WithLabelValues(engine, suite, string(r.Status)).Inc()
	if r.Status != ir.StatusSkipped {
		m.duration.WithLabelValues(engine, suite).Observe(r.Elapsed.Seconds())
	}
}

// Update sets the pass-rate gauges from a snapshot.
func (m *Metrics) Update(rep Report) {
	for _, row := range rep.Rows {
		m.passRate.WithLabelValues(row.Engine, row.Suite).Set(row.Counts.PassRate())
	}
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric to path in the node_exporter textfile
// format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
