// Package metrics exposes Prometheus collectors for recovery runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeRecovered     = "recovered"
	OutcomeUnsatisfiable = "unsatisfiable"
	OutcomeMismatch      = "mismatch"
	OutcomeRejected      = "rejected"
	OutcomeCanceled      = "canceled"
	OutcomeError         = "error"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	recoveries    *prometheus.CounterVec
	solveDuration *prometheus.HistogramVec
	graphNodes    prometheus.Histogram
	freeBits      prometheus.Histogram
	inFlight      prometheus.Gauge
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer for
// the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "md4sat_recoveries_total",
			Help: "Recovery runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		solveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "md4sat_solve_duration_seconds",
			Help:    "Time spent in the SAT solver",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"mode"}),
		graphNodes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "md4sat_graph_nodes",
			Help:    "Expression graph size handed to the solver",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 8),
		}),
		freeBits: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "md4sat_free_bits",
			Help:    "Message bits left to the solver",
			Buckets: []float64{0, 7, 14, 28, 56, 112, 189},
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "md4sat_recoveries_in_flight",
			Help: "Recovery runs currently executing",
		}),
	}
}

// Start marks a run as in flight and returns the function that ends it.
func (m *Metrics) Start() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveModel records the size of a built model.
func (m *Metrics) ObserveModel(nodes, free int) {
	if m == nil {
		return
	}
	m.graphNodes.Observe(float64(nodes))
	m.freeBits.Observe(float64(free))
}

// ObserveSolve records one solver call.
func (m *Metrics) ObserveSolve(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.solveDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveOutcome counts a finished run.
func (m *Metrics) ObserveOutcome(mode, outcome string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(mode, outcome).Inc()
}
