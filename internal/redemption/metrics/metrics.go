package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the quorum engine.
type Metrics struct {
	// Operation outcomes by operation and result code ("ok" on success)
	Operations *prometheus.CounterVec

	// CAS attempts that lost to a concurrent commit
	CASConflicts *prometheus.CounterVec

	// Operations that gave up after the retry budget
	Exhausted *prometheus.CounterVec

	QuorumReached prometheus.Counter

	OperationLatency *prometheus.HistogramVec
}

// New registers quorum metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redeem_quorum_operations_total",
			Help: "Quorum engine operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		CASConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redeem_quorum_cas_conflicts_total",
			Help: "Compare-and-swap attempts that observed a newer version",
		}, []string{"operation"}),

		Exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redeem_quorum_cas_exhausted_total",
			Help: "Operations that exhausted the compare-and-swap retry budget",
		}, []string{"operation"}),

		QuorumReached: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_quorum_reached_total",
			Help: "Requests whose approvals crossed the required threshold",
		}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redeem_quorum_operation_duration_seconds",
			Help:    "Duration of quorum engine operations including retries",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"operation"}),
	}
}

// IncrementOperation records the outcome of one operation.
func (m *Metrics) IncrementOperation(operation, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) IncrementConflict(operation string) {
	if m != nil {
		m.CASConflicts.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncrementExhausted(operation string) {
	if m != nil {
		m.Exhausted.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncrementQuorumReached() {
	if m != nil {
		m.QuorumReached.Inc()
	}
}

// ObserveLatency records the total duration of an operation.
func (m *Metrics) ObserveLatency(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
