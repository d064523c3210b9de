package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Produced    prometheus.Counter
	Failed      prometheus.Counter
	Skipped     prometheus.Counter
	CircuitOpen prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Produced: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_relay_records_produced_total",
			Help: "Events relayed to Kafka",
		}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_relay_records_failed_total",
			Help: "Events whose produce call failed",
		}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_relay_records_skipped_total",
			Help: "Events not relayed because the circuit was open",
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "redeem_relay_circuit_open",
			Help: "1 while the relay circuit breaker is open",
		}),
	}
}

func (m *Metrics) addProduced(n int) {
	if m != nil {
		m.Produced.Add(float64(n))
	}
}

func (m *Metrics) addFailed(n int) {
	if m != nil {
		m.Failed.Add(float64(n))
	}
}

func (m *Metrics) addSkipped(n int) {
	if m != nil {
		m.Skipped.Add(float64(n))
	}
}

func (m *Metrics) setOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
