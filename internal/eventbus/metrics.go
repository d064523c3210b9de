package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks fan-out health.
type Metrics struct {
	Published           *prometheus.CounterVec
	Delivered           prometheus.Counter
	Dropped             prometheus.Counter
	Disconnected        prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
}

// NewMetrics registers bus metrics on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redeem_bus_published_total",
			Help: "Messages published by topic kind",
		}, []string{"kind"}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_bus_delivered_total",
			Help: "Messages enqueued to a subscription",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_bus_dropped_total",
			Help: "Messages evicted from a full subscription queue",
		}),
		Disconnected: f.NewCounter(prometheus.CounterOpts{
			Name: "redeem_bus_disconnected_total",
			Help: "Subscriptions closed because their queue overflowed",
		}),
		ActiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "redeem_bus_active_subscriptions",
			Help: "Currently registered subscriptions",
		}),
	}
}

func (m *Metrics) incPublished(kind string) {
	if m != nil {
		m.Published.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incDelivered() {
	if m != nil {
		m.Delivered.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) incDisconnected() {
	if m != nil {
		m.Disconnected.Inc()
	}
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.ActiveSubscriptions.Set(float64(n))
	}
}
