// Package metrics holds the Prometheus collectors of the book builder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookbuilder"

type Metrics struct {
	Events        *prometheus.CounterVec // kind
	Anomalies     *prometheus.CounterVec // kind
	LiveOrders    prometheus.Gauge
	ApplyDuration prometheus.Histogram
	BBOChanges    prometheus.Counter
	Broadcasts    *prometheus.CounterVec // result
}

// New creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Book events applied, by kind.",
		}, []string{"kind"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Tolerated event stream inconsistencies, by kind.",
		}, []string{"kind"}),
		LiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_orders",
			Help:      "Orders currently resting across all symbols.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time to apply one event to the book.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		BBOChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bbo_changes_total",
			Help:      "Best bid/offer changes queued for broadcast.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_total",
			Help:      "Outbox publish attempts, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Anomalies, m.LiveOrders, m.ApplyDuration, m.BBOChanges, m.Broadcasts)
	}
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
