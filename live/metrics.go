package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "townhall"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	connections     *prometheus.GaugeVec
	navigations     prometheus.Counter
	submissions     *prometheus.CounterVec
	dropped         prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg gives a private
// registry, which keeps tests from colliding on the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently held in memory",
		}),

		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),

		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions terminated, by cause",
		}, []string{"cause"}),

		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of registered connections, by role",
		}, []string{"role"}),

		navigations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "navigations_total",
			Help:      "Total number of accepted slide changes",
		}),

		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Total number of participant submissions, by activity and result",
		}, []string{"activity", "result"}),

		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outbound_dropped_total",
			Help:      "Total number of queued outbound messages discarded as stale or on overflow",
		}),
	}
}
