// Package metrics defines the prometheus instrumentation surface shared by
// the store, supervisor and router, grounded on the teacher's
// internal/database connection pool metrics: a single struct holding every
// collector, registered once via promauto; components update the collectors
// through its exported fields.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every prometheus collector the core exposes.
type Metrics struct {
	PluginsRunning   prometheus.Gauge
	RestartsTotal    *prometheus.CounterVec
	ForwardLatency   *prometheus.HistogramVec
	ForwardsTotal    *prometheus.CounterVec
	KVOpsTotal       *prometheus.CounterVec
	DiscoveryFailure *prometheus.CounterVec
}

// New registers and returns a fresh Metrics using reg as the registry. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PluginsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "toru",
			Subsystem: "plugins",
			Name:      "running",
			Help:      "Number of plugin processes currently running.",
		}),
		RestartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toru",
			Subsystem: "plugins",
			Name:      "restarts_total",
			Help:      "Total restart attempts per plugin.",
		}, []string{"plugin_id"}),
		ForwardLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toru",
			Subsystem: "router",
			Name:      "forward_duration_seconds",
			Help:      "Latency of forwarded HTTP requests to plugins.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin_id", "outcome"}),
		ForwardsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toru",
			Subsystem: "router",
			Name:      "forwards_total",
			Help:      "Total forwarded requests per plugin and outcome.",
		}, []string{"plugin_id", "outcome"}),
		KVOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toru",
			Subsystem: "store",
			Name:      "kv_ops_total",
			Help:      "Total KV operations per plugin and action.",
		}, []string{"plugin_id", "action"}),
		DiscoveryFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toru",
			Subsystem: "supervisor",
			Name:      "discovery_failures_total",
			Help:      "Total plugin discovery failures by reason kind.",
		}, []string{"kind"}),
	}
}
