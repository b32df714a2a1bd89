// Package obsmetrics holds the controller's Prometheus instrumentation.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_hosts_total",
			Help: "Total number of registered hosts by provider",
		},
		[]string{"provider"},
	)

	CoordinationIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_coordination_is_leader",
			Help: "Whether this process currently holds the director leader lock (1 = leader, 0 = follower)",
		},
	)

	CoordinationSessionLossTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_coordination_session_loss_total",
			Help: "Total number of times the coordination session was lost or expired",
		},
	)

	MonitorPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_monitor_pass_duration_seconds",
			Help:    "Time taken for a single NodeManager monitor pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	MonitorPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_monitor_passes_total",
			Help: "Total number of NodeManager monitor passes completed",
		},
	)

	TelemetryFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_telemetry_fetch_duration_seconds",
			Help:    "Time taken to fetch a telemetry snapshot for a host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ScalingIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_scaling_intents_total",
			Help: "Total number of scaling intents enqueued by direction",
		},
		[]string{"direction"},
	)

	ScalingIntentsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_scaling_intents_failed_total",
			Help: "Total number of scaling intents that failed execution by direction and error kind",
		},
		[]string{"direction", "kind"},
	)

	ProviderOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_provider_operation_duration_seconds",
			Help:    "Time taken for a provider adapter operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	RegistrySnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_registry_snapshot_duration_seconds",
			Help:    "Time taken to snapshot the replicated registry to disk",
			Buckets: prometheus.DefBuckets,
		},
	)

	IntentQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_intent_queue_depth",
			Help: "Current number of pending scaling intents in the queue",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		HostsTotal,
		CoordinationIsLeader,
		CoordinationSessionLossTotal,
		MonitorPassDuration,
		MonitorPassesTotal,
		TelemetryFetchDuration,
		ScalingIntentsTotal,
		ScalingIntentsFailedTotal,
		ProviderOperationDuration,
		RegistrySnapshotDuration,
		IntentQueueDepth,
	)
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
