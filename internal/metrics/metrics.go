// Package metrics defines the process's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_api_requests_total",
			Help: "Total number of API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arke_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Entity operation metrics
	EntityCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arke_entity_create_duration_seconds",
			Help:    "Time taken to create an entity in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EntityUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arke_entity_update_duration_seconds",
			Help:    "Time taken to append an entity version in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EntityUpdateConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arke_entity_update_conflicts_total",
			Help: "Total number of CAS conflicts on entity version updates",
		},
	)

	// Snapshot builder metrics
	SnapshotBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arke_snapshot_build_duration_seconds",
			Help:    "Time taken to build a snapshot in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	SnapshotBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_snapshot_builds_total",
			Help: "Total number of snapshot build attempts by outcome",
		},
		[]string{"outcome"},
	)

	SnapshotEntryCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arke_snapshot_entry_count",
			Help: "Number of distinct entities in the latest snapshot",
		},
	)

	SnapshotCIDCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arke_snapshot_cid_count",
			Help: "Number of CIDs in the latest snapshot's transitive closure",
		},
	)

	// Event chain metrics
	EventCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arke_event_count",
			Help: "Total number of events in the chain, per the index pointer",
		},
	)

	// Exporter metrics
	ExportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arke_export_duration_seconds",
			Help:    "Time taken to export the latest snapshot to an archive",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_exports_total",
			Help: "Total number of disaster-recovery exports by outcome",
		},
		[]string{"outcome"},
	)

	// Block-store client metrics
	StoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arke_store_request_duration_seconds",
			Help:    "Block-store HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StoreRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arke_store_retries_total",
			Help: "Total number of block-store request retries by op",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(EntityCreateDuration)
	prometheus.MustRegister(EntityUpdateDuration)
	prometheus.MustRegister(EntityUpdateConflicts)
	prometheus.MustRegister(SnapshotBuildDuration)
	prometheus.MustRegister(SnapshotBuildsTotal)
	prometheus.MustRegister(SnapshotEntryCount)
	prometheus.MustRegister(SnapshotCIDCount)
	prometheus.MustRegister(EventCount)
	prometheus.MustRegister(ExportDuration)
	prometheus.MustRegister(ExportsTotal)
	prometheus.MustRegister(StoreRequestDuration)
	prometheus.MustRegister(StoreRetries)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation for later observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
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
