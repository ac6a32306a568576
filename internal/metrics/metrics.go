// Package metrics registers the prometheus collectors exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markerguard_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markerguard_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	PurgeScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markerguard_purge_scans_total",
			Help: "Purge detector runs by scope level and outcome",
		},
		[]string{"level", "outcome"},
	)

	PurgeScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "markerguard_purge_scan_duration_seconds",
			Help:    "Duration of purge detector runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	PurgedMarkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "markerguard_purged_markers",
			Help: "Purged markers currently cached per section",
		},
		[]string{"section"},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markerguard_purge_resolutions_total",
			Help: "Purged markers resolved, by mode and result",
		},
		[]string{"mode", "result"},
	)

	ActionLogWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markerguard_action_log_write_failures_total",
			Help: "ActionLog appends that failed after the marker change was committed",
		},
	)

	ReindexFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markerguard_reindex_failures_total",
			Help: "Index renumbering passes that failed",
		},
	)
)

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordPurgeScan(level string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PurgeScans.WithLabelValues(level, outcome).Inc()
	PurgeScanDuration.Observe(duration.Seconds())
}

func SetPurgedMarkers(sectionID int64, count int) {
	PurgedMarkers.WithLabelValues(strconv.FormatInt(sectionID, 10)).Set(float64(count))
}

func RecordResolution(mode, result string, n int) {
	if n == 0 {
		return
	}
	Resolutions.WithLabelValues(mode, result).Add(float64(n))
}
