// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterPagesTotal          *prometheus.CounterVec
	harvesterRecordsTotal        *prometheus.CounterVec
	harvesterBytesTotal          *prometheus.CounterVec
	harvesterBytesSaved          prometheus.Gauge
	harvesterClaimsTotal         *prometheus.CounterVec
	harvesterTasksCompletedTotal *prometheus.CounterVec
	harvesterActiveWorkers       prometheus.Gauge
	harvesterFetchSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. It is safe to call
// multiple times; the observe helpers call it themselves so collection
// works without explicit wiring.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total pages fetched, labeled by endpoint and status class.",
			},
			[]string{"endpoint", "status"},
		)

		harvesterRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Total records extracted, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		harvesterBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total response bytes fetched, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		harvesterBytesSaved = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_content_bytes_saved",
				Help: "Bytes saved by content deduplication (logical minus physical).",
			},
		)

		harvesterClaimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_claims_total",
				Help: "Total claim attempts, labeled by outcome (granted, denied, expired, released).",
			},
			[]string{"outcome"},
		)

		harvesterTasksCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_tasks_completed_total",
				Help: "Total tasks driven to completion, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently executing a claimed task.",
			},
		)

		harvesterFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of upstream page fetch latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one fetched page.
func ObservePage(endpoint, statusClass string, records, bytesFetched int) {
	Init()
	harvesterPagesTotal.WithLabelValues(endpoint, statusClass).Inc()
	if records > 0 {
		harvesterRecordsTotal.WithLabelValues(endpoint).Add(float64(records))
	}
	if bytesFetched > 0 {
		harvesterBytesTotal.WithLabelValues(endpoint).Add(float64(bytesFetched))
	}
}

// ObserveClaim increments the claim outcome counter.
func ObserveClaim(outcome string) {
	Init()
	harvesterClaimsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTaskCompleted increments the completed task counter.
func ObserveTaskCompleted(endpoint string) {
	Init()
	harvesterTasksCompletedTotal.WithLabelValues(endpoint).Inc()
}

// SetBytesSaved publishes the current dedup savings gauge.
func SetBytesSaved(saved int64) {
	Init()
	harvesterBytesSaved.Set(float64(saved))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// ObserveFetch records the duration of one upstream fetch.
func ObserveFetch(endpoint string, duration time.Duration) {
	Init()
	harvesterFetchSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// StatusClass buckets an HTTP status code into 2xx/3xx/4xx/5xx.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
