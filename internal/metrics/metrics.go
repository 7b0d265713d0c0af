// Package metrics exposes Prometheus instrumentation for the store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calstore_operation_duration_seconds",
		Help:    "Histogram of store operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calstore_operation_errors_total",
		Help: "Total number of store operations that returned an error, by error type.",
	}, []string{"operation", "type"})

	syncResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calstore_sync_full_resync_total",
		Help: "Total number of sync requests answered with a full-resync signal.",
	})

	notificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calstore_notification_failures_total",
		Help: "Total number of lifecycle notifications a listener failed to handle.",
	}, []string{"type"})
)

// ObserveLatency records the latency of operation since start.
func ObserveLatency(operation string, start time.Time) {
	operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// CountError counts a failed operation. errType is a short classification
// such as "not_found" or "internal".
func CountError(operation, errType string) {
	operationErrors.WithLabelValues(operation, errType).Inc()
}

// CountFullResync counts a sync answered with a full-resync signal.
func CountFullResync() {
	syncResyncs.Inc()
}

// CountNotificationFailure counts a notification a listener rejected.
func CountNotificationFailure(eventType string) {
	notificationFailures.WithLabelValues(eventType).Inc()
}
