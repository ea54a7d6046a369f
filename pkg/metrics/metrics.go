package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChangeEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_change_events_applied_total",
			Help: "Change-feed events applied to the local task cache",
		},
		[]string{"type"}, // type: added, modified, removed
	)

	ChangeEventsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_change_events_suppressed_total",
			Help: "Change-feed events ignored because the task id is marked deleted",
		},
	)

	TaskSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_saves_total",
			Help: "Task save attempts by result",
		},
		[]string{"result"}, // result: ok, duplicate, denied, dead_chain, store_error
	)

	TaskDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_deletes_total",
			Help: "Task delete attempts by result",
		},
		[]string{"result"}, // result: ok, already_gone, store_error
	)

	OccurrencesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_occurrences_generated_total",
			Help: "Recurring task occurrences generated",
		},
		[]string{"source"}, // source: completion, catchup
	)

	CleanupDeletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_cleanup_deletions_total",
			Help: "Completed tasks removed by the midnight cleanup",
		},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_store_op_duration_seconds",
			Help:    "Task store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Database queries slower than the configured threshold",
		},
	)
)

// RecordStoreOp records the duration of one task store operation.
func RecordStoreOp(op string, duration time.Duration) {
	StoreOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration records an HTTP request duration.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery counts one slow database query.
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
