package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loomctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loomctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	loomDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loomctl",
			Subsystem: "loom",
			Name:      "dispatches_total",
			Help:      "Accepted task dispatches.",
		},
		[]string{"mode"},
	)
	loomCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loomctl",
			Subsystem: "loom",
			Name:      "task_completions_total",
			Help:      "Task completions by outcome.",
		},
		[]string{"outcome"},
	)
	loomPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loomctl",
			Subsystem: "loom",
			Name:      "tasks_pending",
			Help:      "Tasks dispatched and not yet reported.",
		},
	)
	loomTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loomctl",
			Subsystem: "loom",
			Name:      "task_duration_seconds",
			Help:      "Dispatch-to-report latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			loomDispatches,
			loomCompletions,
			loomPending,
			loomTaskDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(mode string) {
	RegisterMetrics()
	loomDispatches.WithLabelValues(mode).Inc()
}

func RecordCompletion(outcome string, duration time.Duration) {
	RegisterMetrics()
	loomCompletions.WithLabelValues(outcome).Inc()
	loomTaskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func AddPendingTasks(delta float64) {
	RegisterMetrics()
	loomPending.Add(delta)
}
