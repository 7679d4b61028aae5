package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics (spec §4.D).
	SchedulerTasksExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlengine_scheduler_tasks_executed_total",
			Help: "Total number of tasks run to completion by any worker.",
		},
	)

	SchedulerSteals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlengine_scheduler_steals_total",
			Help: "Total number of tasks picked up by stealing from another worker's queue.",
		},
	)

	SchedulerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlengine_scheduler_queue_depth",
			Help: "Current number of queued task identities per worker.",
		},
		[]string{"worker"},
	)

	SchedulerTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlengine_scheduler_task_duration_seconds",
			Help:    "Wall time a single task occupies a worker, from dequeue to return.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Exchange metrics (spec §4.G).
	ExchangeRowsTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlengine_exchange_rows_total",
			Help: "Total rows moved through an exchange, by exchange kind.",
		},
		[]string{"kind"},
	)

	// Transaction/durability metrics (spec §4.H).
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlengine_transactions_total",
			Help: "Total transactions terminated, by outcome (commit/abort).",
		},
		[]string{"outcome"},
	)

	DurabilityWaitlistDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlengine_durability_waitlist_depth",
			Help: "Number of transactions currently suspended awaiting a durability marker.",
		},
	)

	DurabilityWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlengine_durability_wait_duration_seconds",
			Help:    "Time a transaction spends suspended on the durability waitlist before being woken.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Error taxonomy metrics (spec §7).
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlengine_errors_total",
			Help: "Total errors recorded into a request context's error slot, by code and class.",
		},
		[]string{"code", "class"},
	)

	// KV storage metrics (spec §6).
	KVOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlengine_kv_operations_total",
			Help: "Total storage interface calls, by operation and resulting status.",
		},
		[]string{"op", "status"},
	)

	KVOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlengine_kv_operation_duration_seconds",
			Help:    "Storage interface call latency, by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Arena metrics (spec §4.A).
	ArenaPagesAllocated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlengine_arena_pages_allocated",
			Help: "Pages currently checked out of a page pool, by pool name.",
		},
		[]string{"pool"},
	)

	// Request orchestrator metrics (spec §4.J).
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlengine_jobs_active",
			Help: "Number of requests currently being executed.",
		},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlengine_job_duration_seconds",
			Help:    "End-to-end duration of a request from submission to completion.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(SchedulerTasksExecuted)
	prometheus.MustRegister(SchedulerSteals)
	prometheus.MustRegister(SchedulerQueueDepth)
	prometheus.MustRegister(SchedulerTaskDuration)

	prometheus.MustRegister(ExchangeRowsTransferred)

	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(DurabilityWaitlistDepth)
	prometheus.MustRegister(DurabilityWaitDuration)

	prometheus.MustRegister(ErrorsTotal)

	prometheus.MustRegister(KVOperationsTotal)
	prometheus.MustRegister(KVOperationDuration)

	prometheus.MustRegister(ArenaPagesAllocated)

	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(JobDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
