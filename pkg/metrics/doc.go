/*
Package metrics provides Prometheus metrics collection and exposition for
the engine.

The metrics package defines and registers all engine metrics using the
Prometheus client library, providing observability into the scheduler's
queue depths and steal rate, exchange row throughput, transaction
durability lag, storage call latency, and request (job) duration. Metrics
are exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Scheduler: queue depth, steals, task time   │          │
	│  │  Exchange: rows transferred by kind          │          │
	│  │  Transaction: outcomes, durability wait      │          │
	│  │  Errors: counts by taxonomy code/class       │          │
	│  │  KV: operation count and latency by op       │          │
	│  │  Arena: pages allocated per pool             │          │
	│  │  Job: active count, end-to-end duration      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  │  - Handler: promhttp.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Scheduler metrics (spec §4.D):

sqlengine_scheduler_tasks_executed_total: Counter, total tasks run to
completion by any worker.

sqlengine_scheduler_steals_total: Counter, total tasks picked up by
stealing from another worker's queue.

sqlengine_scheduler_queue_depth{worker}: Gauge, queued task identities per
worker.

sqlengine_scheduler_task_duration_seconds: Histogram, wall time a single
task occupies a worker.

Exchange metrics (spec §4.G):

sqlengine_exchange_rows_total{kind}: Counter, rows moved through an
exchange, labeled by kind (forward/group/aggregate).

Transaction and durability metrics (spec §4.H):

sqlengine_transactions_total{outcome}: Counter, transactions terminated
by outcome (commit/abort).

sqlengine_durability_waitlist_depth: Gauge, transactions currently
suspended awaiting a durability marker.

sqlengine_durability_wait_duration_seconds: Histogram, time a transaction
spends suspended before being woken.

Error taxonomy metrics (spec §7):

sqlengine_errors_total{code, class}: Counter, errors recorded into a
request context's error slot.

KV storage metrics (spec §6):

sqlengine_kv_operations_total{op, status}: Counter, storage interface
calls by operation and resulting status code.

sqlengine_kv_operation_duration_seconds{op}: Histogram, storage call
latency by operation.

Arena metrics (spec §4.A):

sqlengine_arena_pages_allocated{pool}: Gauge, pages currently checked out
of a page pool.

Job metrics (spec §4.J):

sqlengine_jobs_active: Gauge, requests currently executing.

sqlengine_job_duration_seconds: Histogram, end-to-end request duration.

# Usage

	import "github.com/project-tsurugi/sqlengine/pkg/metrics"

	timer := metrics.NewTimer()
	// ... execute a task ...
	timer.ObserveDuration(metrics.SchedulerTaskDuration)

	metrics.ErrorsTotal.WithLabelValues("conflict_on_write_preserve_exception", "recoverable").Inc()

	http.Handle("/metrics", metrics.Handler())

# Collector

Collector polls a StatsSource (implemented by pkg/engine's job table) on a
fixed interval and republishes its counts into the package's gauges -
the same ticker-driven Start/Stop lifecycle any background collector
uses, decoupled from the engine package itself via a small interface to
avoid an import cycle.

# Design Patterns

Package Init Registration: all metrics registered in init(); MustRegister
panics on duplicate registration so a naming collision fails fast.

Label Discipline: worker index, exchange kind, error code/class, and KV
operation name are all bounded, low-cardinality label sets. Never label
with a transaction, job, or step ID.

Timer Pattern: create a timer at operation start, call ObserveDuration
(or ObserveDurationVec for labeled histograms) once it completes.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
