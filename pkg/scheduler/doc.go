/*
Package scheduler implements the work-stealing, core-pinned task
scheduler that drives the execution engine.

The scheduler owns a fixed pool of workers - one per configured CPU by
default - each pinned to its own OS thread and draining a local FIFO
queue of task identities. Steps submit one task per partition (or a
single task for most exchanges); workers run tasks to completion,
stealing from another worker when their own queue is empty.

# Architecture

	┌──────────────────── TASK SCHEDULER ───────────────────────┐
	│                                                             │
	│   worker 0          worker 1          worker 2             │
	│  ┌────────┐        ┌────────┐        ┌────────┐           │
	│  │ queue  │        │ queue  │        │ queue  │           │
	│  │ [T1 T2]│        │ [  ]   │<--steal│ [T3]   │           │
	│  └───┬────┘        └───┬────┘        └───┬────┘           │
	│      │                 │                  │                │
	│      ▼                 ▼                  ▼                │
	│   Run(0)             Run(1)             Run(2)              │
	│                                                             │
	│          sticky map: taskID -> last worker index            │
	└─────────────────────────────────────────────────────────────┘

# Submission semantics

Schedule places a task on its sticky worker if the sticky map has a
prior entry for that task's ID, otherwise on the least-loaded worker,
then records that choice as the new sticky assignment. ScheduleAt forces
placement on a specific worker and is used by operators that must stay
on the same worker for arena/cache locality regardless of load. Work
submitted to the same worker is executed in submission order; no
ordering is promised across workers.

# Stealing

When a worker's own queue is empty it probes the other workers starting
from a rotating offset (so repeated failures spread the probe order
across workers instead of always hammering the same victim) and takes
the oldest task from the first non-empty queue it finds. A worker that
finds nothing to steal backs off for a short, exponentially increasing
interval before probing again, bounding both busy-waiting and
starvation.

# Suspension and cancellation

A Task.Run can return Suspended to declare itself waiting on an external
event (most commonly a durability marker becoming visible, tracked by
pkg/txn's waitlist) instead of Completed. The scheduler does not track
suspended tasks itself or re-enqueue them automatically; the caller that
observed Suspended is responsible for calling Schedule again once the
event fires. Cancellation is cooperative: a long-running or resumed task
checks its transaction's cancellation state at its next task boundary
and returns Interrupted rather than continuing.

# Shutdown

Stop runs any OnShutdown hooks first - giving the caller a chance to wake
externally-tracked suspended tasks with an interrupted status - then
signals every worker to stop pulling new work and waits for in-flight
tasks to finish. Anything still queued at that point is dropped and
logged rather than executed.

# See Also

  - pkg/flow - step/partition task creation
  - pkg/txn - durability waitlist and cancellation state
  - pkg/metrics - scheduler_* gauge/counter/histogram definitions
*/
package scheduler
