package flow

import (
	"sync/atomic"

	"github.com/project-tsurugi/sqlengine/pkg/scheduler"
)

var nextTaskID atomic.Uint64

// NewTaskID mints a fresh task identity unique within the process (and
// therefore within any one job, spec §3).
func NewTaskID() TaskID {
	return TaskID(nextTaskID.Add(1))
}

// Task adapts a step's runnable work into a scheduler.Task, tracking its
// step/flow/kind so completion and error accounting land in the right
// step-state slot (spec §4.E).
type Task struct {
	id    TaskID
	flow  *Flow
	kind  TaskKind
	runFn func(workerIndex int) scheduler.Status
}

// NewTask wraps runFn as a schedulable Task and reserves its step-state
// slot. The caller still owns submitting it to a scheduler.Scheduler.
func NewTask(flow *Flow, kind TaskKind, runFn func(workerIndex int) scheduler.Status) *Task {
	id := NewTaskID()
	flow.RegisterTask(kind, id)
	return &Task{id: id, flow: flow, kind: kind, runFn: runFn}
}

func (t *Task) ID() uint64 { return uint64(t.id) }

// Run executes the wrapped function and updates the owning flow's
// step-state table according to the outcome. Suspended tasks are left in
// StateRunning - the caller (pkg/txn's durability waitlist today) is
// responsible for eventually re-submitting them and, on their final
// completion, calling MarkDone itself.
func (t *Task) Run(workerIndex int) scheduler.Status {
	t.flow.State.MarkRunning(t.kind, t.id)
	status := t.runFn(workerIndex)
	switch status {
	case scheduler.Completed:
		t.flow.State.MarkCompleted(t.kind, t.id)
	case scheduler.Interrupted:
		t.flow.State.MarkError(t.kind, t.id)
	case scheduler.Suspended:
		// Left running; MarkDone is called once the suspension resolves.
	}
	return status
}

// MarkDone finalizes a task that was left Suspended by its last Run,
// called once its continuation actually completes or errors.
func (t *Task) MarkDone(ok bool) {
	if ok {
		t.flow.State.MarkCompleted(t.kind, t.id)
	} else {
		t.flow.State.MarkError(t.kind, t.id)
	}
}

func (t *Task) ForgetSticky(s *scheduler.Scheduler) { s.ForgetSticky(t.ID()) }
