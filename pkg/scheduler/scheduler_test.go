package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingTask struct {
	id      uint64
	ran     *atomic.Int64
	done    chan struct{}
	workers *sync.Map // records every worker index that ran this task
}

func (t *countingTask) ID() uint64 { return t.id }

func (t *countingTask) Run(workerIndex int) Status {
	t.ran.Add(1)
	if t.workers != nil {
		t.workers.Store(workerIndex, true)
	}
	if t.done != nil {
		close(t.done)
	}
	return Completed
}

func pinned(v bool) *bool { return &v }

func newTestScheduler(workers int) *Scheduler {
	return New(Config{
		Workers:         workers,
		StealBackoff:    time.Millisecond,
		MaxStealBackoff: 2 * time.Millisecond,
		PinOSThread:     pinned(false),
	})
}

func TestScheduleRunsTask(t *testing.T) {
	s := newTestScheduler(2)
	s.Start()
	defer s.Stop()

	var ran atomic.Int64
	done := make(chan struct{})
	s.Schedule(&countingTask{id: 1, ran: &ran, done: done})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	require.Equal(t, int64(1), ran.Load())
}

func TestScheduleIsSticky(t *testing.T) {
	s := newTestScheduler(4)
	s.Start()
	defer s.Stop()

	// Pin task 1 to worker 2, then plain-Schedule it repeatedly; every
	// run must land back on worker 2.
	var ran atomic.Int64
	var workers sync.Map

	first := make(chan struct{})
	s.ScheduleAt(&countingTask{id: 1, ran: &ran, done: first, workers: &workers}, 2)
	<-first

	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		s.Schedule(&countingTask{id: 1, ran: &ran, done: done, workers: &workers})
		<-done
	}

	seen := 0
	workers.Range(func(k, v any) bool {
		seen++
		return true
	})
	require.Equal(t, 1, seen, "sticky task must always run on the same worker")
	_, ok := workers.Load(2)
	require.True(t, ok)
}

func TestScheduleAtForcesWorker(t *testing.T) {
	s := newTestScheduler(4)
	s.Start()
	defer s.Stop()

	var ran atomic.Int64
	var gotWorker atomic.Int64
	gotWorker.Store(-1)
	done := make(chan struct{})

	task := &workerRecordingTask{id: 7, ran: &ran, done: done, recorded: &gotWorker}
	s.ScheduleAt(task, 3)
	<-done

	require.Equal(t, int64(3), gotWorker.Load())
}

type workerRecordingTask struct {
	id       uint64
	ran      *atomic.Int64
	done     chan struct{}
	recorded *atomic.Int64
}

func (t *workerRecordingTask) ID() uint64 { return t.id }
func (t *workerRecordingTask) Run(workerIndex int) Status {
	t.ran.Add(1)
	t.recorded.Store(int64(workerIndex))
	close(t.done)
	return Completed
}

func TestStealingDrainsOverloadedWorker(t *testing.T) {
	s := newTestScheduler(4)
	s.Start()
	defer s.Stop()

	const n = 200
	var ran atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		id := uint64(1000 + i)
		task := &countingTask{id: id, ran: &ran, done: nil}
		wrapped := &wgTask{countingTask: task, wg: &wg}
		// Force every task onto worker 0 so the others must steal to
		// make progress.
		s.ScheduleAt(wrapped, 0)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks forced onto worker 0 were never stolen and completed")
	}
	require.Equal(t, int64(n), ran.Load())
}

type wgTask struct {
	*countingTask
	wg *sync.WaitGroup
}

func (t *wgTask) Run(workerIndex int) Status {
	status := t.countingTask.Run(workerIndex)
	t.wg.Done()
	return status
}

func TestForgetStickyDropsAssignment(t *testing.T) {
	s := newTestScheduler(2)

	s.setSticky(42, 1)
	require.Equal(t, 1, s.stickyWorker(42))

	s.ForgetSticky(42)
	require.Equal(t, -1, s.stickyWorker(42))
}

func TestStopDrainsAndRunsShutdownHooks(t *testing.T) {
	s := newTestScheduler(2)
	s.Start()

	var hookRan atomic.Bool
	s.OnShutdown(func() { hookRan.Store(true) })

	s.Stop()
	require.True(t, hookRan.Load())

	// Stop is idempotent.
	require.NotPanics(t, func() { s.Stop() })
}

func TestNumWorkersDefaultsToNumCPU(t *testing.T) {
	s := New(Config{PinOSThread: pinned(false)})
	require.Greater(t, s.NumWorkers(), 0)
}
