// Package scheduler implements the work-stealing, core-pinned task
// scheduler that drives the engine. A fixed pool of workers, one per
// configured CPU, each owns a local FIFO queue of task identities. A
// sticky map remembers, per task, the worker index it was last scheduled
// on, so repeated submissions of the same task prefer cache/arena
// locality over load balancing. When a worker's queue empties it steals
// from another worker chosen by a rotating probe, backing off briefly
// between failed attempts.
package scheduler

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/project-tsurugi/sqlengine/pkg/log"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/rs/zerolog"
)

// Status is the outcome of one Task.Run invocation.
type Status int

const (
	// Completed means the task finished and will not run again.
	Completed Status = iota
	// Suspended means the task declared itself suspended; the caller
	// (not the scheduler) is responsible for re-scheduling it once the
	// event it is waiting on fires.
	Suspended
	// Interrupted means the task was woken by a cancellation and is
	// giving up without completing its work.
	Interrupted
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Suspended:
		return "suspended"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Task is a unit of schedulable work. ID identifies the task for sticky
// placement and for schedule_at; two invocations of the same task
// (e.g. after a suspend/resume cycle) must return the same ID. Run
// executes on the given worker index and returns the resulting status.
type Task interface {
	ID() uint64
	Run(workerIndex int) Status
}

// worker owns one local FIFO queue and may be stolen from by others.
type worker struct {
	index int
	mu    sync.Mutex
	queue []Task
}

func (w *worker) pushBack(t Task) {
	w.mu.Lock()
	w.queue = append(w.queue, t)
	w.mu.Unlock()
}

// popFront is used by the owning worker to take its own next task.
func (w *worker) popFront() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	t := w.queue[0]
	w.queue = w.queue[1:]
	return t, true
}

// stealBack is used by a thief to take the oldest task from a victim.
// Same underlying queue as popFront, exposed separately so call sites
// read as "I am stealing" vs "I am draining my own work."
func (w *worker) stealBack() (Task, bool) {
	return w.popFront()
}

func (w *worker) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// drain empties the queue, returning everything still pending.
func (w *worker) drain() []Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := w.queue
	w.queue = nil
	return pending
}

// Config controls scheduler construction.
type Config struct {
	// Workers is the fixed pool size. Zero defaults to runtime.NumCPU().
	Workers int
	// StealBackoff is the pause between failed steal rounds. Zero
	// defaults to 200 microseconds.
	StealBackoff time.Duration
	// MaxStealBackoff caps the exponential back-off applied while a
	// worker repeatedly fails to steal. Zero defaults to 5 milliseconds.
	MaxStealBackoff time.Duration
	// PinOSThread locks each worker goroutine to its own OS thread via
	// runtime.LockOSThread before attempting CoreAffinity, since
	// SchedSetaffinity only affects the calling thread. Defaults to true.
	PinOSThread *bool
	// CoreAffinity additionally binds worker i's locked OS thread to CPU
	// (InitialCore+i) via sched_setaffinity on Linux (spec §6
	// "core_affinity"); a no-op on other platforms. Requires PinOSThread.
	CoreAffinity bool
	// InitialCore is the first CPU index used when CoreAffinity is set.
	InitialCore int
}

// Scheduler is the fixed-size work-stealing worker pool.
type Scheduler struct {
	workers []*worker
	logger  zerolog.Logger

	stealBackoff    time.Duration
	maxStealBackoff time.Duration
	pinOSThread     bool
	coreAffinity    bool
	initialCore     int

	stickyMu sync.Mutex
	sticky   map[uint64]int

	shutdownMu  sync.Mutex
	shutdownFns []func()
	stopCh      chan struct{}
	stopped     atomic.Bool
	wg          sync.WaitGroup
	nextRobin   atomic.Uint64
}

// New builds a Scheduler with the given configuration. Workers are not
// started until Start is called.
func New(cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
	}
	backoff := cfg.StealBackoff
	if backoff <= 0 {
		backoff = 200 * time.Microsecond
	}
	maxBackoff := cfg.MaxStealBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Millisecond
	}
	pin := true
	if cfg.PinOSThread != nil {
		pin = *cfg.PinOSThread
	}

	s := &Scheduler{
		workers:         make([]*worker, workers),
		logger:          log.WithComponent("scheduler"),
		stealBackoff:    backoff,
		maxStealBackoff: maxBackoff,
		pinOSThread:     pin,
		coreAffinity:    cfg.CoreAffinity,
		initialCore:     cfg.InitialCore,
		sticky:          make(map[uint64]int),
		stopCh:          make(chan struct{}),
	}
	for i := range s.workers {
		s.workers[i] = &worker{index: i}
	}
	return s
}

// NumWorkers returns the fixed pool size.
func (s *Scheduler) NumWorkers() int {
	return len(s.workers)
}

// QueueDepths returns the current queue length of each worker, indexed by
// worker index, for pkg/metrics.StatsSource.
func (s *Scheduler) QueueDepths() []int {
	depths := make([]int, len(s.workers))
	for i, w := range s.workers {
		depths[i] = w.len()
	}
	return depths
}

// Start launches one goroutine per worker.
func (s *Scheduler) Start() {
	for _, w := range s.workers {
		s.wg.Add(1)
		go s.runWorker(w)
	}
	s.logger.Info().Int("workers", len(s.workers)).Msg("scheduler started")
}

// OnShutdown registers a hook invoked during Stop, before queues are
// drained, so the caller can wake any externally-tracked suspended tasks
// (such as those on pkg/txn's durability waitlist) with an interrupted
// status; the scheduler itself never tracks suspended tasks.
func (s *Scheduler) OnShutdown(fn func()) {
	s.shutdownMu.Lock()
	s.shutdownFns = append(s.shutdownFns, fn)
	s.shutdownMu.Unlock()
}

// Stop signals all workers to finish their in-flight task and stop
// pulling new work, then blocks until every worker goroutine exits.
// Queues are drained (not executed) once workers exit; suspended tasks
// tracked externally are woken via the OnShutdown hooks first.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	s.shutdownMu.Lock()
	hooks := s.shutdownFns
	s.shutdownMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	close(s.stopCh)
	s.wg.Wait()

	for _, w := range s.workers {
		if pending := w.drain(); len(pending) > 0 {
			s.logger.Warn().Int("worker", w.index).Int("dropped", len(pending)).
				Msg("dropped undispatched tasks on shutdown")
		}
	}
}

// Schedule places task on its sticky worker's queue if one is recorded,
// otherwise on the least-loaded worker, and records that placement as
// the new sticky assignment.
func (s *Scheduler) Schedule(task Task) {
	idx := s.stickyWorker(task.ID())
	if idx < 0 {
		idx = s.leastLoaded()
	}
	s.ScheduleAt(task, idx)
}

// ScheduleAt forces placement on a specific worker, used by operators
// that must stay on the same worker for arena/cache locality. It also
// updates the sticky map so a later plain Schedule call returns here.
func (s *Scheduler) ScheduleAt(task Task, workerIndex int) {
	workerIndex = workerIndex % len(s.workers)
	if workerIndex < 0 {
		workerIndex += len(s.workers)
	}
	s.setSticky(task.ID(), workerIndex)
	s.workers[workerIndex].pushBack(task)
}

func (s *Scheduler) stickyWorker(taskID uint64) int {
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	if idx, ok := s.sticky[taskID]; ok {
		return idx
	}
	return -1
}

func (s *Scheduler) setSticky(taskID uint64, workerIndex int) {
	s.stickyMu.Lock()
	s.sticky[taskID] = workerIndex
	s.stickyMu.Unlock()
}

// ForgetSticky drops a task's sticky assignment. Callers invoke this
// once a task identity is retired (its step has completed) so the
// sticky map doesn't grow unboundedly across a long-running job.
func (s *Scheduler) ForgetSticky(taskID uint64) {
	s.stickyMu.Lock()
	delete(s.sticky, taskID)
	s.stickyMu.Unlock()
}

func (s *Scheduler) leastLoaded() int {
	best := 0
	bestLen := s.workers[0].len()
	for i := 1; i < len(s.workers); i++ {
		if l := s.workers[i].len(); l < bestLen {
			best, bestLen = i, l
		}
	}
	return best
}

func (s *Scheduler) runWorker(w *worker) {
	defer s.wg.Done()
	if s.pinOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if s.coreAffinity {
			if err := setCPUAffinity(s.initialCore + w.index); err != nil {
				s.logger.Warn().Int("worker", w.index).Err(err).Msg("failed to set CPU affinity")
			}
		}
	}

	backoff := s.stealBackoff
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		task, ok := w.popFront()
		if !ok {
			task, ok = s.steal(w.index)
		}
		if !ok {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoff):
			}
			if backoff < s.maxStealBackoff {
				backoff *= 2
				if backoff > s.maxStealBackoff {
					backoff = s.maxStealBackoff
				}
			}
			continue
		}
		backoff = s.stealBackoff

		metrics.SchedulerQueueDepth.WithLabelValues(strconv.Itoa(w.index)).Set(float64(w.len()))
		timer := metrics.NewTimer()
		status := task.Run(w.index)
		timer.ObserveDuration(metrics.SchedulerTaskDuration)

		if status == Completed {
			metrics.SchedulerTasksExecuted.Inc()
			s.ForgetSticky(task.ID())
		}
	}
}

// steal probes the other workers starting at a rotating offset so
// repeated failures don't always hammer the same victim, and takes the
// first non-empty queue found.
func (s *Scheduler) steal(selfIndex int) (Task, bool) {
	n := len(s.workers)
	if n <= 1 {
		return nil, false
	}
	start := int(s.nextRobin.Add(1)) % n
	for i := 0; i < n; i++ {
		victimIdx := (start + i) % n
		if victimIdx == selfIndex {
			continue
		}
		if t, ok := s.workers[victimIdx].stealBack(); ok {
			metrics.SchedulerSteals.Inc()
			return t, true
		}
	}
	return nil, false
}
