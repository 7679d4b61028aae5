package engine

import (
	"sync"
	"time"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/flow"
)

// StepStats accumulates one step's contribution to a job's completion
// report (spec §4.J step 6: "reports statistics").
type StepStats struct {
	Rows     int64
	Duration time.Duration
}

// Stats is the job-wide statistics table, keyed by step, following the
// teacher's Manager.GetRaftStats idiom of a mutex-guarded map filled in
// as work completes rather than computed after the fact.
type Stats struct {
	mu    sync.Mutex
	steps map[flow.StepID]*StepStats
}

func newStats() *Stats {
	return &Stats{steps: make(map[flow.StepID]*StepStats)}
}

func (s *Stats) recordStep(id flow.StepID, rows int64, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.steps[id]
	if !ok {
		ss = &StepStats{}
		s.steps[id] = ss
	}
	ss.Rows += rows
	ss.Duration += dur
}

// Snapshot returns a copy of the per-step table, safe for a caller to
// range over after the job has finished.
func (s *Stats) Snapshot() map[flow.StepID]StepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[flow.StepID]StepStats, len(s.steps))
	for id, ss := range s.steps {
		out[id] = *ss
	}
	return out
}

// TotalRows sums every step's row count, the figure a Response's
// diagnostics typically reports for a DML statement.
func (s *Stats) TotalRows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, ss := range s.steps {
		total += ss.Rows
	}
	return total
}

// Job is one Submit call's allocation (spec §4.J step 1: "allocates a
// job, captures request source metadata"): the step graph it built, the
// wait group every initial task's completion counts down, the
// first-writer-wins error slot tasks report into, and the statistics
// table runnerTask fills in as partitions finish.
type Job struct {
	id         string
	startedAt  time.Time
	finishedAt time.Time

	graph   *flow.Graph
	wg      sync.WaitGroup
	errSlot errs.Slot
	stats   *Stats
}

func newJob(id string) *Job {
	return &Job{id: id, startedAt: time.Now(), stats: newStats()}
}

// ID returns the job's allocated identity.
func (j *Job) ID() string { return j.id }

// Err returns the job's first recorded error, or nil if it completed
// without one.
func (j *Job) Err() *errs.Info { return j.errSlot.Get() }

// Stats returns the job's per-step statistics table.
func (j *Job) Stats() *Stats { return j.stats }

// Duration reports how long the job ran, from allocation to its last
// task's completion. Calling it before the job finishes returns the
// elapsed time so far.
func (j *Job) Duration() time.Duration {
	end := j.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(j.startedAt)
}

// Graph exposes the job's activated step graph, chiefly for tests that
// want to assert on step-state after a Submit call returns.
func (j *Job) Graph() *flow.Graph { return j.graph }
