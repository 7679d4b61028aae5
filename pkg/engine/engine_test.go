package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/flow"
	"github.com/project-tsurugi/sqlengine/pkg/scheduler"
)

// singleStepPlan is a minimal Plan: one process step with a fixed set of
// per-partition drivers and no exchanges, enough to exercise Submit's
// build/activate/submit/wait/report sequence end to end.
type singleStepPlan struct {
	drivers []ProcessDriver
}

func (p *singleStepPlan) Build(g *flow.Graph, rt *Runtime) ([]flow.StepID, *errs.Info) {
	step := flow.NewStep(flow.KindProcess, len(p.drivers))
	rt.AddProcessStep(step, p.drivers)
	return []flow.StepID{step.ID}, nil
}

type failingPlan struct{}

func (failingPlan) Build(g *flow.Graph, rt *Runtime) ([]flow.StepID, *errs.Info) {
	return nil, errs.New(errs.CompileException, "plan rejected")
}

type fakeCatalog struct {
	tables map[string]*TableMeta
}

func (c *fakeCatalog) TableMeta(name string) (*TableMeta, bool) {
	tm, ok := c.tables[name]
	return tm, ok
}

func newTestEngine(t *testing.T) (*Engine, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(scheduler.Config{Workers: 2})
	sched.Start()
	t.Cleanup(sched.Stop)
	return New(Config{Scheduler: sched}), sched
}

func TestSubmitRunsAllPartitionsAndReportsStats(t *testing.T) {
	eng, _ := newTestEngine(t)

	var calls int
	plan := &singleStepPlan{drivers: []ProcessDriver{
		func(workerIndex int) (int64, *errs.Info) { calls++; return 3, nil },
		func(workerIndex int) (int64, *errs.Info) { calls++; return 4, nil },
	}}

	job, err := eng.Submit(plan)
	require.Nil(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(7), job.Stats().TotalRows())
	assert.True(t, job.Duration() >= 0)
}

func TestSubmitPropagatesFirstTaskError(t *testing.T) {
	eng, _ := newTestEngine(t)

	plan := &singleStepPlan{drivers: []ProcessDriver{
		func(workerIndex int) (int64, *errs.Info) {
			return 0, errs.New(errs.UniqueConstraintViolationException, "duplicate key")
		},
	}}

	job, err := eng.Submit(plan)
	require.NotNil(t, err)
	assert.Equal(t, errs.UniqueConstraintViolationException, err.Code)
	assert.Equal(t, err, job.Err())
}

func TestSubmitReturnsBuildError(t *testing.T) {
	eng, _ := newTestEngine(t)

	job, err := eng.Submit(failingPlan{})
	require.NotNil(t, err)
	assert.Equal(t, errs.CompileException, err.Code)
	assert.Equal(t, err, job.Err())
}

func TestDescribeWithoutCatalogReportsTargetNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Describe("no_such_table")
	require.NotNil(t, err)
	assert.Equal(t, errs.TargetNotFoundException, err.Code)
}

func TestDescribeResolvesThroughCatalog(t *testing.T) {
	sched := scheduler.New(scheduler.Config{Workers: 1})
	sched.Start()
	t.Cleanup(sched.Stop)

	want := &TableMeta{Storage: "accounts"}
	eng := New(Config{Scheduler: sched, Catalog: &fakeCatalog{tables: map[string]*TableMeta{"accounts": want}}})

	got, err := eng.Describe("accounts")
	require.Nil(t, err)
	assert.Same(t, want, got)

	_, err = eng.Describe("missing")
	require.NotNil(t, err)
	assert.Equal(t, errs.TargetNotFoundException, err.Code)
}

func TestEngineStatsSourceMethods(t *testing.T) {
	eng, sched := newTestEngine(t)

	assert.Equal(t, 0, eng.ActiveJobs())
	assert.Equal(t, 0, eng.DurabilityWaitlistDepth())
	assert.Len(t, eng.SchedulerQueueDepths(), sched.NumWorkers())

	started := make(chan struct{})
	release := make(chan struct{})
	plan := &singleStepPlan{drivers: []ProcessDriver{
		func(workerIndex int) (int64, *errs.Info) {
			close(started)
			<-release
			return 1, nil
		},
	}}

	done := make(chan struct{})
	go func() {
		_, _ = eng.Submit(plan)
		close(done)
	}()

	<-started
	assert.Equal(t, 1, eng.ActiveJobs())
	close(release)
	<-done

	assert.Eventually(t, func() bool { return eng.ActiveJobs() == 0 }, time.Second, time.Millisecond)
}
