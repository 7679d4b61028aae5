// Package engine implements the request orchestrator (spec §4.J): it
// allocates a job for an incoming request, builds the operator tree from
// a compiled plan, activates the dataflow graph leaves first, submits
// the initial per-partition tasks, waits for the job to complete, and
// reports statistics back to the caller.
//
// Grounded on a top-level Manager idiom (the one type other packages
// are constructed around, owning the scheduler-equivalent and the
// storage handle) and a reconciler's explicit state-machine
// step sequence, applied here to one request's lifecycle instead of one
// cluster resource's.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/flow"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
	"github.com/project-tsurugi/sqlengine/pkg/log"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/project-tsurugi/sqlengine/pkg/record"
	"github.com/project-tsurugi/sqlengine/pkg/scheduler"
	"github.com/project-tsurugi/sqlengine/pkg/trace"
	"github.com/project-tsurugi/sqlengine/pkg/txn"
)

// ProcessDriver runs one partition of a process step's operator tree to
// completion, returning the number of rows it emitted downstream and any
// error it recorded along the way (spec §4.F/§4.J). It is run exactly
// once per task, on whatever worker the scheduler assigns, and must not
// block except at the three suspension points spec §5 enumerates.
type ProcessDriver func(workerIndex int) (rows int64, err *errs.Info)

// TableMeta is what a catalog reports for one table: its record layout
// plus the storage name the §6 KV interface expects.
type TableMeta struct {
	Storage string
	Meta    *record.Meta
}

// Catalog resolves the storage/index references a plan names into the
// metadata the operator-builder needs (spec §4.J step 2: "instantiates
// §4.F operators with resolved storage/index references"), and is also
// what engine.Describe consults.
type Catalog interface {
	TableMeta(name string) (*TableMeta, bool)
}

// Plan is the compiled, already-resolved query or DML a Request carries
// (spec §4.J: "a request carries... a compiled plan"). Building one is
// outside this package's scope - a SQL compiler is a separate concern -
// but whatever builds it must satisfy this interface to be orchestrated.
type Plan interface {
	// Build adds every step (process and exchange) this plan needs to g,
	// wiring ports via g.Connect and registering each process step's
	// per-partition drivers via rt.AddProcessStep, and each exchange's
	// sink/source construction via rt.AddExchangeStep. It returns the
	// step IDs the orchestrator must submit initial tasks for - the
	// source processes with no upstream input (spec §4.J step 4: "one
	// per partition for source processes").
	Build(g *flow.Graph, rt *Runtime) (sources []flow.StepID, err *errs.Info)
}

// Config wires an Engine to its collaborators. Store and Scheduler are
// required; Catalog and Trace default to a no-op/disabled implementation
// when nil.
type Config struct {
	Store     kv.Store
	Scheduler *scheduler.Scheduler
	Catalog   Catalog
	Trace     *trace.Broker
	// Waitlist, if set, is consulted by DurabilityWaitlistDepth for
	// pkg/metrics.StatsSource; an Engine serving only read-only/RTX
	// transactions may leave it nil.
	Waitlist *txn.Waitlist
}

// Engine is the long-lived orchestrator a transport server submits
// requests to.
type Engine struct {
	store     kv.Store
	scheduler *scheduler.Scheduler
	catalog   Catalog
	trace     *trace.Broker
	waitlist  *txn.Waitlist
	logger    zerolog.Logger

	activeJobs atomic.Int64
}

// New builds an Engine. A nil Catalog means Describe always reports
// target_not_found_exception; a nil Trace disables trace event
// publication.
func New(cfg Config) *Engine {
	return &Engine{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		catalog:   cfg.Catalog,
		trace:     cfg.Trace,
		waitlist:  cfg.Waitlist,
		logger:    log.WithComponent("engine"),
	}
}

// Describe resolves name through the configured Catalog, the contract
// §8 S8 exercises ("describe('no_such_table')" -> target_not_found with
// a message naming the table).
func (e *Engine) Describe(name string) (*TableMeta, *errs.Info) {
	if e.catalog == nil {
		return nil, errs.Newf(errs.TargetNotFoundException, "table not found: %s", name)
	}
	tm, ok := e.catalog.TableMeta(name)
	if !ok {
		return nil, errs.Newf(errs.TargetNotFoundException, "table not found: %s", name)
	}
	return tm, nil
}

// ActiveJobs, DurabilityWaitlistDepth and SchedulerQueueDepths implement
// pkg/metrics.StatsSource.
func (e *Engine) ActiveJobs() int { return int(e.activeJobs.Load()) }

func (e *Engine) DurabilityWaitlistDepth() int {
	if e.waitlist == nil {
		return 0
	}
	return e.waitlist.Len()
}

func (e *Engine) SchedulerQueueDepths() []int {
	if e.scheduler == nil {
		return nil
	}
	return e.scheduler.QueueDepths()
}

// Submit allocates a job for plan and drives it through the five steps
// spec §4.J lists: build, activate, submit, wait, report. It blocks
// until the job reaches a terminal state.
func (e *Engine) Submit(plan Plan) (*Job, *errs.Info) {
	job := newJob(uuid.NewString())
	e.logger.Debug().Str("job", job.id).Msg("job allocated")
	e.activeJobs.Add(1)
	defer e.activeJobs.Add(-1)
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()
	timer := metrics.NewTimer()
	defer func() { metrics.JobDuration.Observe(timer.Duration().Seconds()) }()

	g := flow.NewGraph()
	rt := newRuntime(g)
	sources, berr := plan.Build(g, rt)
	if berr != nil {
		job.errSlot.Set(berr)
		return job, berr
	}

	g.ActivateLeavesFirst()
	job.graph = g

	e.publish(trace.EventStatementStart, job.id, "")
	for _, stepID := range sources {
		e.submitStep(job, g, rt, stepID)
	}

	job.wg.Wait()
	e.publish(trace.EventStatementEnd, job.id, "")
	job.finishedAt = time.Now()

	if job.errSlot.HasError() {
		return job, job.errSlot.Get()
	}
	return job, nil
}

func (e *Engine) submitStep(job *Job, g *flow.Graph, rt *Runtime, stepID flow.StepID) {
	step := g.Step(stepID)
	f := g.Flow(stepID)
	runners := rt.processRunners[stepID]
	for p := 0; p < step.Partitions; p++ {
		runner := runners[p]
		job.wg.Add(1)
		t := flow.NewTask(f, flow.TaskMain, e.runnerTask(job, stepID, runner))
		e.scheduler.Schedule(t)
	}
}

// runnerTask adapts one partition's ProcessDriver into the closure
// flow.NewTask expects, accounting rows/duration into the job's
// statistics and the job's first error into its error slot.
//
// Suspension (spec §5's durability-wait and KV-callback suspension
// points) is handled entirely inside pkg/txn and pkg/kv below this
// driver - by the time Run returns here the partition's work is either
// done or failed, so this wrapper only ever reports scheduler.Completed
// or scheduler.Interrupted, and calls job.wg.Done() exactly once per
// partition.
func (e *Engine) runnerTask(job *Job, stepID flow.StepID, runner ProcessDriver) func(int) scheduler.Status {
	return func(workerIndex int) scheduler.Status {
		defer job.wg.Done()
		start := time.Now()
		rows, err := runner(workerIndex)
		job.stats.recordStep(stepID, rows, time.Since(start))
		if err != nil {
			job.errSlot.Set(err)
			return scheduler.Interrupted
		}
		return scheduler.Completed
	}
}

func (e *Engine) publish(t trace.EventType, jobID, msg string) {
	if e.trace == nil {
		return
	}
	e.trace.Publish(&trace.Event{ID: jobID, Type: t, Timestamp: time.Now(), Message: msg})
}
