package engine

import "github.com/project-tsurugi/sqlengine/pkg/flow"

// Runtime is the scratch object a Plan.Build call fills in while it
// walks a compiled plan: it owns the step graph under construction plus
// the side table of per-partition process drivers the graph itself has
// no room for (a flow.Step only carries a partition count, not the
// closures that do the work).
//
// Grounded on a reconciler's operator-builder idiom, where a builder
// object accumulates side state (desired vs. actual) across a walk
// before anything is activated.
type Runtime struct {
	graph          *flow.Graph
	processRunners map[flow.StepID][]ProcessDriver
}

func newRuntime(g *flow.Graph) *Runtime {
	return &Runtime{
		graph:          g,
		processRunners: make(map[flow.StepID][]ProcessDriver),
	}
}

// AddProcessStep registers a process step (spec §4.E) together with one
// ProcessDriver per partition. len(drivers) must equal step.Partitions;
// a mismatch means the plan builder wired the step incorrectly: extra
// drivers are never run, and a missing one makes Submit panic when it
// indexes the driver for that partition.
func (rt *Runtime) AddProcessStep(step *flow.Step, drivers []ProcessDriver) {
	rt.graph.AddStep(step)
	rt.processRunners[step.ID] = drivers
}

// AddExchangeStep registers an exchange step (spec §4.G) together with
// the activator hook that builds its sinks/sources on first activation
// (spec §4.E: "for exchanges, sets up initial sinks/sources"). Exchanges
// create their own tasks at flush/merge time rather than through
// Engine.submitStep, so no ProcessDriver is attached here.
func (rt *Runtime) AddExchangeStep(step *flow.Step, activator func(*flow.Flow)) {
	rt.graph.AddStep(step)
	rt.graph.Flow(step.ID).Activator = activator
}

// Graph exposes the graph under construction so a Plan.Build call can
// wire ports with g.Connect without holding its own reference.
func (rt *Runtime) Graph() *flow.Graph { return rt.graph }
