package flow

import (
	"sync"

	"github.com/project-tsurugi/sqlengine/pkg/log"
	"github.com/rs/zerolog"
)

// Flow is the per-step runtime state: the list of tasks the step has
// created plus its step-state table (spec §3 "Flow", §4.E).
type Flow struct {
	Step  *Step
	State *StateTable

	mu        sync.Mutex
	taskIDs   []TaskID
	activated bool

	// Activator is the exchange/process-specific hook invoked once, on
	// activation, to set up initial sinks/sources (spec §4.E: "Activation
	// calls a step's activate, which creates the flow object and (for
	// exchanges) sets up initial sinks/sources").
	Activator func(*Flow)
}

func newFlow(step *Step) *Flow {
	return &Flow{Step: step, State: NewStateTable()}
}

// RegisterTask records a newly created task identity against kind and
// reserves its step-state slot.
func (f *Flow) RegisterTask(kind TaskKind, id TaskID) {
	f.mu.Lock()
	f.taskIDs = append(f.taskIDs, id)
	f.mu.Unlock()
	f.State.Reserve(kind, id)
}

// TaskIDs returns every task identity this flow has created so far.
func (f *Flow) TaskIDs() []TaskID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TaskID(nil), f.taskIDs...)
}

func (f *Flow) activate() {
	f.mu.Lock()
	if f.activated {
		f.mu.Unlock()
		return
	}
	f.activated = true
	f.mu.Unlock()
	if f.Activator != nil {
		f.Activator(f)
	}
}

func (f *Flow) Activated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activated
}

// Graph is the dataflow DAG of steps for one job (spec §4.E).
type Graph struct {
	logger zerolog.Logger

	mu    sync.Mutex
	steps map[StepID]*Step
	flows map[StepID]*Flow
	order []StepID // insertion order, used as a tiebreak for deterministic activation
}

func NewGraph() *Graph {
	return &Graph{
		logger: log.WithComponent("flow"),
		steps:  make(map[StepID]*Step),
		flows:  make(map[StepID]*Flow),
	}
}

// AddStep registers step in the graph and allocates its Flow object
// (un-activated).
func (g *Graph) AddStep(step *Step) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps[step.ID] = step
	g.flows[step.ID] = newFlow(step)
	g.order = append(g.order, step.ID)
}

// Connect wires outPort of fromID to inPort of toID in both directions,
// growing each step's port slices as needed.
func (g *Graph) Connect(fromID StepID, outPort int, toID StepID, inPort int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	from := g.steps[fromID]
	to := g.steps[toID]
	growOutputs(from, outPort)
	growInputs(to, inPort)
	from.Outputs[outPort] = Port{Step: toID, Index: inPort}
	to.Inputs[inPort] = Port{Step: fromID, Index: outPort}
}

func growOutputs(s *Step, idx int) {
	for len(s.Outputs) <= idx {
		s.Outputs = append(s.Outputs, Port{})
	}
}

func growInputs(s *Step, idx int) {
	for len(s.Inputs) <= idx {
		s.Inputs = append(s.Inputs, Port{})
	}
}

// Flow returns the runtime state for a step.
func (g *Graph) Flow(id StepID) *Flow {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flows[id]
}

// Step returns the step definition.
func (g *Graph) Step(id StepID) *Step {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.steps[id]
}

// Steps returns every step, in the order they were added.
func (g *Graph) Steps() []*Step {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Step, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.steps[id])
	}
	return out
}

// ActivateLeavesFirst topologically sorts the graph (leaves - steps with
// no unactivated upstream input - first) and activates each step's Flow
// in that order (spec §4.E: "Activation order: leaves first ... Process
// steps do not partition until their upstream exchange's flow is
// activated").
func (g *Graph) ActivateLeavesFirst() {
	for _, step := range g.topologicalOrder() {
		f := g.Flow(step.ID)
		f.activate()
		g.logger.Debug().Str("step", string(step.ID)).Str("kind", step.Kind.String()).Msg("step activated")
	}
}

// topologicalOrder returns steps ordered so that every step appears after
// all of its upstream inputs (a leaf - a step with no inputs - sorts
// first), using Kahn's algorithm for a deterministic, cycle-safe order.
func (g *Graph) topologicalOrder() []*Step {
	g.mu.Lock()
	indegree := make(map[StepID]int, len(g.steps))
	children := make(map[StepID][]StepID, len(g.steps))
	for _, id := range g.order {
		indegree[id] = 0
	}
	for _, id := range g.order {
		s := g.steps[id]
		seen := make(map[StepID]bool)
		for _, in := range s.Inputs {
			if in.Step == "" || seen[in.Step] {
				continue
			}
			seen[in.Step] = true
			indegree[id]++
			children[in.Step] = append(children[in.Step], id)
		}
	}
	order := append([]StepID(nil), g.order...)
	g.mu.Unlock()

	var ready []StepID
	for _, id := range order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var result []*Step
	visited := make(map[StepID]bool)
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		result = append(result, g.Step(id))
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	// Any step not reached (a cycle, which the DAG contract forbids) is
	// appended in insertion order rather than silently dropped.
	for _, id := range order {
		if !visited[id] {
			result = append(result, g.Step(id))
		}
	}
	return result
}
