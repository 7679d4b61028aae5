// Package flow implements the dataflow DAG of steps (spec §4.E): process
// steps and the three exchange kinds, their port-to-port wiring, the
// per-step runtime Flow object (its tasks plus a step-state table), and
// leaves-first activation.
//
// Grounded on a reconciler/scheduler idiom of a mutex-guarded registry
// keyed by an opaque ID (github.com/google/uuid), generalized from
// node/container bookkeeping to step/task bookkeeping.
package flow

import "github.com/google/uuid"

// StepID identifies a step, unique within a job.
type StepID string

// NewStepID mints a fresh step identity.
func NewStepID() StepID { return StepID(uuid.NewString()) }

// Kind is a step's role in the dataflow graph (spec §3 "Step/task
// identity", §4.E).
type Kind int

const (
	KindProcess Kind = iota
	KindGroupExchange
	KindAggregateExchange
	KindForwardExchange
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindGroupExchange:
		return "group_exchange"
	case KindAggregateExchange:
		return "aggregate_exchange"
	case KindForwardExchange:
		return "forward_exchange"
	default:
		return "unknown"
	}
}

// IsExchange reports whether this step kind is one of the exchange kinds
// rather than a process step.
func (k Kind) IsExchange() bool { return k != KindProcess }

// Port identifies one numbered input or output of a step.
type Port struct {
	Step  StepID
	Index int
}

// Step is a node in the dataflow DAG: an identity, a kind, and its
// numbered input/output ports connected port-to-port to other steps
// (spec §3, §4.E).
type Step struct {
	ID      StepID
	Kind    Kind
	Inputs  []Port // upstream port feeding each of this step's input ports
	Outputs []Port // downstream port fed by each of this step's output ports

	// Partitions is the number of partitions this step runs with. For a
	// process step this is the task count (one task per partition); for
	// an exchange it is both its sink and source count (spec §4.G:
	// "number of partitions is taken from configuration and fixed at
	// activation").
	Partitions int
}

// NewStep constructs a step with the given kind and partition count. Its
// ports are wired afterward via Graph.Connect.
func NewStep(kind Kind, partitions int) *Step {
	if partitions <= 0 {
		partitions = 1
	}
	return &Step{ID: NewStepID(), Kind: kind, Partitions: partitions}
}
