package exchange

import (
	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/container"
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/flow"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/project-tsurugi/sqlengine/pkg/operator"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// Forward is the pass-through exchange (spec §4.G): N sinks feed N
// sources one-to-one through a FIFO record store per lane, with no
// reordering. Rows accumulate in pkg/container's FIFORecordStore, which
// has no size cap of its own - the page pool it draws from is what bounds
// memory, matching spec §4.A's "arenas do not share a global allocator
// mid-request" rather than a per-lane blocking queue.
type Forward struct {
	meta  *record.Meta
	lanes []*forwardLane
}

type forwardLane struct {
	store *container.FIFORecordStore
}

// NewForward builds a forward exchange with partitions lanes, each
// backed by its own FIFORecordStore over meta.
func NewForward(pool *arena.PagePool, meta *record.Meta, partitions int) *Forward {
	f := &Forward{meta: meta, lanes: make([]*forwardLane, partitions)}
	for i := range f.lanes {
		f.lanes[i] = &forwardLane{store: container.NewFIFORecordStore(pool, meta)}
	}
	return f
}

// Activator wires this exchange into a flow.Flow on activation (spec
// §4.E: "for exchanges, sets up initial sinks/sources"). Forward needs no
// per-activation setup beyond construction, but the hook is kept so
// pkg/engine's step builder treats every exchange kind uniformly.
func (f *Forward) Activator() func(*flow.Flow) { return func(*flow.Flow) {} }

// Sink returns the producer-side endpoint for upstream partition i.
func (f *Forward) Sink(i int) operator.Sink { return &forwardSink{f: f, i: i} }

// Source returns the consumer-side endpoint for downstream partition i.
func (f *Forward) Source(i int) operator.Source { return &forwardSource{f: f, i: i} }

type forwardSink struct {
	f *Forward
	i int
}

func (s *forwardSink) Offer(vt *operator.VariableTable) *errs.Info {
	s.f.lanes[s.i].store.Push(vt.Ref())
	metrics.ExchangeRowsTransferred.WithLabelValues("forward").Inc()
	return nil
}

type forwardSource struct {
	f *Forward
	i int
}

func (s *forwardSource) Take(vt *operator.VariableTable) (bool, *errs.Info) {
	ref, ok := s.f.lanes[s.i].store.TryPop()
	if !ok {
		return false, nil
	}
	operator.CopyRefInto(vt, ref)
	return true, nil
}
