package operator

import "github.com/project-tsurugi/sqlengine/pkg/errs"

// RecordWriter is the minimal contract pkg/channel's record channel
// satisfies: append the block's current tuple as one row (spec §4.F
// emit: "serializes the bound variable table's current tuple to the
// output record channel").
type RecordWriter interface {
	Write(vt *VariableTable) *errs.Info
}

// Sink is what an exchange's write side exposes to an Offer operator
// (spec §4.G exchange sinks/sources); Source is the read side a Take
// operator pulls from. Both are defined here, not in pkg/exchange, so
// this package has no dependency on the exchange implementations -
// pkg/exchange imports pkg/operator, not the other way around.
type Sink interface {
	Offer(vt *VariableTable) *errs.Info
}

type Source interface {
	// Take copies the next available tuple into vt, reporting ok=false
	// once the source is exhausted (spec §4.G: exchange sources are
	// drained, never re-read).
	Take(vt *VariableTable) (ok bool, err *errs.Info)
}

// Emit serializes the bound variable table's current tuple to a record
// writer - the terminal operator of a process step that produces rows
// for the client or for materialization (spec §4.F).
type Emit struct {
	Block BlockIndex
	Out   RecordWriter
}

func (e *Emit) Open(*Context) *errs.Info  { return nil }
func (e *Emit) Close(*Context) *errs.Info { return nil }

func (e *Emit) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(e.Block)
	if err := e.Out.Write(vt); err != nil {
		ctx.Fail(err)
		return false, err
	}
	return true, nil
}

// Offer pushes the bound variable table's current tuple into an
// exchange sink (spec §4.G: a process step's producer side "offers"
// rows to its exchange).
type Offer struct {
	Block BlockIndex
	Sink  Sink
}

func (o *Offer) Open(*Context) *errs.Info  { return nil }
func (o *Offer) Close(*Context) *errs.Info { return nil }

func (o *Offer) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(o.Block)
	if err := o.Sink.Offer(vt); err != nil {
		ctx.Fail(err)
		return false, err
	}
	return true, nil
}

// Take pulls tuples from an exchange source, one at a time, into its
// bound variable table and drives the downstream sub-operator for each
// - the consumer-side mirror of Scan (spec §4.G).
type Take struct {
	Block  BlockIndex
	Source Source
	Next   Operator
}

func (t *Take) Open(ctx *Context) *errs.Info {
	if t.Next != nil {
		return t.Next.Open(ctx)
	}
	return nil
}

func (t *Take) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(t.Block)
	for {
		if ctx.Tx.CancelRequested() {
			err := errs.New(errs.SQLRequestTimedOutException, "take interrupted by cancellation")
			ctx.Fail(err)
			return false, err
		}
		ok, err := t.Source.Take(vt)
		if err != nil {
			ctx.Fail(err)
			return false, err
		}
		if !ok {
			return true, nil
		}
		if t.Next == nil {
			continue
		}
		cont, err := t.Next.Process(ctx)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
}

func (t *Take) Close(ctx *Context) *errs.Info {
	if t.Next != nil {
		return t.Next.Close(ctx)
	}
	return nil
}
