package operator

import (
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// Operator is the closed set of operator kinds this package implements
// (spec §9 REDESIGN FLAGS: tagged variants over a small closed set,
// instead of the source's deep virtual inheritance across operator
// categories). Open/Close bracket a task's use of the operator tree;
// Process is called by whichever operator drives the pull/push chain -
// a root scan/take calls it once per extracted row on every operator
// beneath it, a leaf (emit/offer/write) does its terminal work and
// returns.
type Operator interface {
	Open(ctx *Context) *errs.Info
	// Process runs this operator once against the variable table state
	// currently bound for its block, driving any downstream operator in
	// turn. The returned bool is false when the downstream chain asks the
	// driver to stop producing more rows (used by e.g. a LIMIT-style
	// take); a root driver (scan/take) returns true once its own input
	// is exhausted, and false only when downstream asked it to stop.
	Process(ctx *Context) (bool, *errs.Info)
	Close(ctx *Context) *errs.Info
}

// ScanRange bounds a storage scan (spec glossary "Scan range"): a
// (low_key, low_endpoint_kind, high_key, high_endpoint_kind) tuple. The
// endpoint kinds are the same closed set pkg/kv's Scan consumes,
// including the prefixed variants used with secondary indices (spec §6,
// SPEC_FULL supplement).
type ScanRange struct {
	Storage  string
	Low      []byte
	LowKind  kv.EndpointKind
	High     []byte
	HighKind kv.EndpointKind
}

// RowDecoder extracts one storage (key, value) pair into the bound
// variable table, the way an index-specific codec would (spec §4.F scan:
// "extracts the current row into the bound variable table").
type RowDecoder func(key, value []byte, vt *VariableTable) *errs.Info

// Scan reads from a storage iterator over an index for a ScanRange. On
// each row it extracts the row into the bound variable table and drives
// the downstream sub-operator (spec §4.F scan).
type Scan struct {
	Block   BlockIndex
	Range   ScanRange
	Decode  RowDecoder
	Next    Operator
}

func (s *Scan) Open(ctx *Context) *errs.Info {
	if s.Next != nil {
		return s.Next.Open(ctx)
	}
	return nil
}

func (s *Scan) Process(ctx *Context) (bool, *errs.Info) {
	iter, status := ctx.Tx.Handle.Scan(s.Range.Storage, s.Range.Low, s.Range.LowKind, s.Range.High, s.Range.HighKind)
	if status != kv.StatusOK {
		err := errs.New(status.ToErrCode(), "scan failed to open")
		ctx.Fail(err)
		return false, err
	}
	defer iter.Close()

	vt := ctx.Block(s.Block)
	for iter.Next() {
		if ctx.Tx.CancelRequested() {
			err := errs.New(errs.SQLRequestTimedOutException, "scan interrupted by cancellation")
			ctx.Fail(err)
			return false, err
		}
		if err := s.Decode(iter.Key(), iter.Value(), vt); err != nil {
			ctx.Fail(err)
			return false, err
		}
		if s.Next != nil {
			cont, err := s.Next.Process(ctx)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
	}
	return true, nil
}

func (s *Scan) Close(ctx *Context) *errs.Info {
	if s.Next != nil {
		return s.Next.Close(ctx)
	}
	return nil
}

// Filter evaluates Pred against the bound variable table and passes the
// row downstream iff true; a NULL predicate drops the row (spec §4.F).
type Filter struct {
	Block BlockIndex
	Pred  Expr
	Next  Operator
	ec    EvalContext
}

func (f *Filter) Open(ctx *Context) *errs.Info {
	if f.Next != nil {
		return f.Next.Open(ctx)
	}
	return nil
}

func (f *Filter) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(f.Block)
	v, err := f.Pred.Eval(&f.ec, vt)
	if err != nil {
		ctx.Fail(err)
		return false, err
	}
	keep, ok := v.(bool)
	if v == nil || !ok {
		return true, nil // NULL predicate, or non-boolean treated as drop
	}
	if !keep {
		return true, nil
	}
	if f.Next == nil {
		return true, nil
	}
	return f.Next.Process(ctx)
}

func (f *Filter) Close(ctx *Context) *errs.Info {
	if f.Next != nil {
		return f.Next.Close(ctx)
	}
	return nil
}

// Assignment writes one evaluated expression into a named output
// variable (spec §4.F project).
type Assignment struct {
	Target Expr // must be a VarRef into the output variable table
	Source Expr
}

// Project writes evaluated expressions into named variables of the
// output variable table (spec §4.F).
type Project struct {
	InBlock  BlockIndex
	OutBlock BlockIndex
	Assigns  []Assignment
	Next     Operator
	ec       EvalContext
}

func (p *Project) Open(ctx *Context) *errs.Info {
	if p.Next != nil {
		return p.Next.Open(ctx)
	}
	return nil
}

func (p *Project) Process(ctx *Context) (bool, *errs.Info) {
	in := ctx.Block(p.InBlock)
	out := ctx.Block(p.OutBlock)
	for _, a := range p.Assigns {
		v, err := a.Source.Eval(&p.ec, in)
		if err != nil {
			ctx.Fail(err)
			return false, err
		}
		ref, ok := a.Target.(VarRef)
		if !ok {
			err := errs.New(errs.UnsupportedRuntimeFeatureException, "project target must be a variable")
			ctx.Fail(err)
			return false, err
		}
		if err := writeOutputVar(ctx, out, ref.ID, v, &p.ec); err != nil {
			return false, err
		}
	}
	if p.Next == nil {
		return true, nil
	}
	return p.Next.Process(ctx)
}

func (p *Project) Close(ctx *Context) *errs.Info {
	if p.Next != nil {
		return p.Next.Close(ctx)
	}
	return nil
}

// runtimeType infers the minimal source Type Convert needs from a Go
// runtime value produced by Expr.Eval - only Kind matters for dispatch,
// since Convert's from/to comparison is a same-family fast path, not a
// full type check (the compiled plan is assumed to be well-typed).
func runtimeType(v any) record.Type {
	switch v.(type) {
	case bool:
		return record.Boolean()
	case int64:
		return record.Int8()
	case float64:
		return record.Float8()
	case record.Decimal:
		return record.DecimalType(0, 0)
	case string, []byte:
		return record.Character(true, 0)
	case record.TimeOfDay:
		return record.TimeOfDayType(false)
	case record.TimePoint:
		return record.TimePointType(false)
	default:
		return record.Type{}
	}
}

// writeTyped stores a converted Go value into the output record at off,
// dispatching on the target field's Kind.
func writeTyped(r record.Ref, off int, ft record.Type, v any) {
	switch ft.Kind {
	case record.KindBoolean:
		r.SetBool(off, v.(bool))
	case record.KindInt1:
		r.SetInt8(off, int8(v.(int64)))
	case record.KindInt2:
		r.SetInt16(off, int16(v.(int64)))
	case record.KindInt4:
		r.SetInt32(off, int32(v.(int64)))
	case record.KindInt8:
		r.SetInt64(off, v.(int64))
	case record.KindFloat4:
		r.SetFloat32(off, float32(v.(float64)))
	case record.KindFloat8:
		r.SetFloat64(off, v.(float64))
	case record.KindDecimal:
		r.SetDecimal(off, v.(record.Decimal))
	case record.KindCharacter, record.KindOctet:
		switch s := v.(type) {
		case string:
			r.SetBytes(off, []byte(s))
		case []byte:
			r.SetBytes(off, s)
		}
	case record.KindDate:
		r.SetDate(off, v.(int32))
	case record.KindTimeOfDay:
		r.SetTimeOfDay(off, v.(record.TimeOfDay))
	case record.KindTimePoint:
		r.SetTimePoint(off, v.(record.TimePoint))
	case record.KindBlobRef:
		r.SetBlobRef(off, v.(record.LOBRef))
	case record.KindClobRef:
		r.SetClobRef(off, v.(record.LOBRef))
	}
}

// writeOutputVar converts v to the target variable's declared type and
// writes it (or NULL) into out's current tuple - the shared tail end of
// both Project's per-expression assignment and Aggregate's per-group
// finalize (spec §4.F).
func writeOutputVar(ctx *Context, out *VariableTable, id VarID, v any, ec *EvalContext) *errs.Info {
	off, nb, ft, ok := out.Offset(id)
	if !ok {
		err := errs.Newf(errs.ValueEvaluationException, "unbound output variable %d", id)
		ctx.Fail(err)
		return err
	}
	if v == nil {
		if nb < 0 {
			err := errs.New(errs.ValueEvaluationException, "NULL assigned to non-nullable variable")
			ctx.Fail(err)
			return err
		}
		out.Ref().SetNull(nb, true)
		return nil
	}
	converted, cerr := Convert(ec, v, runtimeType(v), ft)
	if cerr != nil {
		ctx.Fail(cerr)
		return cerr
	}
	if nb >= 0 {
		out.Ref().SetNull(nb, false)
	}
	writeTyped(out.Ref(), off, ft, converted)
	return nil
}
