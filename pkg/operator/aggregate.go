package operator

import (
	"math"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// AggFunc is the closed set of aggregate functions this engine supports
// (spec §4.F aggregate: "sum, count, avg, min, max"). Avg is decomposed
// into a running sum and count, and only divided at finalize time - the
// same incremental-then-finalize shape pkg/exchange's aggregate exchange
// uses for its hash-partitioned groups (spec §4.G).
type AggFunc int

const (
	AggSum AggFunc = iota
	AggCount
	AggAvg
	AggMin
	AggMax
)

// AggSpec is one aggregate column: the function, its input expression
// (ignored for AggCount unless it needs to skip NULLs), and the output
// variable it is written to on finalize.
type AggSpec struct {
	Func   AggFunc
	Input  Expr
	Output VarID
}

// groupState is one group's running partial aggregates plus the group-by
// key values, carried unconverted so they can be re-written into the
// output variable table verbatim on finalize.
type groupState struct {
	keyValues []any
	sum       []record.Decimal
	count     []int64
	min       []any
	max       []any
	seen      []bool // whether this accumulator has seen a non-NULL input yet
}

// Aggregate incrementally folds each input row into its group's partial
// aggregates (keyed by the encoded group-by expressions) and, once the
// input is exhausted, emits one row per group downstream via Finalize
// (spec §4.F aggregate, §9 "incremental, not sort-based").
type Aggregate struct {
	InBlock  BlockIndex
	OutBlock BlockIndex
	GroupBy  []Expr
	// GroupOutputs names, in the same order as GroupBy, the output
	// variable each group-by expression's value is copied to on finalize.
	GroupOutputs []VarID
	Aggs         []AggSpec
	Next         Operator

	groups map[string]*groupState
	order  []string // insertion order, for deterministic test output
	ec     EvalContext
}

func (a *Aggregate) Open(ctx *Context) *errs.Info {
	a.groups = make(map[string]*groupState)
	a.order = nil
	if a.Next != nil {
		return a.Next.Open(ctx)
	}
	return nil
}

// Process folds one input row into its group. It never drives the
// downstream operator itself - that happens in Finalize, once the
// driving scan/take has exhausted its input.
func (a *Aggregate) Process(ctx *Context) (bool, *errs.Info) {
	in := ctx.Block(a.InBlock)
	keyVals := make([]any, len(a.GroupBy))
	var key []byte
	for i, g := range a.GroupBy {
		v, err := g.Eval(&a.ec, in)
		if err != nil {
			ctx.Fail(err)
			return false, err
		}
		keyVals[i] = v
		key = appendKeyPart(key, v)
	}
	gs, ok := a.groups[string(key)]
	if !ok {
		gs = &groupState{
			keyValues: keyVals,
			sum:       make([]record.Decimal, len(a.Aggs)),
			count:     make([]int64, len(a.Aggs)),
			min:       make([]any, len(a.Aggs)),
			max:       make([]any, len(a.Aggs)),
			seen:      make([]bool, len(a.Aggs)),
		}
		a.groups[string(key)] = gs
		a.order = append(a.order, string(key))
	}
	for i, spec := range a.Aggs {
		if spec.Func == AggCount && spec.Input == nil {
			gs.count[i]++
			continue
		}
		v, err := spec.Input.Eval(&a.ec, in)
		if err != nil {
			ctx.Fail(err)
			return false, err
		}
		if v == nil {
			continue // NULL inputs are skipped by every supported aggregate
		}
		gs.seen[i] = true
		switch spec.Func {
		case AggCount:
			gs.count[i]++
		case AggSum, AggAvg:
			gs.sum[i] = addDecimal(gs.sum[i], toDecimal(v))
			gs.count[i]++
		case AggMin:
			if gs.min[i] == nil {
				gs.min[i] = v
			} else if less(v, gs.min[i]) {
				gs.min[i] = v
			}
		case AggMax:
			if gs.max[i] == nil {
				gs.max[i] = v
			} else if less(gs.max[i], v) {
				gs.max[i] = v
			}
		}
	}
	return true, nil
}

// Finalize writes one output row per accumulated group and drives the
// downstream operator for each, in first-seen order (spec §4.F: grouping
// is unordered, but a stable order keeps results reproducible for a
// fixed input and makes the operator testable).
func (a *Aggregate) Finalize(ctx *Context) *errs.Info {
	out := ctx.Block(a.OutBlock)
	for _, key := range a.order {
		gs := a.groups[key]
		for i, outID := range a.GroupOutputs {
			if err := writeOutputVar(ctx, out, outID, gs.keyValues[i], &a.ec); err != nil {
				return err
			}
		}
		for i, spec := range a.Aggs {
			var v any
			switch spec.Func {
			case AggCount:
				v = gs.count[i]
			case AggSum:
				if gs.seen[i] {
					v = gs.sum[i]
				}
			case AggAvg:
				if gs.seen[i] && gs.count[i] > 0 {
					v = divDecimalByCount(gs.sum[i], gs.count[i])
				}
			case AggMin:
				v = gs.min[i]
			case AggMax:
				v = gs.max[i]
			}
			if err := writeOutputVar(ctx, out, spec.Output, v, &a.ec); err != nil {
				return err
			}
		}
		if a.Next != nil {
			if _, err := a.Next.Process(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Aggregate) Close(ctx *Context) *errs.Info {
	if a.Next != nil {
		return a.Next.Close(ctx)
	}
	return nil
}

func addDecimal(a, b record.Decimal) record.Decimal {
	var ec EvalContext
	r, _ := evalDecimalArith(&ec, OpAdd, a, b)
	if d, ok := r.(record.Decimal); ok {
		return d
	}
	return a
}

func divDecimalByCount(sum record.Decimal, n int64) record.Decimal {
	var ec EvalContext
	ec.ExplicitCast = true // tolerate precision loss, matching decimalToAvg
	r, _ := evalDecimalArith(&ec, OpDiv, sum, toDecimal(int64(n)))
	if d, ok := r.(record.Decimal); ok {
		return d
	}
	return sum
}

func less(a, b any) bool {
	c, err := compareValues(a, b)
	if err != nil {
		return false
	}
	return c < 0
}

func appendKeyPart(key []byte, v any) []byte {
	if v == nil {
		return append(key, 0x00)
	}
	key = append(key, 0x01)
	switch x := v.(type) {
	case int64:
		return append(key, byte(x), byte(x>>8), byte(x>>16), byte(x>>24), byte(x>>32), byte(x>>40), byte(x>>48), byte(x>>56))
	case float64:
		bits := math.Float64bits(x)
		return append(key, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24), byte(bits>>32), byte(bits>>40), byte(bits>>48), byte(bits>>56))
	case string:
		return append(key, []byte(x)...)
	case bool:
		if x {
			return append(key, 1)
		}
		return append(key, 0)
	default:
		return key
	}
}
