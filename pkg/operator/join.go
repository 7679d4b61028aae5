package operator

import "github.com/project-tsurugi/sqlengine/pkg/errs"

// JoinKind is the closed set of join kinds this operator implements
// (spec §4.F join).
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftOuterJoin
)

// Join probes a previously built hash table of the right side's rows
// with each left-side row's join key (spec §4.F join: "cogroup,
// nested-loop and index variants all reduce, at the operator level, to a
// build side and a probe side once the exchange layer has delivered
// matching partitions together"; pkg/exchange's group/cogroup exchange
// is what actually arranges for both sides of a distributed join to
// land on the same worker - this operator is the local equality-join
// step that runs once they have). A NULL join key never matches
// anything, including another NULL (spec §4.F).
type Join struct {
	LeftBlock  BlockIndex
	RightBlock BlockIndex
	LeftKey    []Expr
	RightKey   []Expr
	Kind       JoinKind
	Next       Operator

	built map[string][]map[VarID]any
	ec    EvalContext
}

// Collector returns the operator that should be driven over the right
// side's input (typically as a Scan or Take's Next) to populate this
// join's build-side hash table before any left-side row is probed.
func (j *Join) Collector() Operator { return &joinBuildCollector{j: j} }

type joinBuildCollector struct{ j *Join }

func (c *joinBuildCollector) Open(*Context) *errs.Info {
	c.j.built = make(map[string][]map[VarID]any)
	return nil
}

func (c *joinBuildCollector) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(c.j.RightBlock)
	key, isNull, err := c.j.evalKey(c.j.RightKey, vt)
	if err != nil {
		ctx.Fail(err)
		return false, err
	}
	if isNull {
		return true, nil
	}
	c.j.built[key] = append(c.j.built[key], snapshotVars(vt))
	return true, nil
}

func (c *joinBuildCollector) Close(*Context) *errs.Info { return nil }

func (j *Join) evalKey(keyExprs []Expr, vt *VariableTable) (key string, isNull bool, err *errs.Info) {
	var buf []byte
	for _, k := range keyExprs {
		v, e := k.Eval(&j.ec, vt)
		if e != nil {
			return "", false, e
		}
		if v == nil {
			return "", true, nil
		}
		buf = appendKeyPart(buf, v)
	}
	return string(buf), false, nil
}

func snapshotVars(vt *VariableTable) map[VarID]any {
	snap := make(map[VarID]any, len(vt.ids))
	for _, id := range vt.ids {
		if vt.IsNull(id) {
			snap[id] = nil
			continue
		}
		off, _, ft, _ := vt.Offset(id)
		snap[id] = readTyped(vt.Ref(), off, ft)
	}
	return snap
}

func restoreVars(vt *VariableTable, snap map[VarID]any) {
	for _, id := range vt.ids {
		off, nb, ft, _ := vt.Offset(id)
		v := snap[id]
		if v == nil {
			if nb >= 0 {
				vt.Ref().SetNull(nb, true)
			}
			continue
		}
		if nb >= 0 {
			vt.Ref().SetNull(nb, false)
		}
		writeTyped(vt.Ref(), off, ft, v)
	}
}

func setAllNull(vt *VariableTable) {
	for _, id := range vt.ids {
		_, nb, _, _ := vt.Offset(id)
		if nb >= 0 {
			vt.Ref().SetNull(nb, true)
		}
	}
}

func (j *Join) Open(ctx *Context) *errs.Info {
	if j.Next != nil {
		return j.Next.Open(ctx)
	}
	return nil
}

// Process probes the build-side table with the current left row and
// drives the downstream operator once per match (spec §4.F). For
// LeftOuterJoin a left row with no match still drives downstream once,
// with every right-side variable set to NULL.
func (j *Join) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(j.LeftBlock)
	key, isNull, err := j.evalKey(j.LeftKey, vt)
	if err != nil {
		ctx.Fail(err)
		return false, err
	}
	var matches []map[VarID]any
	if !isNull {
		matches = j.built[key]
	}
	out := ctx.Block(j.RightBlock)
	if len(matches) == 0 {
		if j.Kind != LeftOuterJoin {
			return true, nil
		}
		setAllNull(out)
		if j.Next == nil {
			return true, nil
		}
		return j.Next.Process(ctx)
	}
	for _, m := range matches {
		restoreVars(out, m)
		if j.Next == nil {
			continue
		}
		cont, err := j.Next.Process(ctx)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

func (j *Join) Close(ctx *Context) *errs.Info {
	if j.Next != nil {
		return j.Next.Close(ctx)
	}
	return nil
}
