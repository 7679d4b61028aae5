package operator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
	"github.com/project-tsurugi/sqlengine/pkg/record"
	"github.com/project-tsurugi/sqlengine/pkg/txn"
)

func newTestContext(t *testing.T) (*Context, *arena.LIFO, record.VarlenArena) {
	t.Helper()
	ctx, scratch, varlen, _ := newTestContextWithTxn(t)
	return ctx, scratch, varlen
}

func newTestContextWithTxn(t *testing.T) (*Context, *arena.LIFO, record.VarlenArena, *fakeTxn) {
	t.Helper()
	pool := arena.NewPagePool(arena.DefaultPageSize, 8)
	scratch := arena.NewLIFO(pool)
	varlen := record.NewSimpleVarlenArena()
	ft := &fakeTxn{data: map[string][]byte{}}
	tx := txn.New(txn.NewSurrogateID(), ft, txn.OCC, kv.TransactionOptions{})
	return NewContext(tx, scratch), scratch, varlen, ft
}

func oneVarTable(t *testing.T, scratch *arena.LIFO, varlen record.VarlenArena, ty record.Type, nullable bool) (*VariableTable, VarID) {
	t.Helper()
	const id VarID = 1
	vt := NewVariableTable(scratch, varlen, []VarID{id}, []record.Type{ty}, []bool{nullable})
	return vt, id
}

// --- fakes ---

type fakeIterator struct {
	keys, vals [][]byte
	i          int
}

func (f *fakeIterator) Next() bool {
	if f.i >= len(f.keys) {
		return false
	}
	f.i++
	return true
}
func (f *fakeIterator) Key() []byte   { return f.keys[f.i-1] }
func (f *fakeIterator) Value() []byte { return f.vals[f.i-1] }
func (f *fakeIterator) Close()        {}

type fakeTxn struct {
	data     map[string][]byte
	scanKeys [][]byte
	scanVals [][]byte
}

func (f *fakeTxn) Put(storage string, key, value []byte, kind kv.PutKind) kv.StatusCode {
	sk := storage + "/" + string(key)
	_, exists := f.data[sk]
	switch kind {
	case kv.KindInsert:
		if exists {
			return kv.StatusAlreadyExists
		}
	case kv.KindUpdate, kv.KindDelete:
		if !exists {
			return kv.StatusNotFound
		}
	}
	if kind == kv.KindDelete {
		delete(f.data, sk)
		return kv.StatusOK
	}
	f.data[sk] = value
	return kv.StatusOK
}

func (f *fakeTxn) Get(storage string, key []byte) ([]byte, kv.StatusCode) {
	v, ok := f.data[storage+"/"+string(key)]
	if !ok {
		return nil, kv.StatusNotFound
	}
	return v, kv.StatusOK
}

func (f *fakeTxn) Scan(storage string, low []byte, lowKind kv.EndpointKind, high []byte, highKind kv.EndpointKind) (kv.Iterator, kv.StatusCode) {
	return &fakeIterator{keys: f.scanKeys, vals: f.scanVals}, kv.StatusOK
}

func (f *fakeTxn) Commit(callback func(kv.StatusCode)) kv.StatusCode {
	callback(kv.StatusOK)
	return kv.StatusOK
}

func (f *fakeTxn) Abort() kv.StatusCode { return kv.StatusOK }

// --- tests ---

func TestFilterDropsFalseAndNull(t *testing.T) {
	ctx, scratch, varlen := newTestContext(t)
	vt, id := oneVarTable(t, scratch, varlen, record.Boolean(), true)
	ctx.BindBlock(0, vt)

	seen := 0
	sink := &captureOperator{onProcess: func() { seen++ }}
	f := &Filter{Block: 0, Pred: VarRef{ID: id}, Next: sink}

	off := vt.mustOffset(id)
	vt.Ref().SetBool(off, false)
	cont, err := f.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, 0, seen)

	vt.SetNull(id, true)
	cont, err = f.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, 0, seen)

	vt.SetNull(id, false)
	vt.Ref().SetBool(off, true)
	cont, err = f.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, 1, seen)
}

type captureOperator struct {
	onProcess func()
}

func (c *captureOperator) Open(*Context) *errs.Info  { return nil }
func (c *captureOperator) Close(*Context) *errs.Info { return nil }
func (c *captureOperator) Process(*Context) (bool, *errs.Info) {
	c.onProcess()
	return true, nil
}

func TestProjectConvertsAndWrites(t *testing.T) {
	ctx, scratch, varlen := newTestContext(t)
	in, inID := oneVarTable(t, scratch, varlen, record.Int8(), false)
	ctx.BindBlock(0, in)
	out, outID := oneVarTable(t, scratch, varlen, record.Float8(), false)
	ctx.BindBlock(1, out)

	in.Ref().SetInt64(0, 42)
	p := &Project{
		InBlock:  0,
		OutBlock: 1,
		Assigns:  []Assignment{{Target: VarRef{ID: outID}, Source: VarRef{ID: inID}}},
	}
	cont, err := p.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, float64(42), out.Ref().GetFloat64(0))
}

func TestWriteInsertDuplicateReportsUniqueViolation(t *testing.T) {
	ctx, scratch, varlen := newTestContext(t)
	vt, id := oneVarTable(t, scratch, varlen, record.Int8(), false)
	ctx.BindBlock(0, vt)
	w := &Write{
		Block:   0,
		Storage: "t",
		Kind:    kv.KindInsert,
		Key:     func(vt *VariableTable) []byte { return []byte{byte(vt.Ref().GetInt64(0))} },
		Value:   func(vt *VariableTable) []byte { return []byte("v") },
	}
	_ = id
	vt.Ref().SetInt64(0, 7)
	cont, err := w.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)

	cont, err = w.Process(ctx)
	require.NotNil(t, err)
	require.False(t, cont)
	require.Equal(t, errs.UniqueConstraintViolationException, err.Code)
}

func TestAggregateSumCountAvgPerGroup(t *testing.T) {
	ctx, scratch, varlen := newTestContext(t)
	const groupID VarID = 1
	const valID VarID = 2
	in := NewVariableTable(scratch, varlen, []VarID{groupID, valID},
		[]record.Type{record.Int8(), record.Int8()}, []bool{false, false})
	ctx.BindBlock(0, in)

	const outGroupID VarID = 3
	const sumID VarID = 4
	const countID VarID = 5
	const avgID VarID = 6
	out := NewVariableTable(scratch, varlen, []VarID{outGroupID, sumID, countID, avgID},
		[]record.Type{record.Int8(), record.DecimalType(0, 0), record.Int8(), record.DecimalType(0, 0)},
		[]bool{false, false, false, false})
	ctx.BindBlock(1, out)

	var emitted []struct {
		group int64
		count int64
	}
	collector := &captureOperator{onProcess: func() {
		emitted = append(emitted, struct {
			group int64
			count int64
		}{out.Ref().GetInt64(out.mustOffset(outGroupID)), out.Ref().GetInt64(out.mustOffset(countID))})
	}}

	agg := &Aggregate{
		InBlock:      0,
		OutBlock:     1,
		GroupBy:      []Expr{VarRef{ID: groupID}},
		GroupOutputs: []VarID{outGroupID},
		Aggs: []AggSpec{
			{Func: AggSum, Input: VarRef{ID: valID}, Output: sumID},
			{Func: AggCount, Input: VarRef{ID: valID}, Output: countID},
			{Func: AggAvg, Input: VarRef{ID: valID}, Output: avgID},
		},
		Next: collector,
	}
	require.Nil(t, agg.Open(ctx))

	rows := []struct{ group, val int64 }{{1, 10}, {1, 20}, {2, 5}}
	for _, r := range rows {
		in.Ref().SetInt64(0, r.group)
		in.Ref().SetInt64(8, r.val)
		_, err := agg.Process(ctx)
		require.Nil(t, err)
	}
	require.Nil(t, agg.Finalize(ctx))
	require.Len(t, emitted, 2)

	for _, e := range emitted {
		if e.group == 1 {
			require.Equal(t, int64(2), e.count)
		}
		if e.group == 2 {
			require.Equal(t, int64(1), e.count)
		}
	}
}

// TestAggregateAvgTruncatesRatherThanDiscardingInexactQuotient guards
// against divDecimalByCount silently falling back to the un-divided sum
// when sum/count isn't exactly representable (e.g. 5/3): it must truncate
// to 6 fractional digits, the same precision-loss tolerance decimalToAvg
// gives the exchange path, rather than erroring out and keeping the sum.
func TestAggregateAvgTruncatesRatherThanDiscardingInexactQuotient(t *testing.T) {
	ctx, scratch, varlen := newTestContext(t)
	const groupID VarID = 1
	const valID VarID = 2
	in := NewVariableTable(scratch, varlen, []VarID{groupID, valID},
		[]record.Type{record.Int8(), record.Int8()}, []bool{false, false})
	ctx.BindBlock(0, in)

	const outGroupID VarID = 3
	const avgID VarID = 4
	out := NewVariableTable(scratch, varlen, []VarID{outGroupID, avgID},
		[]record.Type{record.Int8(), record.DecimalType(0, 0)}, []bool{false, false})
	ctx.BindBlock(1, out)

	var got record.Decimal
	collector := &captureOperator{onProcess: func() {
		got = out.Ref().GetDecimal(out.mustOffset(avgID))
	}}

	agg := &Aggregate{
		InBlock:      0,
		OutBlock:     1,
		GroupBy:      []Expr{VarRef{ID: groupID}},
		GroupOutputs: []VarID{outGroupID},
		Aggs:         []AggSpec{{Func: AggAvg, Input: VarRef{ID: valID}, Output: avgID}},
		Next:         collector,
	}
	require.Nil(t, agg.Open(ctx))

	for _, v := range []int64{1, 2, 2} {
		in.Ref().SetInt64(0, 1)
		in.Ref().SetInt64(8, v)
		_, err := agg.Process(ctx)
		require.Nil(t, err)
	}
	require.Nil(t, agg.Finalize(ctx))

	require.Equal(t, int8(1), got.Sign)
	require.Equal(t, uint64(1666666), got.Lo)
	require.Equal(t, int32(-6), got.Exponent)
}

// TestConvertVaryingOverLengthErrorsUnderImplicitAssignment guards against
// silently truncating an over-length value into a VARCHAR column during
// plain assignment; truncation without error is reserved for an explicit
// CAST (ec.ExplicitCast == true).
func TestConvertVaryingOverLengthErrorsUnderImplicitAssignment(t *testing.T) {
	from := record.Character(true, 10)
	to := record.Character(true, 3)

	var ec EvalContext
	_, err := Convert(&ec, "hello", from, to)
	require.NotNil(t, err)
	require.Equal(t, errs.ValueTooLongException, err.Code)

	ec = EvalContext{ExplicitCast: true}
	v, err := Convert(&ec, "hello", from, to)
	require.Nil(t, err)
	require.Equal(t, "hel", v)
}

// TestAppendKeyPartDistinguishesFloatsSharingAnIntegerPart guards against
// group-by/join keys collapsing distinct float values (e.g. 10.3 and
// 10.7) into one key because their integer parts match.
func TestAppendKeyPartDistinguishesFloatsSharingAnIntegerPart(t *testing.T) {
	a := appendKeyPart(nil, 10.3)
	b := appendKeyPart(nil, 10.7)
	require.NotEqual(t, a, b)

	c := appendKeyPart(nil, 10.3)
	require.Equal(t, a, c)
}

// mustOffset is a small test helper exposing VariableTable.Offset's value
// offset without the extra return values.
func (vt *VariableTable) mustOffset(id VarID) int {
	off, _, _, _ := vt.Offset(id)
	return off
}

func TestJoinInnerMatchesOnEqualKeyAndSkipsNulls(t *testing.T) {
	ctx, scratch, varlen := newTestContext(t)
	const leftKeyID VarID = 1
	const rightKeyID VarID = 2
	left := NewVariableTable(scratch, varlen, []VarID{leftKeyID}, []record.Type{record.Int8()}, []bool{true})
	right := NewVariableTable(scratch, varlen, []VarID{rightKeyID}, []record.Type{record.Int8()}, []bool{true})
	ctx.BindBlock(0, left)
	ctx.BindBlock(1, right)

	j := &Join{
		LeftBlock:  0,
		RightBlock: 1,
		LeftKey:    []Expr{VarRef{ID: leftKeyID}},
		RightKey:   []Expr{VarRef{ID: rightKeyID}},
		Kind:       InnerJoin,
	}
	require.Nil(t, j.Open(ctx))

	build := j.Collector()
	require.Nil(t, build.Open(ctx))
	right.Ref().SetInt64(right.mustOffset(rightKeyID), 100)
	right.SetNull(rightKeyID, false)
	_, err := build.Process(ctx)
	require.Nil(t, err)

	matched := 0
	j.Next = &captureOperator{onProcess: func() { matched++ }}

	left.Ref().SetInt64(left.mustOffset(leftKeyID), 100)
	left.SetNull(leftKeyID, false)
	cont, err := j.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, 1, matched)

	left.SetNull(leftKeyID, true)
	cont, err = j.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, 1, matched, "NULL join key must never match")
}

func TestScanDrivesDownstreamForEachRow(t *testing.T) {
	ctx, scratch, varlen, ft := newTestContextWithTxn(t)
	ft.scanKeys = [][]byte{{1}, {2}, {3}}
	ft.scanVals = [][]byte{{10}, {20}, {30}}

	vt, id := oneVarTable(t, scratch, varlen, record.Int8(), false)
	ctx.BindBlock(0, vt)

	var sums int64
	sink := &captureOperator{onProcess: func() {
		sums += vt.Ref().GetInt64(vt.mustOffset(id))
	}}

	s := &Scan{
		Block: 0,
		Range: ScanRange{Storage: "t"},
		Decode: func(key, value []byte, vt *VariableTable) *errs.Info {
			off := vt.mustOffset(id)
			vt.Ref().SetInt64(off, int64(value[0]))
			return nil
		},
		Next: sink,
	}
	cont, err := s.Process(ctx)
	require.Nil(t, err)
	require.True(t, cont)
	require.Equal(t, int64(60), sums)
}
