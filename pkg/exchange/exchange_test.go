package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/operator"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

const (
	colKey operator.VarID = iota
	colVal
)

func newRowTable(t *testing.T, pool *arena.PagePool) *operator.VariableTable {
	t.Helper()
	scratch := arena.NewLIFO(pool)
	varlen := record.NewSimpleVarlenArena()
	return operator.NewVariableTable(scratch, varlen,
		[]operator.VarID{colKey, colVal},
		[]record.Type{record.Int8(), record.Int8()},
		[]bool{false, false})
}

func keyFields(t *testing.T, vt *operator.VariableTable) []KeyField {
	t.Helper()
	return ResolveKeyFields(vt, []operator.VarID{colKey}, []record.Order{record.Ascending})
}

func TestPartitionOfIsStableAndCoversRange(t *testing.T) {
	key := []byte("some-key")
	p0 := PartitionOf(key, 4)
	p1 := PartitionOf(key, 4)
	require.Equal(t, p0, p1)
	require.GreaterOrEqual(t, p0, 0)
	require.Less(t, p0, 4)
	require.Equal(t, 0, PartitionOf(key, 0))
}

func TestForwardSinkSourceRoundTrip(t *testing.T) {
	pool := arena.NewPagePool(arena.DefaultPageSize, 8)
	meta := record.NewMeta([]record.Type{record.Int8(), record.Int8()}, []bool{false, false})
	f := NewForward(pool, meta, 2)

	in := newRowTable(t, pool)
	sink := f.Sink(0)
	for i := int64(0); i < 5; i++ {
		in.Ref().SetInt64(0, i)
		in.Ref().SetInt64(1, i*10)
		require.Nil(t, sink.Offer(in))
	}

	out := newRowTable(t, pool)
	src := f.Source(0)
	for i := int64(0); i < 5; i++ {
		ok, err := src.Take(out)
		require.Nil(t, err)
		require.True(t, ok)
		require.Equal(t, i, out.Ref().GetInt64(0))
		require.Equal(t, i*10, out.Ref().GetInt64(1))
	}
	ok, err := src.Take(out)
	require.Nil(t, err)
	require.False(t, ok)
}

func TestForwardLanesAreIndependent(t *testing.T) {
	pool := arena.NewPagePool(arena.DefaultPageSize, 8)
	meta := record.NewMeta([]record.Type{record.Int8(), record.Int8()}, []bool{false, false})
	f := NewForward(pool, meta, 2)

	in := newRowTable(t, pool)
	in.Ref().SetInt64(0, 1)
	in.Ref().SetInt64(1, 100)
	require.Nil(t, f.Sink(0).Offer(in))

	out := newRowTable(t, pool)
	ok, err := f.Source(1).Take(out)
	require.Nil(t, err)
	require.False(t, ok, "lane 1 must not see rows offered to lane 0")

	ok, err = f.Source(0).Take(out)
	require.Nil(t, err)
	require.True(t, ok)
}

func TestGroupExchangeSortsAndPartitionsByKey(t *testing.T) {
	pool := arena.NewPagePool(arena.DefaultPageSize, 16)
	meta := record.NewMeta([]record.Type{record.Int8(), record.Int8()}, []bool{false, false})

	in := newRowTable(t, pool)
	fields := keyFields(t, in)
	g := NewGroup(pool, GroupConfig{Meta: meta, KeyFields: fields, Partitions: 3})

	rows := []struct{ key, val int64 }{
		{3, 1}, {1, 2}, {2, 3}, {1, 4}, {3, 5}, {2, 6}, {1, 7},
	}
	sink := g.Sink(0)
	for _, r := range rows {
		in.Ref().SetInt64(0, r.key)
		in.Ref().SetInt64(1, r.val)
		require.Nil(t, sink.Offer(in))
	}
	g.Flush()

	out := newRowTable(t, pool)
	seen := map[int64][]int64{}
	for p := 0; p < 3; p++ {
		src := g.Source(p)
		var lastKey int64 = -1
		hasLast := false
		for {
			ok, err := src.Take(out)
			require.Nil(t, err)
			if !ok {
				break
			}
			k := out.Ref().GetInt64(0)
			if hasLast {
				require.GreaterOrEqual(t, k, lastKey, "rows within a partition must arrive in ascending key order")
			}
			lastKey, hasLast = k, true
			seen[k] = append(seen[k], out.Ref().GetInt64(1))
			require.Equal(t, p, PartitionOf(EncodeKeyRef(out.Ref(), fields, false), 3),
				"a key must only surface from the partition it hashes to")
		}
	}

	require.ElementsMatch(t, []int64{2, 4, 7}, seen[1])
	require.ElementsMatch(t, []int64{3, 6}, seen[2])
	require.ElementsMatch(t, []int64{1, 5}, seen[3])
}

func TestAggregateExchangeCombinesSumCountAvg(t *testing.T) {
	pool := arena.NewPagePool(arena.DefaultPageSize, 16)

	in := newRowTable(t, pool)
	fields := keyFields(t, in)

	const (
		outKey operator.VarID = iota
		outSum
		outCount
		outAvg
	)
	cfg := AggregateConfig{
		KeyFields:    fields,
		GroupOutputs: []operator.VarID{outKey},
		Columns: []AggColumn{
			{Func: operator.AggSum, ValueOffset: mustOffset(t, in, colVal), NullOffset: -1, Type: record.Int8(), Output: outSum},
			{Func: operator.AggCount, Star: true, Output: outCount},
			{Func: operator.AggAvg, ValueOffset: mustOffset(t, in, colVal), NullOffset: -1, Type: record.Int8(), Output: outAvg},
		},
		Partitions: 1,
	}
	agg := NewAggregate(pool, cfg)

	sink := agg.Sink(0)
	values := map[int64][]int64{1: {10, 20, 30}, 2: {5, 7}}
	for k, vals := range values {
		for _, v := range vals {
			in.Ref().SetInt64(0, k)
			in.Ref().SetInt64(1, v)
			require.Nil(t, sink.Offer(in))
		}
	}

	outScratch := arena.NewLIFO(pool)
	outVarlen := record.NewSimpleVarlenArena()
	out := operator.NewVariableTable(outScratch, outVarlen,
		[]operator.VarID{outKey, outSum, outCount, outAvg},
		[]record.Type{record.Int8(), record.DecimalType(0, 0), record.Int8(), record.DecimalType(0, 0)},
		[]bool{false, true, false, true})

	src := agg.Source(0)
	results := map[int64]struct {
		sum   record.Decimal
		count int64
	}{}
	for {
		ok, err := src.Take(out)
		require.Nil(t, err)
		if !ok {
			break
		}
		k := out.Ref().GetInt64(0)
		results[k] = struct {
			sum   record.Decimal
			count int64
		}{
			sum:   out.Ref().GetDecimal(out.Meta().ValueOffset(1)),
			count: out.Ref().GetInt64(out.Meta().ValueOffset(2)),
		}
	}

	require.Len(t, results, 2)
	require.Equal(t, int64(3), results[1].count)
	require.Equal(t, int64(2), results[2].count)
}

func mustOffset(t *testing.T, vt *operator.VariableTable, id operator.VarID) int {
	t.Helper()
	off, _, _, ok := vt.Offset(id)
	require.True(t, ok)
	return off
}
