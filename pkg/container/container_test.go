package container

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

func int64Meta() *record.Meta {
	return record.NewMeta([]record.Type{record.Int8()}, []bool{false})
}

func TestIterableStoreAppendAndIterate(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	meta := int64Meta()
	store := NewIterableStore(pool, meta, nil)

	var ptrs []Pointer
	for i := int64(0); i < 500; i++ {
		ref, ptr := store.Append()
		ref.SetInt64(0, i)
		ptrs = append(ptrs, ptr)
	}
	require.Equal(t, 500, store.Count())

	it := store.Begin()
	for i := int64(0); i < 500; i++ {
		ref, ok := it.Next()
		require.True(t, ok)
		require.Equal(t, i, ref.GetInt64(0))
	}
	_, ok := it.Next()
	require.False(t, ok)

	for i, ptr := range ptrs {
		require.Equal(t, int64(i), store.At(ptr).GetInt64(0))
	}
}

func TestIterableStoreReset(t *testing.T) {
	pool := arena.NewPagePool(256, 0)
	meta := int64Meta()
	store := NewIterableStore(pool, meta, nil)
	for i := 0; i < 10; i++ {
		store.Append()
	}
	require.NotZero(t, pool.Allocated())
	store.Reset()
	require.True(t, store.Empty())
	require.Zero(t, pool.Allocated())
}

func TestFIFORecordStorePushPop(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	meta := int64Meta()
	fifo := NewFIFORecordStore(pool, meta)

	_, ok := fifo.TryPop()
	require.False(t, ok)

	buf := make([]byte, meta.Size())
	src := record.NewRef(buf, nil)
	src.SetInt64(0, 42)
	fifo.Push(src)
	require.Equal(t, int64(1), fifo.Count())

	ref, ok := fifo.TryPop()
	require.True(t, ok)
	require.Equal(t, int64(42), ref.GetInt64(0))
	require.True(t, fifo.Empty())
}

func TestFIFORecordStoreLagByOneRelease(t *testing.T) {
	pool := arena.NewPagePool(64, 4) // small pages, bounded pool - forces page churn
	meta := int64Meta()
	fifo := NewFIFORecordStore(pool, meta)

	buf := make([]byte, meta.Size())
	src := record.NewRef(buf, nil)

	var popped []record.Ref
	for i := int64(0); i < 20; i++ {
		src.SetInt64(0, i)
		fifo.Push(src)
		ref, ok := fifo.TryPop()
		require.True(t, ok)
		popped = append(popped, ref)
		// the buffer just popped must remain valid until the NEXT pop,
		// since release lags by one entry.
		require.Equal(t, i, ref.GetInt64(0))
	}
}

func TestFIFORecordStoreVarlenRehoming(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	strMeta := record.NewMeta([]record.Type{record.Character(true, 100)}, []bool{false})
	fifo := NewFIFORecordStore(pool, strMeta)

	srcVarlen := record.NewSimpleVarlenArena()
	buf := make([]byte, strMeta.Size())
	src := record.NewRef(buf, srcVarlen)
	longStr := "this string is deliberately longer than the fifteen byte inline threshold"
	src.SetBytes(0, []byte(longStr))

	fifo.Push(src)
	ref, ok := fifo.TryPop()
	require.True(t, ok)
	require.Equal(t, longStr, string(ref.GetBytes(0)))
}

func TestFIFORecordStoreReset(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	meta := int64Meta()
	fifo := NewFIFORecordStore(pool, meta)
	buf := make([]byte, meta.Size())
	src := record.NewRef(buf, nil)
	fifo.Push(src)
	fifo.Reset()
	require.True(t, fifo.Empty())
	require.Equal(t, int64(0), fifo.Count())
}

func TestResultStoreFlatIteratorSkipsEmpty(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	meta := int64Meta()

	empty1 := NewIterableStore(pool, meta, nil)
	full := NewIterableStore(pool, meta, nil)
	for i := int64(0); i < 3; i++ {
		ref, _ := full.Append()
		ref.SetInt64(0, i)
	}
	empty2 := NewIterableStore(pool, meta, nil)

	rs := NewResultStore([]*IterableStore{empty1, full, empty2})
	require.Equal(t, 3, rs.Count())
	require.Equal(t, 3, rs.NumPartitions())

	it := rs.Begin()
	var got []int64
	for {
		ref, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, ref.GetInt64(0))
	}
	require.Equal(t, []int64{0, 1, 2}, got)
}

func TestPointerTableEmplaceAndSort(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	meta := int64Meta()
	store := NewIterableStore(pool, meta, nil)

	pt := NewPointerTable(store, 0)
	values := []int64{5, 3, 4, 1, 2}
	for _, v := range values {
		ref, ptr := store.Append()
		ref.SetInt64(0, v)
		require.True(t, pt.Emplace(ptr))
	}
	require.Equal(t, len(values), pt.Len())
	require.False(t, pt.Sealed())

	pt.Sort(func(a, b Pointer) int {
		av, bv := store.At(a).GetInt64(0), store.At(b).GetInt64(0)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	})
	require.True(t, pt.Sealed())

	var got []int64
	for i := 0; i < pt.Len(); i++ {
		got = append(got, store.At(pt.At(i)).GetInt64(0))
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestPointerTableBoundedCapacity(t *testing.T) {
	pool := arena.NewPagePool(4096, 0)
	meta := int64Meta()
	store := NewIterableStore(pool, meta, nil)
	pt := NewPointerTable(store, 2)

	_, p1 := store.Append()
	_, p2 := store.Append()
	_, p3 := store.Append()

	require.True(t, pt.Emplace(p1))
	require.True(t, pt.Emplace(p2))
	require.True(t, pt.Full())
	require.False(t, pt.Emplace(p3))
}
