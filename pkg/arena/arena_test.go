package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLIFOAllocateAndRewind(t *testing.T) {
	pool := NewPagePool(256, 0)
	a := NewLIFO(pool)

	cp := a.Mark()
	buf1 := a.Allocate(64, 8)
	copy(buf1, []byte("hello-world-1234"))
	assert.Equal(t, 1, pool.Allocated())

	a.Rewind(cp)
	assert.Equal(t, 0, pool.Allocated())

	buf2 := a.Allocate(32, 8)
	require.Len(t, buf2, 32)
}

func TestLIFOSpansMultiplePages(t *testing.T) {
	pool := NewPagePool(64, 0)
	a := NewLIFO(pool)

	a.Allocate(40, 8)
	a.Allocate(40, 8) // must roll to a second page
	assert.Equal(t, 2, pool.Allocated())
}

func TestLIFOFatalOOMOnOversizeAllocation(t *testing.T) {
	pool := NewPagePool(64, 0)
	a := NewLIFO(pool)

	assert.Panics(t, func() {
		a.Allocate(128, 8)
	})
}

func TestPagePoolBoundedExhaustion(t *testing.T) {
	pool := NewPagePool(64, 1)
	_ = pool.Acquire()
	assert.Panics(t, func() {
		pool.Acquire()
	})
}

func TestFIFOCheckpointAndDeallocate(t *testing.T) {
	pool := NewPagePool(64, 0)
	f := NewFIFO(pool)

	f.Allocate(20, 1)
	cp1 := f.Checkpoint()
	f.Allocate(20, 1)
	f.Allocate(30, 1) // rolls to a new page
	cp2 := f.Checkpoint()

	assert.Equal(t, 2, pool.Allocated())

	f.DeallocateBefore(cp1)
	assert.Equal(t, 2, pool.Allocated(), "cp1 is still on the first page")

	f.DeallocateBefore(cp2)
	assert.Equal(t, 1, pool.Allocated(), "the first page should now be released")
}

func TestFIFOResetEquivalentToFresh(t *testing.T) {
	pool := NewPagePool(64, 0)
	f := NewFIFO(pool)
	f.Allocate(20, 1)
	f.Reset()
	assert.True(t, f.Empty())
	assert.Equal(t, 0, pool.Allocated())
}
