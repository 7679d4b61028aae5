package errs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotFirstWriterWins(t *testing.T) {
	var slot Slot

	require.True(t, slot.Set(New(CCException, "first")))
	require.False(t, slot.Set(New(UniqueConstraintViolationException, "second")))

	got := slot.Get()
	require.NotNil(t, got)
	assert.Equal(t, CCException, got.Code)
	assert.Equal(t, "first", got.Message)
}

func TestSlotIgnoresNone(t *testing.T) {
	var slot Slot
	assert.False(t, slot.Set(&Info{Code: None}))
	assert.False(t, slot.HasError())
}

func TestSlotConcurrentWriters(t *testing.T) {
	var slot Slot
	var wg sync.WaitGroup
	wins := make([]bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = slot.Set(Newf(InternalException, "writer-%d", i))
		}(i)
	}
	wg.Wait()

	winCount := 0
	for _, w := range wins {
		if w {
			winCount++
		}
	}
	assert.Equal(t, 1, winCount)
	assert.True(t, slot.HasError())
}
