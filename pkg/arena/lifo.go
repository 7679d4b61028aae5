package arena

// LIFOCheckpoint marks a position in a LIFO arena's page/offset stream,
// captured at scope entry so the scope's allocations can be freed
// wholesale by rewinding.
type LIFOCheckpoint struct {
	pageIndex int
	offset    int
}

// LIFO is a forward bump allocator whose allocations are released in bulk
// by rewinding to an earlier Mark(). Used for operator scratch space and
// expression evaluation (spec §4.A, §4.F evaluator_context).
type LIFO struct {
	pool   *PagePool
	pages  []*Page
	offset int // offset into the current (last) page
}

func NewLIFO(pool *PagePool) *LIFO {
	return &LIFO{pool: pool}
}

// Mark captures the current position for a later Rewind.
func (a *LIFO) Mark() LIFOCheckpoint {
	return LIFOCheckpoint{pageIndex: len(a.pages) - 1, offset: a.offset}
}

func align(n, alignment int) int {
	if alignment <= 1 {
		return n
	}
	return (n + alignment - 1) &^ (alignment - 1)
}

// Allocate returns size bytes aligned to alignment, bump-allocating a new
// page from the pool if the current page cannot satisfy the request. An
// allocation larger than a page size panics with FatalOOM - this arena
// design does not support spanning a single allocation across pages.
func (a *LIFO) Allocate(size, alignment int) []byte {
	if size <= 0 {
		return nil
	}
	pageSize := a.pool.PageSize()
	if size > pageSize {
		panic(&FatalOOM{Requested: size, Reason: "allocation exceeds page size"})
	}

	if len(a.pages) == 0 {
		a.pages = append(a.pages, a.pool.Acquire())
		a.offset = 0
	}

	aligned := align(a.offset, alignment)
	if aligned+size > pageSize {
		a.pages = append(a.pages, a.pool.Acquire())
		aligned = align(0, alignment)
	}
	cur := a.pages[len(a.pages)-1]
	buf := cur.buf[aligned : aligned+size]
	a.offset = aligned + size
	return buf
}

// Rewind releases every page acquired after cp's page, and rewinds the
// offset within cp's page, returning the arena to the state it had when
// Mark produced cp.
func (a *LIFO) Rewind(cp LIFOCheckpoint) {
	if cp.pageIndex < 0 {
		a.Reset()
		return
	}
	for i := len(a.pages) - 1; i > cp.pageIndex; i-- {
		a.pool.Release(a.pages[i])
		a.pages = a.pages[:i]
	}
	a.offset = cp.offset
}

// Reset releases all pages back to the pool, leaving the arena equivalent
// to a freshly constructed one (spec §8 invariant 7).
func (a *LIFO) Reset() {
	for _, pg := range a.pages {
		a.pool.Release(pg)
	}
	a.pages = nil
	a.offset = 0
}
