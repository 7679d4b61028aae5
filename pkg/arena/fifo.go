package arena

// FIFOCheckpoint marks a head position at push time. A consumer records
// the checkpoint alongside the record it pushed and later hands it back to
// DeallocateBefore to release everything older than that point, in push
// order (spec §4.A, §3 FIFO record store).
type FIFOCheckpoint struct {
	absPage int // absolute page number, stable across page releases
	offset  int
}

// FIFO is a bump allocator that allocates forward at the head and
// deallocates from the tail in the order checkpoints were recorded. Used
// for inter-operator queues (the varlen payload arena backing the FIFO
// record store).
type FIFO struct {
	pool        *PagePool
	pages       []*Page
	baseAbsPage int // absolute page number of pages[0]
	headOffset  int // offset into the last page
	tailOffset  int // offset into the first (tail) page already released
}

func NewFIFO(pool *PagePool) *FIFO {
	return &FIFO{pool: pool}
}

// Checkpoint captures the current head position.
func (a *FIFO) Checkpoint() FIFOCheckpoint {
	if len(a.pages) == 0 {
		return FIFOCheckpoint{absPage: a.baseAbsPage, offset: 0}
	}
	return FIFOCheckpoint{absPage: a.baseAbsPage + len(a.pages) - 1, offset: a.headOffset}
}

// Allocate returns size bytes aligned to alignment at the head, acquiring
// a new page from the pool when the current page cannot hold the request.
func (a *FIFO) Allocate(size, alignment int) []byte {
	if size <= 0 {
		return nil
	}
	pageSize := a.pool.PageSize()
	if size > pageSize {
		panic(&FatalOOM{Requested: size, Reason: "allocation exceeds page size"})
	}

	if len(a.pages) == 0 {
		a.pages = append(a.pages, a.pool.Acquire())
		a.headOffset = 0
	}

	aligned := align(a.headOffset, alignment)
	if aligned+size > pageSize {
		a.pages = append(a.pages, a.pool.Acquire())
		aligned = align(0, alignment)
	}
	cur := a.pages[len(a.pages)-1]
	buf := cur.buf[aligned : aligned+size]
	a.headOffset = aligned + size
	return buf
}

// DeallocateBefore releases every page strictly older than cp's page back
// to the pool, and records the in-page tail offset for the page containing
// cp. Pages are only ever released whole; a checkpoint landing mid-page
// keeps that page allocated until the next checkpoint crosses it.
func (a *FIFO) DeallocateBefore(cp FIFOCheckpoint) {
	for a.baseAbsPage < cp.absPage && len(a.pages) > 0 {
		a.pool.Release(a.pages[0])
		a.pages = a.pages[1:]
		a.baseAbsPage++
	}
	a.tailOffset = cp.offset
}

// Reset releases all pages back to the pool (spec §8 invariant 7).
func (a *FIFO) Reset() {
	for _, pg := range a.pages {
		a.pool.Release(pg)
	}
	a.pages = nil
	a.baseAbsPage = 0
	a.headOffset = 0
	a.tailOffset = 0
}

// Empty reports whether the head has caught up with the tail.
func (a *FIFO) Empty() bool {
	if len(a.pages) == 0 {
		return true
	}
	return len(a.pages) == 1 && a.tailOffset == a.headOffset
}
