package txn

import (
	"container/heap"
	"sync"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
	"github.com/project-tsurugi/sqlengine/pkg/log"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/rs/zerolog"
)

// CancelChecker reports whether the response handle backing a waiting
// transaction has a cancellation latched (spec §4.H check_cancel, §6
// "Cancellation is signaled via a non-blocking check_cancel call").
type CancelChecker interface {
	CheckCancel() bool
}

// waitEntry is one transaction suspended on the durability waitlist,
// ordered by Marker (spec §3 "priority queue keyed by ... durability
// marker").
type waitEntry struct {
	marker   int64
	tx       *Context
	checker  CancelChecker
	complete func(status kv.StatusCode)
	index    int
}

// waitHeap is a container/heap min-heap by marker.
type waitHeap []*waitEntry

func (h waitHeap) Len() int            { return len(h) }
func (h waitHeap) Less(i, j int) bool  { return h[i].marker < h[j].marker }
func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *waitHeap) Push(x any) {
	e := x.(*waitEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Waitlist is the durability waitlist from spec §3/§4.H: a priority queue
// keyed by each waiting transaction's durability marker, plus the current
// durable marker, a monotonic counter.
type Waitlist struct {
	mu      sync.Mutex
	heap    waitHeap
	current int64
	logger  zerolog.Logger
}

func NewWaitlist() *Waitlist {
	return &Waitlist{logger: log.WithComponent("txn.durability")}
}

// CurrentMarker returns the monotonic counter of the marker durability has
// progressed to.
func (w *Waitlist) CurrentMarker() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Wait enqueues tx with the marker it was assigned by the store's commit
// callback. complete is invoked exactly once, either when
// UpdateCurrentMarker reaches marker, or when CheckCancel reports
// cancellation first.
func (w *Waitlist) Wait(marker int64, tx *Context, checker CancelChecker, complete func(kv.StatusCode)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx.setDurabilityMarker(marker)
	heap.Push(&w.heap, &waitEntry{marker: marker, tx: tx, checker: checker, complete: complete})
	metrics.DurabilityWaitlistDepth.Set(float64(len(w.heap)))
}

// InstantUpdateIfWaitlistEmpty is the fast path from spec §4.H: if the
// heap is empty, just bump the current marker without scanning anything.
func (w *Waitlist) InstantUpdateIfWaitlistEmpty(marker int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.heap) != 0 {
		return false
	}
	if marker > w.current {
		w.current = marker
	}
	return true
}

// UpdateCurrentMarker advances the current marker and completes every
// waiting entry whose marker is <= marker, removing each from the heap
// (spec §8 invariant 5).
func (w *Waitlist) UpdateCurrentMarker(marker int64) {
	w.mu.Lock()
	if marker > w.current {
		w.current = marker
	}
	var done []*waitEntry
	for len(w.heap) > 0 && w.heap[0].marker <= marker {
		e := heap.Pop(&w.heap).(*waitEntry)
		done = append(done, e)
	}
	metrics.DurabilityWaitlistDepth.Set(float64(len(w.heap)))
	w.mu.Unlock()

	for _, e := range done {
		e.complete(kv.StatusOK)
	}
}

// CheckCancel scans the heap for entries whose response handle reports
// cancel-requested and completes them with cancellation (spec §4.H).
//
// Open Question (spec §9): the source's behavior when a transaction has
// already moved to going_to_commit but not yet been removed from the
// waitlist is undocumented. This implementation favors cancellation - if
// CheckCancel observes cancel-requested before UpdateCurrentMarker
// removes the entry, the waiter completes with a cancellation status even
// though a commit is already in flight at the store.
func (w *Waitlist) CheckCancel() {
	w.mu.Lock()
	var cancelled []*waitEntry
	remaining := w.heap[:0]
	for _, e := range w.heap {
		if e.checker != nil && e.checker.CheckCancel() {
			cancelled = append(cancelled, e)
			continue
		}
		remaining = append(remaining, e)
	}
	w.heap = remaining
	heap.Init(&w.heap)
	metrics.DurabilityWaitlistDepth.Set(float64(len(w.heap)))
	w.mu.Unlock()

	for _, e := range cancelled {
		e.tx.SetError(errs.New(errs.SQLRequestTimedOutException, "cancelled while waiting for durability"))
		e.complete(kv.StatusErrInactiveTransaction)
	}
}

// Len reports the number of transactions currently suspended.
func (w *Waitlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heap)
}
