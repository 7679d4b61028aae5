// Package arena implements the page-backed bump allocators described in
// spec §4.A: a LIFO arena for operator scratch/expression evaluation and a
// FIFO arena for inter-operator queues. Both share a single page pool.
//
// Grounded on a resource-pool idiom (a reconciler and scheduler pair
// that share a mutex-guarded free list plus a start/stop lifecycle);
// generalized here to pages instead of goroutines.
package arena

import (
	"fmt"
	"sync"
)

// DefaultPageSize matches the 2 MiB figure called out in spec §4.A.
const DefaultPageSize = 2 << 20

// FatalOOM is raised (via panic) when the page pool cannot satisfy an
// allocation. Per spec §7 this is a fatal, process-ending condition -
// arenas never return an error for exhaustion.
type FatalOOM struct {
	Requested int
	Reason    string
}

func (f *FatalOOM) Error() string {
	return fmt.Sprintf("arena out of memory: requested %d bytes: %s", f.Requested, f.Reason)
}

// Page is one fixed-size allocation unit.
type Page struct {
	buf []byte
}

// Bytes exposes the page's backing storage directly, for callers (such as
// pkg/container) that manage their own placement within a page rather
// than going through LIFO/FIFO's bump-allocation API.
func (p *Page) Bytes() []byte { return p.buf }

func newPage(size int) *Page {
	return &Page{buf: make([]byte, size)}
}

// PagePool is the process-wide, lazily-growing, recyclable source of
// pages. A maxPages of zero or less means unbounded (bounded only by the Go runtime's
// own memory limits, which are not what spec §4.A's "out-of-memory" refers
// to - that condition is reserved for a configured, finite pool).
type PagePool struct {
	pageSize int
	maxPages int // 0 = unbounded

	mu        sync.Mutex
	free      []*Page
	allocated int
}

// NewPagePool constructs a pool. maxPages <= 0 means unbounded.
func NewPagePool(pageSize, maxPages int) *PagePool {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagePool{pageSize: pageSize, maxPages: maxPages}
}

func (p *PagePool) PageSize() int { return p.pageSize }

// Acquire hands out a recycled page if one is free, else allocates a new
// one, unless the pool's configured cap is already reached - in which case
// it panics with FatalOOM, matching §4.A's "arenas ... fail with a fatal
// out-of-memory on exhaustion".
func (p *PagePool) Acquire() *Page {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		pg := p.free[n-1]
		p.free = p.free[:n-1]
		return pg
	}
	if p.maxPages > 0 && p.allocated >= p.maxPages {
		panic(&FatalOOM{Requested: p.pageSize, Reason: "page pool exhausted"})
	}
	p.allocated++
	return newPage(p.pageSize)
}

// Release returns a page to the free list for reuse.
func (p *PagePool) Release(pg *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, pg)
}

// Allocated reports the number of pages currently handed out (not on the
// free list), for diagnostics/metrics.
func (p *PagePool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated - len(p.free)
}
