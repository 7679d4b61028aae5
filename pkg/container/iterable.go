// Package container implements the append-only and FIFO record stores,
// the pointer tables used by shuffles, and the flattening result store
// described in spec §4.C, all built on top of pkg/arena's page pool and
// pkg/record's typed layout.
package container

import (
	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// Pointer identifies a record's location within an IterableStore. It is a
// (page index, byte offset) pair rather than a raw pointer, following the
// REDESIGN FLAGS note on pointer graphs in stores: storage stays
// relocatable (within the store's own page list) and the pointer is a
// plain comparable value usable as a map/slice key and across pointer
// tables.
type Pointer struct {
	page   int
	offset int
}

// IterableStore is the append-only container from spec §3/§4.C: records
// live in arena pages, pages are linked by page index, and a forward
// iterator walks records contiguously, jumping at page boundaries.
// Records never move; Reset releases all pages.
type IterableStore struct {
	pool    *arena.PagePool
	meta    *record.Meta
	varlen  record.VarlenArena
	recSize int

	pages  []*arena.Page
	offset int // write offset within the last page
	count  int
}

// NewIterableStore constructs a store for records of the given metadata.
// varlen resolves any out-of-line character/octet payloads; it may be
// shared across many stores belonging to the same operator context.
func NewIterableStore(pool *arena.PagePool, meta *record.Meta, varlen record.VarlenArena) *IterableStore {
	return &IterableStore{pool: pool, meta: meta, varlen: varlen, recSize: meta.Size()}
}

func (s *IterableStore) Meta() *record.Meta { return s.meta }
func (s *IterableStore) Count() int         { return s.count }
func (s *IterableStore) Empty() bool        { return s.count == 0 }

// Append reserves space for one record and returns a reference to its
// (zeroed) bytes plus a stable Pointer for later retrieval via At.
func (s *IterableStore) Append() (record.Ref, Pointer) {
	pageSize := s.pool.PageSize()
	if s.recSize > pageSize {
		panic(&arena.FatalOOM{Requested: s.recSize, Reason: "record larger than page size"})
	}
	if len(s.pages) == 0 || s.offset+s.recSize > pageSize {
		s.pages = append(s.pages, s.pool.Acquire())
		s.offset = 0
	}
	pageIdx := len(s.pages) - 1
	buf := s.pages[pageIdx].Bytes()[s.offset : s.offset+s.recSize]
	for i := range buf {
		buf[i] = 0
	}
	ptr := Pointer{page: pageIdx, offset: s.offset}
	s.offset += s.recSize
	s.count++
	return record.NewRef(buf, s.varlen), ptr
}

// At dereferences a Pointer previously returned by Append.
func (s *IterableStore) At(p Pointer) record.Ref {
	buf := s.pages[p.page].Bytes()[p.offset : p.offset+s.recSize]
	return record.NewRef(buf, s.varlen)
}

// Reset releases all pages, restoring the store to its freshly
// constructed state (spec §8 invariant 7).
func (s *IterableStore) Reset() {
	for _, pg := range s.pages {
		s.pool.Release(pg)
	}
	s.pages = nil
	s.offset = 0
	s.count = 0
}

// Iterator yields record references by walking pages contiguously. Its
// validity ends at the next Append that rolls to a new page (spec §3).
type Iterator struct {
	store   *IterableStore
	page    int
	offset  int
}

// Begin returns a forward iterator over records appended so far.
func (s *IterableStore) Begin() *Iterator {
	return &Iterator{store: s}
}

// Next advances the iterator and returns the next record, or (Ref{},
// false) once the iterator reaches the current write position.
func (it *Iterator) Next() (record.Ref, bool) {
	s := it.store
	if it.page >= len(s.pages) {
		return record.Ref{}, false
	}
	lastPage := len(s.pages) - 1
	limit := s.pool.PageSize()
	if it.page == lastPage {
		limit = s.offset
	}
	if it.offset+s.recSize > limit {
		it.page++
		it.offset = 0
		return it.Next()
	}
	buf := s.pages[it.page].Bytes()[it.offset : it.offset+s.recSize]
	it.offset += s.recSize
	return record.NewRef(buf, s.varlen), true
}
