package container

import (
	"sync/atomic"

	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

type fifoEntry struct {
	buf     []byte
	recCP   arena.FIFOCheckpoint
	varlenCP int
}

// FIFORecordStore is the single-producer/single-consumer queue from spec
// §3/§4.C. Push copies a record's fixed-size bytes plus re-homes any
// overflow character/octet payload into this store's own varlen arena;
// Pop lags the arena release by one entry so the buffer just returned to
// the caller is never invalidated by the release that made room for it.
type FIFORecordStore struct {
	meta    *record.Meta
	recSize int

	recordArena *arena.FIFO
	varlenArena *record.SimpleVarlenArena

	queue           []fifoEntry
	pendingRelease  *fifoEntry
	count           int64 // eventually consistent, monotone between producer and consumer observations (spec §3)
}

func NewFIFORecordStore(pool *arena.PagePool, meta *record.Meta) *FIFORecordStore {
	return &FIFORecordStore{
		meta:        meta,
		recSize:     meta.Size(),
		recordArena: arena.NewFIFO(pool),
		varlenArena: record.NewSimpleVarlenArena(),
	}
}

// Push copies src into the queue. Only one goroutine may call Push
// concurrently (spec §3 invariant: at most one concurrent producer).
func (s *FIFORecordStore) Push(src record.Ref) {
	buf := s.recordArena.Allocate(s.recSize, s.meta.Alignment())
	copy(buf, src.RawBytes())
	dst := record.NewRef(buf, s.varlenArena)

	for i := 0; i < s.meta.NumFields(); i++ {
		ft := s.meta.Field(i)
		if ft.Kind != record.KindCharacter && ft.Kind != record.KindOctet {
			continue
		}
		nb := s.meta.NullBitOffset(i)
		if nb >= 0 && src.IsNull(nb) {
			continue
		}
		dst.SetBytes(s.meta.ValueOffset(i), src.GetBytes(s.meta.ValueOffset(i)))
	}

	s.queue = append(s.queue, fifoEntry{
		buf:      buf,
		recCP:    s.recordArena.Checkpoint(),
		varlenCP: s.varlenArena.Checkpoint(),
	})
	atomic.AddInt64(&s.count, 1)
}

// TryPop returns the oldest pushed record, or (Ref{}, false) if the queue
// is empty. Only one goroutine may call TryPop concurrently.
func (s *FIFORecordStore) TryPop() (record.Ref, bool) {
	if len(s.queue) == 0 {
		return record.Ref{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]

	if s.pendingRelease != nil {
		s.recordArena.DeallocateBefore(s.pendingRelease.recCP)
		s.varlenArena.RewindTo(s.pendingRelease.varlenCP)
	}
	pending := e
	s.pendingRelease = &pending

	atomic.AddInt64(&s.count, -1)
	return record.NewRef(e.buf, s.varlenArena), true
}

// Count is eventually consistent but monotone between a producer's pushes
// and a consumer's pops (spec §3).
func (s *FIFORecordStore) Count() int64 { return atomic.LoadInt64(&s.count) }

func (s *FIFORecordStore) Empty() bool { return s.Count() == 0 }

// Reset releases all pages and returns the store to a freshly constructed
// state (spec §8 invariant 7).
func (s *FIFORecordStore) Reset() {
	s.recordArena.Reset()
	s.varlenArena.Reset()
	s.queue = nil
	s.pendingRelease = nil
	atomic.StoreInt64(&s.count, 0)
}
