package container

import "github.com/project-tsurugi/sqlengine/pkg/record"

// ResultStore is an ordered collection of per-partition iterable stores
// (spec §4.C). It exposes a flattening iterator that concatenates
// partitions in index order, skipping empty ones - used by the result
// store that backs a process step's output before it reaches an exchange
// sink or the response channel.
type ResultStore struct {
	partitions []*IterableStore
}

func NewResultStore(partitions []*IterableStore) *ResultStore {
	return &ResultStore{partitions: partitions}
}

func (r *ResultStore) Partition(i int) *IterableStore { return r.partitions[i] }
func (r *ResultStore) NumPartitions() int              { return len(r.partitions) }

func (r *ResultStore) Count() int {
	n := 0
	for _, p := range r.partitions {
		n += p.Count()
	}
	return n
}

// FlatIterator concatenates every partition's records in index order,
// skipping partitions that are empty.
type FlatIterator struct {
	store   *ResultStore
	partIdx int
	cur     *Iterator
}

func (r *ResultStore) Begin() *FlatIterator {
	return &FlatIterator{store: r}
}

func (it *FlatIterator) Next() (record.Ref, bool) {
	for {
		if it.cur == nil {
			if it.partIdx >= len(it.store.partitions) {
				return record.Ref{}, false
			}
			p := it.store.partitions[it.partIdx]
			it.partIdx++
			if p.Empty() {
				continue
			}
			it.cur = p.Begin()
		}
		if ref, ok := it.cur.Next(); ok {
			return ref, true
		}
		it.cur = nil
	}
}
