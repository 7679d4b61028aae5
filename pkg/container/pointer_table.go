package container

import "sort"

// PointerTable is the shard used by group exchanges: a vector of
// pointers into an IterableStore, sortable by a caller-supplied key
// comparator (spec §3/§4.C). Size is bounded per instance so sort cost
// stays bounded - when a shuffle's input partition table reaches
// MaxEntries it is sealed and a fresh one is started (spec §3 "Pointer
// table / partition").
type PointerTable struct {
	store   *IterableStore
	entries []Pointer
	sealed  bool
	max     int
}

// DefaultPointerTableSize bounds a single shard before it must be sealed
// and a new one started.
const DefaultPointerTableSize = 64 * 1024

func NewPointerTable(store *IterableStore, maxEntries int) *PointerTable {
	if maxEntries <= 0 {
		maxEntries = DefaultPointerTableSize
	}
	return &PointerTable{store: store, max: maxEntries}
}

// Emplace appends ptr; returns false if the table is full (sealed) or has
// reached its configured capacity and must be sealed by the caller.
func (t *PointerTable) Emplace(ptr Pointer) bool {
	if t.sealed || len(t.entries) >= t.max {
		return false
	}
	t.entries = append(t.entries, ptr)
	return true
}

func (t *PointerTable) Len() int   { return len(t.entries) }
func (t *PointerTable) Full() bool { return len(t.entries) >= t.max }

// Comparator orders two records referenced through the table's backing
// store; used for Sort's key-comparator pass (spec §4.G group exchange).
type Comparator func(a, b Pointer) int

// Sort seals the table and orders its entries by cmp. A group exchange
// calls this on flush, once per input partition (spec §4.G).
func (t *PointerTable) Sort(cmp Comparator) {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return cmp(t.entries[i], t.entries[j]) < 0
	})
	t.sealed = true
}

func (t *PointerTable) Sealed() bool { return t.sealed }

// At returns the record reference for entry i (post-sort, entries are in
// comparator order).
func (t *PointerTable) At(i int) Pointer { return t.entries[i] }

func (t *PointerTable) Store() *IterableStore { return t.store }

// Entries exposes the underlying pointer slice for merge readers.
func (t *PointerTable) Entries() []Pointer { return t.entries }
