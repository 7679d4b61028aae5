// Package bbolt is the reference kv.Store implementation used by tests and
// the single-process demo binary, standing in for the external
// transactional engine spec §6 describes. It is grounded on a BoltStore
// idiom: one bucket per named storage, opened with db.Update/db.View-style
// transactions and JSON-free byte-for-byte Put/Get, generalized from
// per-resource CRUD methods to the generic (storage, key, value) contract
// the engine needs.
package bbolt

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/project-tsurugi/sqlengine/pkg/kv"
)

// Store is a kv.Store backed by a single bbolt database file. Buckets
// (the "storage" argument of Put/Get/Scan) are created on first write.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database under dataDir, mirroring the
// teacher's NewBoltStore (single warren.db file, 0600 permissions).
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "sqlengine.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// OpenTransaction begins a bbolt transaction. A ReadOnly mode yields a
// non-writable bbolt transaction, so any Put within it fails with
// err_write_operation_by_rtx without ever reaching bbolt.
func (s *Store) OpenTransaction(mode kv.Mode, opts kv.TransactionOptions) (kv.Transaction, kv.StatusCode) {
	tx, err := s.db.Begin(mode == kv.ReadWrite)
	if err != nil {
		return nil, kv.StatusErrInactiveTransaction
	}
	return &Transaction{db: s.db, tx: tx, mode: mode, opts: opts}, kv.StatusOK
}

// Transaction wraps a single *bolt.Tx. Buckets are created lazily on the
// first write within a writable transaction; a read-only transaction
// treats a missing bucket as an empty storage rather than an error.
type Transaction struct {
	db   *bolt.DB
	tx   *bolt.Tx
	mode kv.Mode
	opts kv.TransactionOptions
}

func (t *Transaction) bucket(name string, create bool) (*bolt.Bucket, kv.StatusCode) {
	b := t.tx.Bucket([]byte(name))
	if b != nil {
		return b, kv.StatusOK
	}
	if !create {
		return nil, kv.StatusOK // empty storage, not an error
	}
	if t.mode != kv.ReadWrite {
		return nil, kv.StatusErrWriteOperationByRTX
	}
	nb, err := t.tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, kv.StatusErrInactiveTransaction
	}
	return nb, kv.StatusOK
}

func (t *Transaction) Put(storage string, key, value []byte, kind kv.PutKind) kv.StatusCode {
	if len(key) == 0 {
		return kv.StatusErrInvalidKeyLength
	}
	if t.mode != kv.ReadWrite {
		return kv.StatusErrWriteOperationByRTX
	}

	b, st := t.bucket(storage, kind != kv.KindDelete)
	if st != kv.StatusOK {
		return st
	}

	switch kind {
	case kv.KindInsert:
		if b != nil && b.Get(key) != nil {
			return kv.StatusAlreadyExists
		}
	case kv.KindUpdate:
		if b == nil || b.Get(key) == nil {
			return kv.StatusNotFound
		}
	case kv.KindDelete:
		if b == nil {
			return kv.StatusOK
		}
		if err := b.Delete(key); err != nil {
			return kv.StatusErrSerializationFailure
		}
		return kv.StatusOK
	}

	if err := b.Put(key, value); err != nil {
		return kv.StatusErrSerializationFailure
	}
	return kv.StatusOK
}

func (t *Transaction) Get(storage string, key []byte) ([]byte, kv.StatusCode) {
	b, st := t.bucket(storage, false)
	if st != kv.StatusOK {
		return nil, st
	}
	if b == nil {
		return nil, kv.StatusNotFound
	}
	v := b.Get(key)
	if v == nil {
		return nil, kv.StatusNotFound
	}
	return append([]byte(nil), v...), kv.StatusOK
}

func (t *Transaction) Scan(storage string, low []byte, lowKind kv.EndpointKind, high []byte, highKind kv.EndpointKind) (kv.Iterator, kv.StatusCode) {
	b, st := t.bucket(storage, false)
	if st != kv.StatusOK {
		return nil, st
	}
	if b == nil {
		return &emptyIterator{}, kv.StatusOK
	}
	return newScanIterator(b, low, lowKind, high, highKind), kv.StatusOK
}

func (t *Transaction) Commit(callback func(kv.StatusCode)) kv.StatusCode {
	if err := t.tx.Commit(); err != nil {
		if callback != nil {
			callback(kv.StatusErrSerializationFailure)
		}
		return kv.StatusErrSerializationFailure
	}
	if callback != nil {
		callback(kv.StatusOK)
	}
	return kv.StatusOK
}

func (t *Transaction) Abort() kv.StatusCode {
	if err := t.tx.Rollback(); err != nil {
		return kv.StatusErrInactiveTransaction
	}
	return kv.StatusOK
}

type emptyIterator struct{}

func (emptyIterator) Next() bool    { return false }
func (emptyIterator) Key() []byte   { return nil }
func (emptyIterator) Value() []byte { return nil }
func (emptyIterator) Close()        {}

// scanIterator walks a bbolt cursor honoring the five endpoint kinds from
// spec §6. Prefixed endpoints treat low/high as a byte prefix rather than
// an exact boundary.
type scanIterator struct {
	cur      *bolt.Cursor
	high     []byte
	highKind kv.EndpointKind

	key, val     []byte // current entry, valid after Next returns true
	pendingKey   []byte // first entry found by the constructor, not yet consumed
	pendingVal   []byte
	havePending  bool
	done         bool
}

func newScanIterator(b *bolt.Bucket, low []byte, lowKind kv.EndpointKind, high []byte, highKind kv.EndpointKind) *scanIterator {
	if highKind == kv.PrefixedExclusive {
		// Every key carrying the prefix sorts at or after it, so excluding
		// them is the same as an exclusive bound at the prefix itself.
		highKind = kv.Exclusive
	}
	it := &scanIterator{cur: b.Cursor(), high: high, highKind: highKind}

	var k, v []byte
	switch lowKind {
	case kv.Unbound:
		k, v = it.cur.First()
	case kv.PrefixedInclusive, kv.Inclusive:
		k, v = it.cur.Seek(low)
	case kv.PrefixedExclusive:
		k, v = it.cur.Seek(low)
		for k != nil && bytes.HasPrefix(k, low) {
			k, v = it.cur.Next()
		}
	case kv.Exclusive:
		k, v = it.cur.Seek(low)
		if k != nil && bytes.Equal(k, low) {
			k, v = it.cur.Next()
		}
	}
	if k == nil {
		it.done = true
	} else {
		it.pendingKey, it.pendingVal = k, v
		it.havePending = true
	}
	return it
}

func (it *scanIterator) pastHigh(k []byte) bool {
	if it.highKind == kv.Unbound || it.high == nil {
		return false
	}
	switch it.highKind {
	case kv.Inclusive:
		return bytes.Compare(k, it.high) > 0
	case kv.Exclusive:
		return bytes.Compare(k, it.high) >= 0
	case kv.PrefixedInclusive, kv.PrefixedExclusive:
		return !bytes.HasPrefix(k, it.high) && bytes.Compare(k, it.high) > 0
	default:
		return false
	}
}

func (it *scanIterator) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	if it.havePending {
		k, v = it.pendingKey, it.pendingVal
		it.havePending = false
	} else {
		k, v = it.cur.Next()
	}
	if k == nil || it.pastHigh(k) {
		it.done = true
		it.key, it.val = nil, nil
		return false
	}
	it.key, it.val = k, v
	return true
}

func (it *scanIterator) Key() []byte   { return it.key }
func (it *scanIterator) Value() []byte { return it.val }
func (it *scanIterator) Close()        {}
