// Package kv declares the transactional key-value storage interface the
// engine consumes (spec §6): open_transaction, put, get, scan, commit and
// abort, plus the status-code vocabulary those calls report. The engine
// itself never persists durable state; every storage.Store implementation
// is an external (or, for tests, embedded) transactional KV engine.
package kv

import "github.com/project-tsurugi/sqlengine/pkg/errs"

// StatusCode is the closed vocabulary of outcomes a Store reports (spec
// §6). It is distinct from errs.Code because a storage call is lower-level
// than the engine's own error taxonomy; ToErrCode maps one to the other at
// the boundary.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusNotFound
	StatusAlreadyExists
	StatusErrSerializationFailure
	StatusErrConflictOnWritePreserve
	StatusErrReadAreaViolation
	StatusErrWriteWithoutWritePreserve
	StatusErrWriteOperationByRTX
	StatusErrInactiveTransaction
	StatusErrInvalidKeyLength
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusErrSerializationFailure:
		return "err_serialization_failure"
	case StatusErrConflictOnWritePreserve:
		return "err_conflict_on_write_preserve"
	case StatusErrReadAreaViolation:
		return "err_read_area_violation"
	case StatusErrWriteWithoutWritePreserve:
		return "err_write_without_write_preserve"
	case StatusErrWriteOperationByRTX:
		return "err_write_operation_by_rtx"
	case StatusErrInactiveTransaction:
		return "err_inactive_transaction"
	case StatusErrInvalidKeyLength:
		return "err_invalid_key_length"
	default:
		return "unknown_status"
	}
}

// ToErrCode maps a storage status to the engine's error taxonomy (spec
// §4.I, §7): ok and not_found are not errors by themselves, the caller
// decides whether not_found is a warning or promotes it.
func (s StatusCode) ToErrCode() errs.Code {
	switch s {
	case StatusOK:
		return errs.None
	case StatusNotFound:
		return errs.NotFound
	case StatusAlreadyExists:
		return errs.AlreadyExists
	case StatusErrSerializationFailure:
		return errs.CCException
	case StatusErrConflictOnWritePreserve:
		return errs.ConflictOnWritePreserveException
	case StatusErrReadAreaViolation:
		return errs.CCException
	case StatusErrWriteWithoutWritePreserve:
		return errs.CCException
	case StatusErrWriteOperationByRTX:
		return errs.CCException
	case StatusErrInactiveTransaction:
		return errs.InactiveTransactionException
	case StatusErrInvalidKeyLength:
		return errs.SQLServiceException
	default:
		return errs.InternalException
	}
}

// PutKind selects the write semantics of a Put call (spec §6).
type PutKind int

const (
	KindInsert PutKind = iota // fails with already_exists if the key is present
	KindUpsert                // unconditional write
	KindUpdate                // fails with not_found if the key is absent
	KindDelete
)

// EndpointKind bounds one side of a Scan range (spec §6).
type EndpointKind int

const (
	Inclusive EndpointKind = iota
	Exclusive
	PrefixedInclusive
	PrefixedExclusive
	Unbound
)

// Mode selects whether a transaction may write (spec §6 "err_write_
// operation_by_rtx": a read-only transaction rejects writes).
type Mode int

const (
	ReadWrite Mode = iota
	ReadOnly
)

// TransactionOptions carries the write-preserve declaration a long
// transaction must make up front (spec §5/§6: write-preserve violations
// surface as err_conflict_on_write_preserve / err_write_without_write_
// preserve) plus an optional read-area restriction.
type TransactionOptions struct {
	WritePreserve []string
	ReadAreaOnly  []string
}

// Iterator walks a Scan's result in key order. Callers must call Close
// once done; an iterator is only valid for the lifetime of its owning
// Transaction.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close()
}

// Transaction is a single open handle against a Store (spec §6).
type Transaction interface {
	Put(storage string, key, value []byte, kind PutKind) StatusCode
	Get(storage string, key []byte) (value []byte, status StatusCode)
	Scan(storage string, low []byte, lowKind EndpointKind, high []byte, highKind EndpointKind) (Iterator, StatusCode)

	// Commit finalizes the transaction. callback is invoked with the final
	// status once the store has durably recorded the outcome (spec §4.H:
	// this is the hook the durability waitlist attaches to).
	Commit(callback func(StatusCode)) StatusCode
	Abort() StatusCode
}

// Store is the transactional key-value engine the SQL engine is a client
// of (spec §6). The engine persists no durable state of its own; every
// Store implementation - bbolt locally, some external transactional
// engine in production - owns all committed data.
type Store interface {
	OpenTransaction(mode Mode, opts TransactionOptions) (Transaction, StatusCode)
	Close() error
}
