// Package txn implements the transaction context lifecycle, worker
// pinning, termination state machine and durability waitlist described in
// spec §3 ("Transaction context") and §4.H.
//
// Grounded on a reconciler/manager idiom of a mutex/atomic-guarded
// struct with a zerolog component logger (see txn.go's Context),
// generalized from cluster-membership bookkeeping to per-transaction
// termination accounting.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
	"github.com/project-tsurugi/sqlengine/pkg/lob"
	"github.com/project-tsurugi/sqlengine/pkg/log"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/rs/zerolog"
)

// Mode selects the concurrency-control mode a transaction opens under
// (spec §4.H: "a chosen mode (occ, ltx, rtx)").
type Mode int

const (
	OCC Mode = iota
	LTX
	RTX
)

// termination packs task_use_count (62 bits), going_to_commit (1 bit) and
// going_to_abort (1 bit) into a single uint64, per spec §4.H.
type termination uint64

const (
	commitBit  = uint64(1) << 63
	abortBit   = uint64(1) << 62
	countMask  = abortBit - 1
)

func (t termination) count() uint64      { return uint64(t) & countMask }
func (t termination) committing() bool   { return uint64(t)&commitBit != 0 }
func (t termination) aborting() bool     { return uint64(t)&abortBit != 0 }
func (t termination) terminating() bool  { return t.committing() || t.aborting() }

// Context is the per-transaction state the engine owns (spec §3
// "Transaction context", §4.H, §5).
type Context struct {
	SurrogateID uint64
	Handle      kv.Transaction
	Mode        Mode
	Options     kv.TransactionOptions

	logger zerolog.Logger

	errSlot errs.Slot

	state atomic.Uint64 // termination, packed

	workerMu    sync.Mutex
	workerSet   bool
	workerIndex int
	workerUses  int

	durabilityMarker atomic.Int64 // -1 until assigned

	cancelRequested atomic.Bool

	lobMu      sync.Mutex
	lobSession *lob.Session // nil until OpenLOBSession is called
}

// New allocates a transaction context around an already-open storage
// handle. surrogateID is typically a fresh uuid-derived value minted by
// the caller (pkg/engine); kept as a plain uint64 here so it packs
// cheaply into log fields and hash keys.
func New(surrogateID uint64, handle kv.Transaction, mode Mode, opts kv.TransactionOptions) *Context {
	c := &Context{
		SurrogateID: surrogateID,
		Handle:      handle,
		Mode:        mode,
		Options:     opts,
		logger:      log.WithComponent("txn"),
	}
	c.durabilityMarker.Store(-1)
	return c
}

// NewSurrogateID mints a fresh transaction surrogate id from a uuid,
// folded to a uint64 (spec §3: "a surrogate id").
func NewSurrogateID() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// SetError records info in the first-writer-wins error slot (spec §3,
// §4.I, §8 invariant 8).
func (c *Context) SetError(info *errs.Info) bool {
	set := c.errSlot.Set(info)
	if set {
		metrics.ErrorsTotal.WithLabelValues(info.Code.String(), classLabel(info)).Inc()
	}
	return set
}

func classLabel(info *errs.Info) string {
	switch info.Code.Class() {
	case errs.ClassWarning:
		return "warning"
	case errs.ClassFatal:
		return "fatal"
	default:
		return "recoverable"
	}
}

// Error returns the stored error, or nil if none has been set.
func (c *Context) Error() *errs.Info { return c.errSlot.Get() }

// --- Worker pinning (spec §4.H "Worker manager") ---

// BindWorker records workerIndex as this transaction's pinned worker if
// none is recorded yet ("the first task to enter the context records its
// worker id"), and always increments the use-count guarding deallocation.
// Returns the worker index every subsequent task for this transaction
// should be schedule_at'ed to.
func (c *Context) BindWorker(workerIndex int) int {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if !c.workerSet {
		c.workerSet = true
		c.workerIndex = workerIndex
	}
	c.workerUses++
	return c.workerIndex
}

// ReleaseWorker decrements the worker use-count; once it reaches zero the
// worker slot is released (spec §4.H: "released only when the use-count
// reaches zero").
func (c *Context) ReleaseWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.workerUses > 0 {
		c.workerUses--
	}
	if c.workerUses == 0 {
		c.workerSet = false
	}
}

// WorkerID returns the pinned worker index and whether one is currently
// held (spec §8 invariant 4: "worker_id = empty iff use_count = 0").
func (c *Context) WorkerID() (int, bool) {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	return c.workerIndex, c.workerSet
}

// --- Termination state machine (spec §4.H) ---

// TryIncrementTaskUseCount fails if either terminate bit is already set.
func (c *Context) TryIncrementTaskUseCount() bool {
	for {
		old := termination(c.state.Load())
		if old.terminating() {
			return false
		}
		next := termination(uint64(old) + 1)
		if c.state.CompareAndSwap(uint64(old), uint64(next)) {
			return true
		}
	}
}

// DecrementTaskUseCount always succeeds.
func (c *Context) DecrementTaskUseCount() {
	for {
		old := termination(c.state.Load())
		count := old.count()
		if count == 0 {
			return
		}
		next := termination((uint64(old) &^ countMask) | (count - 1))
		if c.state.CompareAndSwap(uint64(old), uint64(next)) {
			return
		}
	}
}

// TryGoingToCommit succeeds unless either bit is already set. If
// task_use_count > 0 at the moment of the attempt, it is automatically
// turned into going_to_abort instead, so in-flight tasks observe an abort
// rather than a commit racing their completion (spec §4.H).
func (c *Context) TryGoingToCommit() bool {
	for {
		old := termination(c.state.Load())
		if old.terminating() {
			return false
		}
		var next termination
		if old.count() > 0 {
			next = termination(uint64(old) | abortBit)
		} else {
			next = termination(uint64(old) | commitBit)
		}
		if c.state.CompareAndSwap(uint64(old), uint64(next)) {
			return next.committing() && !next.aborting()
		}
	}
}

// TryGoingToAbort succeeds unless going_to_abort is already set; it
// always wins over a pending commit (spec §4.H).
func (c *Context) TryGoingToAbort() bool {
	for {
		old := termination(c.state.Load())
		if old.aborting() {
			return false
		}
		next := termination((uint64(old) &^ commitBit) | abortBit)
		if c.state.CompareAndSwap(uint64(old), uint64(next)) {
			return true
		}
	}
}

func (c *Context) Committing() bool { return termination(c.state.Load()).committing() }
func (c *Context) Aborting() bool   { return termination(c.state.Load()).aborting() }
func (c *Context) TaskUseCount() uint64 {
	return termination(c.state.Load()).count()
}

// --- Durability marker (spec §3, §4.H) ---

// DurabilityMarker returns the marker assigned by the store's commit
// callback, or (-1, false) before one has been assigned.
func (c *Context) DurabilityMarker() (int64, bool) {
	m := c.durabilityMarker.Load()
	return m, m >= 0
}

func (c *Context) setDurabilityMarker(m int64) { c.durabilityMarker.Store(m) }

// --- Blob-pool holds (spec §3: "a list of blob-pool holds") ---

// OpenLOBSession lazily opens this transaction's spool session the first
// time a statement writes a blob/clob field, reusing it for the rest of
// the transaction's lifetime. root is the configured lob_session_root
// (spec §6); signer mints the unforgeable reference tag spec §6 requires.
func (c *Context) OpenLOBSession(root string, signer *lob.Signer) (*lob.Session, error) {
	c.lobMu.Lock()
	defer c.lobMu.Unlock()
	if c.lobSession != nil {
		return c.lobSession, nil
	}
	s, err := lob.NewSession(root, c.SurrogateID, signer)
	if err != nil {
		return nil, err
	}
	c.lobSession = s
	return s, nil
}

// LOBSession returns the transaction's spool session, or nil if no
// blob/clob field has been written yet.
func (c *Context) LOBSession() *lob.Session {
	c.lobMu.Lock()
	defer c.lobMu.Unlock()
	return c.lobSession
}

// releaseLOBs closes the spool session, if one was opened, releasing its
// held files regardless of commit or abort outcome.
func (c *Context) releaseLOBs() {
	c.lobMu.Lock()
	s := c.lobSession
	c.lobMu.Unlock()
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		c.logger.Warn().Err(err).Uint64("tx", c.SurrogateID).Msg("lob session close failed")
	}
}

// --- Commit (spec §4.H, §3 "Commit") ---

// Commit transitions the transaction into committing and tells the
// storage handle to finalize it. If task_use_count was still positive at
// the moment of the attempt, TryGoingToCommit silently converts this into
// an abort, so exactly one of Handle.Commit/Handle.Abort ever runs for a
// given Context.
//
// When waitlist is non-nil, a successful Handle.Commit enqueues the
// transaction on it under marker rather than finishing synchronously;
// marker is whatever the caller assigned this commit attempt (spec §3:
// "the KV store ... asynchronously reports a durability marker" - this
// reference interface reports only a StatusCode from Commit, so marker
// assignment is the caller's responsibility, the same explicit-marker
// shape Waitlist.Wait already takes). When waitlist is nil the
// transaction is considered durable as soon as Handle.Commit returns,
// which is correct for a single-process store like pkg/kv/bbolt.
//
// Blob-pool holds opened for this transaction are released once the
// outcome is final, whether that is success, failure, or cancellation
// while durability-waiting.
func (c *Context) Commit(waitlist *Waitlist, marker int64, checker CancelChecker) *errs.Info {
	if !c.TryGoingToCommit() {
		if c.Committing() {
			return errs.New(errs.InactiveTransactionException, "transaction already committing")
		}
		c.Abort()
		return errs.New(errs.InactiveTransactionException, "commit raced in-flight tasks, transaction aborted")
	}
	if c.Handle == nil {
		c.releaseLOBs()
		metrics.TransactionsTotal.WithLabelValues("commit").Inc()
		return nil
	}

	finished := make(chan kv.StatusCode, 1)
	c.Handle.Commit(func(st kv.StatusCode) { finished <- st })
	status := <-finished

	finalize := func(st kv.StatusCode) {
		c.releaseLOBs()
		metrics.TransactionsTotal.WithLabelValues("commit").Inc()
		c.logger.Info().Uint64("tx", c.SurrogateID).Str("status", st.String()).Msg("transaction committed")
	}

	if waitlist != nil && status == kv.StatusOK {
		waitlist.Wait(marker, c, checker, finalize)
		return nil
	}

	finalize(status)
	if status != kv.StatusOK {
		return errs.New(status.ToErrCode(), "commit failed")
	}
	return nil
}

// --- Cancellation (spec §5) ---

func (c *Context) RequestCancel() { c.cancelRequested.Store(true) }
func (c *Context) CancelRequested() bool { return c.cancelRequested.Load() }

// Abort immediately transitions the transaction to aborting and tells the
// storage handle to roll back. Any subsequent write against Handle
// returns inactive_transaction_exception at the kv layer (spec §4.H).
func (c *Context) Abort() {
	c.TryGoingToAbort()
	if c.Handle != nil {
		c.Handle.Abort()
	}
	c.releaseLOBs()
	metrics.TransactionsTotal.WithLabelValues("abort").Inc()
	c.logger.Info().Uint64("tx", c.SurrogateID).Msg("transaction aborted")
}
