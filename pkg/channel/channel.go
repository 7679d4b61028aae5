// Package channel implements the record channel abstraction a statement's
// result set (or a dump-to-file request) is delivered through (spec §4.I).
// A channel is acquired by one or more writers; exactly one of them may be
// the "ordered" writer a query with ORDER BY requires, since only a single
// writer can guarantee the rows it emits arrive in the order it wrote
// them. Grounded on pkg/operator/emit.go's RecordWriter contract this
// package exists to satisfy, and on the builder-closure style of
// pkg/operator/write.go's KeyBuilder/ValueBuilder: row encoding
// is supplied by the caller as a closure over record.Encoder, not
// reimplemented here.
package channel

import (
	"sync"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/operator"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// DataWriter is the wire-level contract a transport data channel
// satisfies (spec §6): accepts already-encoded row bytes and an explicit
// commit call that flushes and closes the underlying stream.
type DataWriter interface {
	Write(data []byte) error
	Commit() error
}

// RowEncoder serializes a process step's current tuple into the
// self-describing tagged stream (spec §4.B) a result channel carries.
// Supplied by the caller (the compiled plan/engine), the same way
// operator.ValueBuilder is.
type RowEncoder func(vt *operator.VariableTable) []byte

// AcquiredWriter is what Channel.Acquire returns: an operator.RecordWriter
// plus the lower-level hooks pkg/channel's own dump writer needs to inject
// pre-encoded rows and to flush/commit at end of use.
type AcquiredWriter interface {
	operator.RecordWriter
	// WriteRaw appends an already tagged-stream-encoded row, bypassing the
	// VariableTable-bound encode path (used by DumpWriter to report
	// filenames back to a parent channel).
	WriteRaw(data []byte) *errs.Info
	// Close flushes any buffered rows and commits the underlying writer.
	Close() *errs.Info
}

// Channel is the abstraction pkg/operator's Emit binds against: something
// a process step can acquire one or more writers from.
type Channel interface {
	// Meta declares the result set's record metadata. Called once, before
	// any writer is acquired.
	Meta(m *record.Meta)
	// Acquire returns a new writer. ordered requests the single ordered
	// writer an ORDER BY query needs; acquiring a second ordered writer on
	// the same channel is a programming error, not a runtime one.
	Acquire(ordered bool) (AcquiredWriter, *errs.Info)
}

// RecordChannel is the reference Channel implementation: each acquired
// writer buffers encoded rows and flushes them to a transport DataWriter
// every flushEvery rows, or on Close.
type RecordChannel struct {
	acquire    func() (DataWriter, error)
	encode     RowEncoder
	flushEvery int

	mu              sync.Mutex
	meta            *record.Meta
	orderedAcquired bool
}

// New builds a RecordChannel. acquireFn opens a fresh transport data
// writer each time a channel writer is acquired (spec §6: the transport
// layer, not this package, owns the physical stream). flushEvery is the
// row count at which a writer flushes its buffer; 0 means "only on
// Close".
func New(acquireFn func() (DataWriter, error), encode RowEncoder, flushEvery int) *RecordChannel {
	return &RecordChannel{acquire: acquireFn, encode: encode, flushEvery: flushEvery}
}

func (c *RecordChannel) Meta(m *record.Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta = m
}

// ResultMeta returns the metadata last set via Meta, or nil if none has
// been declared yet.
func (c *RecordChannel) ResultMeta() *record.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

func (c *RecordChannel) Acquire(ordered bool) (AcquiredWriter, *errs.Info) {
	if ordered {
		c.mu.Lock()
		if c.orderedAcquired {
			c.mu.Unlock()
			return nil, errs.New(errs.InternalException, "channel: ordered writer already acquired")
		}
		c.orderedAcquired = true
		c.mu.Unlock()
	}
	dw, err := c.acquire()
	if err != nil {
		return nil, errs.New(errs.IOException, "channel: acquire data writer: "+err.Error())
	}
	return &Writer{dw: dw, encode: c.encode, flushEvery: c.flushEvery}, nil
}

// Writer buffers encoded rows and flushes them to its underlying
// transport DataWriter. It implements operator.RecordWriter, so a
// Writer acquired from a Channel binds directly into an Emit operator.
type Writer struct {
	dw         DataWriter
	encode     RowEncoder
	flushEvery int

	buf  []byte
	rows int
}

func (w *Writer) Write(vt *operator.VariableTable) *errs.Info {
	return w.WriteRaw(w.encode(vt))
}

func (w *Writer) WriteRaw(data []byte) *errs.Info {
	w.buf = append(w.buf, data...)
	w.rows++
	if w.flushEvery > 0 && w.rows >= w.flushEvery {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() *errs.Info {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.dw.Write(w.buf); err != nil {
		return errs.New(errs.IOException, "channel: write: "+err.Error())
	}
	w.buf = w.buf[:0]
	w.rows = 0
	return nil
}

func (w *Writer) Close() *errs.Info {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.dw.Commit(); err != nil {
		return errs.New(errs.IOException, "channel: commit: "+err.Error())
	}
	return nil
}
