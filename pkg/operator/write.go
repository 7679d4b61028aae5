package operator

import (
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
)

// KeyBuilder encodes the bound variable table's current tuple into a
// storage key, normally via record.KeyEncoder (spec §4.B order-preserving
// key encoding).
type KeyBuilder func(vt *VariableTable) []byte

// ValueBuilder encodes the bound variable table's current tuple into a
// storage value (spec §4.B tagged stream encoding).
type ValueBuilder func(vt *VariableTable) []byte

// Write issues one insert/upsert/update/delete against a storage (spec
// §4.F write: "insert, upsert, update and delete all reduce to one kv
// put call with a PutKind, mapping storage status codes to the engine's
// error taxonomy"). Delete skips the value builder.
type Write struct {
	Block   BlockIndex
	Storage string
	Kind    kv.PutKind
	Key     KeyBuilder
	Value   ValueBuilder
	Next    Operator
}

func (w *Write) Open(ctx *Context) *errs.Info {
	if w.Next != nil {
		return w.Next.Open(ctx)
	}
	return nil
}

func (w *Write) Process(ctx *Context) (bool, *errs.Info) {
	vt := ctx.Block(w.Block)
	key := w.Key(vt)
	var value []byte
	if w.Kind != kv.KindDelete && w.Value != nil {
		value = w.Value(vt)
	}
	status := ctx.Tx.Handle.Put(w.Storage, key, value, w.Kind)
	if status != kv.StatusOK {
		err := w.classify(status)
		ctx.Fail(err)
		return false, err
	}
	if w.Next == nil {
		return true, nil
	}
	return w.Next.Process(ctx)
}

// classify turns a raw storage outcome into the write-specific error the
// engine reports (spec §4.F, §7): insert against an existing key and
// update/delete against a missing one both surface as SQL-level
// exceptions rather than the storage layer's generic codes.
func (w *Write) classify(status kv.StatusCode) *errs.Info {
	switch {
	case status == kv.StatusAlreadyExists && w.Kind == kv.KindInsert:
		return errs.New(errs.UniqueConstraintViolationException, "duplicate key on insert")
	case status == kv.StatusNotFound && (w.Kind == kv.KindUpdate || w.Kind == kv.KindDelete):
		return errs.New(errs.TargetNotFoundException, "target row not found")
	default:
		return errs.New(status.ToErrCode(), "write failed: "+status.String())
	}
}

func (w *Write) Close(ctx *Context) *errs.Info {
	if w.Next != nil {
		return w.Next.Close(ctx)
	}
	return nil
}
