package operator

import (
	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/txn"
)

// BlockIndex identifies which variable table an operator reads/writes
// (spec §4.F: "Each operator has a block_index identifying which variable
// table it reads/writes").
type BlockIndex int

// Context binds an operator to a task's execution state: pointers to
// input readers, output writers, the variable tables for every block in
// this operator tree, its scratch arenas, and the owning transaction
// (spec §4.F).
type Context struct {
	Tx     *txn.Context
	Scratch *arena.LIFO // operator scratch / expression evaluation (spec §4.A)
	Varlen  *arena.FIFO // arena backing inter-operator queues, if this context owns one

	blocks map[BlockIndex]*VariableTable

	errSlot errs.Slot
}

// NewContext constructs an operator context for one task.
func NewContext(tx *txn.Context, scratch *arena.LIFO) *Context {
	return &Context{Tx: tx, Scratch: scratch, blocks: make(map[BlockIndex]*VariableTable)}
}

// BindBlock registers vt as the variable table for block index bi.
func (c *Context) BindBlock(bi BlockIndex, vt *VariableTable) { c.blocks[bi] = vt }

// Block returns the variable table bound to block index bi.
func (c *Context) Block(bi BlockIndex) *VariableTable { return c.blocks[bi] }

// Fail records info both on this context's own slot and the owning
// transaction's error slot (first-writer-wins on each, spec §4.I).
func (c *Context) Fail(info *errs.Info) {
	c.errSlot.Set(info)
	if c.Tx != nil {
		c.Tx.SetError(info)
	}
}

// Err returns the first error recorded on this context, if any.
func (c *Context) Err() *errs.Info { return c.errSlot.Get() }
