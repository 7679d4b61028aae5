// Package operator implements the per-process operator tree (spec §4.F):
// variable tables, operator contexts, and the record-based operator
// contracts (scan, filter, project, join, aggregate, emit, write,
// take/offer). Per spec §9's "Polymorphic operators" REDESIGN FLAG, this
// is a tagged-variant closed set (the Operator interface implemented by a
// handful of concrete structs) rather than the source's deep virtual
// inheritance; contexts are passed by reference, never stored by pointer
// across calls.
package operator

import (
	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// VarID is a stream variable identifier, scoped to one operator block
// (spec §3 "Variable table").
type VarID int

// varSlot is one entry of a VariableTable: where a stream variable lives
// in the block's current-tuple buffer.
type varSlot struct {
	valueOffset int
	nullBitOff  int // -1 if the field is non-nullable
	fieldType   record.Type
}

// VariableTable is the per-operator-block mapping from stream variable id
// to (value offset, nullity offset, field type), backed by a single
// record buffer holding the current tuple for the block (spec §3/§4.F).
// Variables flow between operators by passing through these tables -
// project writes into one, scan/take populate one, filter/emit read from
// one.
type VariableTable struct {
	meta   *record.Meta
	ids    []VarID
	slots  map[VarID]int // VarID -> index into ids/slots tables
	slotBy []varSlot

	buf    []byte
	varlen record.VarlenArena
}

// NewVariableTable builds a table over ids (in declaration order),
// allocating its current-tuple buffer from lifoArena. Each id's field
// type and nullability must be supplied in the same order as ids.
func NewVariableTable(lifoArena *arena.LIFO, varlen record.VarlenArena, ids []VarID, types []record.Type, nullable []bool) *VariableTable {
	meta := record.NewMeta(types, nullable)
	buf := lifoArena.Allocate(meta.Size(), meta.Alignment())

	vt := &VariableTable{
		meta:   meta,
		ids:    append([]VarID(nil), ids...),
		slots:  make(map[VarID]int, len(ids)),
		slotBy: make([]varSlot, len(ids)),
		buf:    buf,
		varlen: varlen,
	}
	for i, id := range ids {
		vt.slots[id] = i
		vt.slotBy[i] = varSlot{
			valueOffset: meta.ValueOffset(i),
			nullBitOff:  meta.NullBitOffset(i),
			fieldType:   meta.Field(i),
		}
	}
	return vt
}

// Ref returns a record reference over the block's current tuple.
func (vt *VariableTable) Ref() record.Ref { return record.NewRef(vt.buf, vt.varlen) }

// Meta returns the backing record metadata.
func (vt *VariableTable) Meta() *record.Meta { return vt.meta }

// Offset returns the value offset and nullity-bit offset of a bound
// variable, for use with record.Ref's typed accessors.
func (vt *VariableTable) Offset(id VarID) (valueOffset, nullBitOffset int, ft record.Type, ok bool) {
	idx, ok := vt.slots[id]
	if !ok {
		return 0, 0, record.Type{}, false
	}
	s := vt.slotBy[idx]
	return s.valueOffset, s.nullBitOff, s.fieldType, true
}

// IsNull reports whether the bound variable currently holds NULL.
func (vt *VariableTable) IsNull(id VarID) bool {
	_, nb, _, ok := vt.Offset(id)
	if !ok || nb < 0 {
		return false
	}
	return vt.Ref().IsNull(nb)
}

// SetNull sets or clears the nullity bit of a nullable bound variable.
func (vt *VariableTable) SetNull(id VarID, isNull bool) {
	_, nb, _, ok := vt.Offset(id)
	if !ok || nb < 0 {
		return
	}
	vt.Ref().SetNull(nb, isNull)
}

// CopyFrom overwrites this table's current tuple with src's raw bytes,
// re-homing any out-of-line character/octet payloads through dst's own
// varlen arena. Requires identical metadata (same field sequence and
// nullability, spec §3 metadata equality).
func CopyFrom(dst, src *VariableTable) {
	if !dst.meta.Equal(src.meta) {
		panic("operator: CopyFrom requires identical variable table metadata")
	}
	copy(dst.buf, src.buf)
	for i := 0; i < dst.meta.NumFields(); i++ {
		ft := dst.meta.Field(i)
		if ft.Kind != record.KindCharacter && ft.Kind != record.KindOctet {
			continue
		}
		nb := dst.meta.NullBitOffset(i)
		if nb >= 0 && src.Ref().IsNull(nb) {
			continue
		}
		off := dst.meta.ValueOffset(i)
		dst.Ref().SetBytes(off, src.Ref().GetBytes(off))
	}
}

// CopyVarTableInto overwrites dst (a freshly allocated record - the zeroed
// bytes container.IterableStore.Append returns) with src's current tuple,
// re-homing out-of-line character/octet payloads through dst's own
// varlen arena. src must share dst's record layout - this is what an
// exchange sink uses to copy an offered row into its own storage (spec
// §4.G).
func CopyVarTableInto(dst record.Ref, src *VariableTable) {
	copy(dst.RawBytes(), src.buf)
	for i := 0; i < src.meta.NumFields(); i++ {
		ft := src.meta.Field(i)
		if ft.Kind != record.KindCharacter && ft.Kind != record.KindOctet {
			continue
		}
		nb := src.meta.NullBitOffset(i)
		if nb >= 0 && src.Ref().IsNull(nb) {
			continue
		}
		off := src.meta.ValueOffset(i)
		dst.SetBytes(off, src.Ref().GetBytes(off))
	}
}

// CopyRefInto overwrites dst's current tuple with the bytes referenced by
// src, re-homing out-of-line character/octet payloads through dst's own
// varlen arena the same way CopyFrom does. src must share dst's record
// layout (the same field sequence and nullability) even though it is not
// itself bound to a VariableTable - this is what an exchange source uses
// to hand a row held in a container.IterableStore back to the operator
// that Take()s it (spec §4.G).
func CopyRefInto(dst *VariableTable, src record.Ref) {
	copy(dst.buf, src.RawBytes())
	for i := 0; i < dst.meta.NumFields(); i++ {
		ft := dst.meta.Field(i)
		if ft.Kind != record.KindCharacter && ft.Kind != record.KindOctet {
			continue
		}
		nb := dst.meta.NullBitOffset(i)
		if nb >= 0 && src.IsNull(nb) {
			continue
		}
		off := dst.meta.ValueOffset(i)
		dst.Ref().SetBytes(off, src.GetBytes(off))
	}
}
