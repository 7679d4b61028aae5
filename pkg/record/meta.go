package record

// Meta is record metadata: an ordered sequence of field types plus a
// nullability bitmap, together with the derived offset tables computed by
// the layout rule in spec §3/§4.B.
type Meta struct {
	fields     []Type
	nullable   []bool
	valueOff   []int // byte offset of each field's value
	nullBitOff []int // bit offset (within the leading bitmap) of each
	// nullable field's null bit, or -1 if the field is not nullable
	align int
	size  int
}

// NewMeta computes a record layout from a field-type sequence and a
// parallel nullability bitmap, following spec §3's layout rule: nullity
// bits occupy a leading contiguous bitmap aligned to a byte, then fields
// are placed in declaration order at increasing offsets, each aligned to
// its natural alignment.
func NewMeta(fields []Type, nullable []bool) *Meta {
	if len(fields) != len(nullable) {
		panic("record: fields and nullable must have the same length")
	}

	nullableCount := 0
	for _, n := range nullable {
		if n {
			nullableCount++
		}
	}
	bitmapBytes := (nullableCount + 7) / 8

	m := &Meta{
		fields:     append([]Type(nil), fields...),
		nullable:   append([]bool(nil), nullable...),
		valueOff:   make([]int, len(fields)),
		nullBitOff: make([]int, len(fields)),
		align:      1,
	}

	bit := 0
	for i, n := range nullable {
		if n {
			m.nullBitOff[i] = bit
			bit++
		} else {
			m.nullBitOff[i] = -1
		}
	}

	offset := bitmapBytes
	for i, f := range fields {
		a := f.Align()
		if a > m.align {
			m.align = a
		}
		offset = alignUp(offset, a)
		m.valueOff[i] = offset
		offset += f.Size()
	}
	m.size = alignUp(offset, m.align)
	return m
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

func (m *Meta) NumFields() int       { return len(m.fields) }
func (m *Meta) Field(i int) Type     { return m.fields[i] }
func (m *Meta) Nullable(i int) bool  { return m.nullable[i] }
func (m *Meta) ValueOffset(i int) int {
	return m.valueOff[i]
}

// NullBitOffset returns the bit offset of field i's null bit, or -1 if the
// field was declared non-nullable.
func (m *Meta) NullBitOffset(i int) int {
	return m.nullBitOff[i]
}

func (m *Meta) Alignment() int { return m.align }
func (m *Meta) Size() int      { return m.size }

// Equal implements spec §3's metadata equality: identical field sequence
// and identical nullability.
func (m *Meta) Equal(o *Meta) bool {
	if m == o {
		return true
	}
	if o == nil || len(m.fields) != len(o.fields) {
		return false
	}
	for i := range m.fields {
		if !m.fields[i].Equal(o.fields[i]) || m.nullable[i] != o.nullable[i] {
			return false
		}
	}
	return true
}

// WithAppendedPointer returns a new Meta with an internal pointer-typed
// field appended, non-nullable. Spec §4.B: group keys get a pointer field
// appended internally so the value store can hang off the key without an
// extra lookup.
func (m *Meta) WithAppendedPointer() *Meta {
	fields := append(append([]Type(nil), m.fields...), PointerType())
	nullable := append(append([]bool(nil), m.nullable...), false)
	return NewMeta(fields, nullable)
}
