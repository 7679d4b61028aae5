package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Ref is an unowned (pointer, length) view over a record's bytes, plus the
// varlen arena that resolves out-of-line character/octet payloads. It
// never owns memory (spec §3): constructing, copying or dropping a Ref
// never allocates or frees the underlying buffer.
type Ref struct {
	buf    []byte
	varlen VarlenArena
}

// NewRef wraps buf (which must be at least meta.Size() bytes) as a record
// reference. varlen may be nil if the record contains no character/octet
// fields that overflow their inline form.
func NewRef(buf []byte, varlen VarlenArena) Ref {
	return Ref{buf: buf, varlen: varlen}
}

func (r Ref) Len() int { return len(r.buf) }

// RawBytes exposes the record's backing bytes directly. Used by callers
// (pkg/container's FIFO record store) that need to bulk-copy a record's
// fixed-size portion before re-homing any out-of-line varlen payloads.
func (r Ref) RawBytes() []byte { return r.buf }

func (r Ref) checkBounds(offset, size int) {
	if offset < 0 || size < 0 || offset+size > len(r.buf) {
		panic(fmt.Sprintf("record: access [%d:%d] out of bounds for length %d", offset, offset+size, len(r.buf)))
	}
}

// IsNull reports the nullity bit at the given bit offset within the
// leading nullability bitmap.
func (r Ref) IsNull(nullBitOffset int) bool {
	if nullBitOffset < 0 {
		return false
	}
	byteIdx := nullBitOffset / 8
	bit := uint(nullBitOffset % 8)
	r.checkBounds(byteIdx, 1)
	return r.buf[byteIdx]&(1<<bit) != 0
}

// SetNull sets or clears the nullity bit at the given bit offset.
func (r Ref) SetNull(nullBitOffset int, isNull bool) {
	if nullBitOffset < 0 {
		return
	}
	byteIdx := nullBitOffset / 8
	bit := uint(nullBitOffset % 8)
	r.checkBounds(byteIdx, 1)
	if isNull {
		r.buf[byteIdx] |= 1 << bit
	} else {
		r.buf[byteIdx] &^= 1 << bit
	}
}

func (r Ref) GetBool(offset int) bool {
	r.checkBounds(offset, 1)
	return r.buf[offset] != 0
}

func (r Ref) SetBool(offset int, v bool) {
	r.checkBounds(offset, 1)
	if v {
		r.buf[offset] = 1
	} else {
		r.buf[offset] = 0
	}
}

func (r Ref) GetInt8(offset int) int8 {
	r.checkBounds(offset, 1)
	return int8(r.buf[offset])
}

func (r Ref) SetInt8(offset int, v int8) {
	r.checkBounds(offset, 1)
	r.buf[offset] = byte(v)
}

func (r Ref) GetInt16(offset int) int16 {
	r.checkBounds(offset, 2)
	return int16(binary.LittleEndian.Uint16(r.buf[offset:]))
}

func (r Ref) SetInt16(offset int, v int16) {
	r.checkBounds(offset, 2)
	binary.LittleEndian.PutUint16(r.buf[offset:], uint16(v))
}

func (r Ref) GetInt32(offset int) int32 {
	r.checkBounds(offset, 4)
	return int32(binary.LittleEndian.Uint32(r.buf[offset:]))
}

func (r Ref) SetInt32(offset int, v int32) {
	r.checkBounds(offset, 4)
	binary.LittleEndian.PutUint32(r.buf[offset:], uint32(v))
}

func (r Ref) GetInt64(offset int) int64 {
	r.checkBounds(offset, 8)
	return int64(binary.LittleEndian.Uint64(r.buf[offset:]))
}

func (r Ref) SetInt64(offset int, v int64) {
	r.checkBounds(offset, 8)
	binary.LittleEndian.PutUint64(r.buf[offset:], uint64(v))
}

func (r Ref) GetFloat32(offset int) float32 {
	return math.Float32frombits(uint32(r.GetInt32(offset)))
}

func (r Ref) SetFloat32(offset int, v float32) {
	r.SetInt32(offset, int32(math.Float32bits(v)))
}

func (r Ref) GetFloat64(offset int) float64 {
	return math.Float64frombits(uint64(r.GetInt64(offset)))
}

func (r Ref) SetFloat64(offset int, v float64) {
	r.SetInt64(offset, int64(math.Float64bits(v)))
}

// Decimal is the signed-triple representation from spec §3:
// (sign, hi64, lo64, exponent).
type Decimal struct {
	Sign     int8 // -1, 0, +1
	Hi       uint64
	Lo       uint64
	Exponent int32
}

func (r Ref) GetDecimal(offset int) Decimal {
	r.checkBounds(offset, 24)
	return Decimal{
		Sign:     int8(r.buf[offset]),
		Hi:       binary.LittleEndian.Uint64(r.buf[offset+4:]),
		Lo:       binary.LittleEndian.Uint64(r.buf[offset+12:]),
		Exponent: int32(binary.LittleEndian.Uint32(r.buf[offset+20:])),
	}
}

func (r Ref) SetDecimal(offset int, d Decimal) {
	r.checkBounds(offset, 24)
	r.buf[offset] = byte(d.Sign)
	binary.LittleEndian.PutUint64(r.buf[offset+4:], d.Hi)
	binary.LittleEndian.PutUint64(r.buf[offset+12:], d.Lo)
	binary.LittleEndian.PutUint32(r.buf[offset+20:], uint32(d.Exponent))
}

const (
	shortStringInlineMax = 15
	shortStringOverflow  = 0xFF
)

// GetBytes returns the bytes of a character/octet field, resolving an
// out-of-line handle through the Ref's VarlenArena when necessary.
func (r Ref) GetBytes(offset int) []byte {
	r.checkBounds(offset, shortStringSize)
	tag := r.buf[offset]
	if tag != shortStringOverflow {
		n := int(tag)
		return append([]byte(nil), r.buf[offset+1:offset+1+n]...)
	}
	if r.varlen == nil {
		panic("record: out-of-line string field with no VarlenArena bound")
	}
	handle := binary.LittleEndian.Uint64(r.buf[offset+1:])
	length := binary.LittleEndian.Uint32(r.buf[offset+9:])
	data := r.varlen.Get(handle)
	if uint32(len(data)) < length {
		panic("record: varlen handle resolved to truncated payload")
	}
	return data[:length]
}

// SetBytes stores a character/octet value, inlining it when it fits in 15
// bytes and otherwise pushing it through the bound VarlenArena.
func (r Ref) SetBytes(offset int, data []byte) {
	r.checkBounds(offset, shortStringSize)
	if len(data) <= shortStringInlineMax {
		r.buf[offset] = byte(len(data))
		copy(r.buf[offset+1:], data)
		for i := len(data); i < shortStringInlineMax; i++ {
			r.buf[offset+1+i] = 0
		}
		return
	}
	if r.varlen == nil {
		panic("record: value exceeds inline length with no VarlenArena bound")
	}
	handle := r.varlen.Put(data)
	r.buf[offset] = shortStringOverflow
	binary.LittleEndian.PutUint64(r.buf[offset+1:], handle)
	binary.LittleEndian.PutUint32(r.buf[offset+9:], uint32(len(data)))
}

func (r Ref) GetString(offset int) string  { return string(r.GetBytes(offset)) }
func (r Ref) SetString(offset int, s string) { r.SetBytes(offset, []byte(s)) }

// GetDate returns days since the epoch.
func (r Ref) GetDate(offset int) int32 { return r.GetInt32(offset) }
func (r Ref) SetDate(offset int, days int32) { r.SetInt32(offset, days) }

// TimeOfDay is nanoseconds since midnight, with an optional UTC offset in
// minutes when the field type carries a zone.
type TimeOfDay struct {
	Nanos        int64
	OffsetMinute int32
	HasOffset    bool
}

func (r Ref) GetTimeOfDay(offset int, withOffset bool) TimeOfDay {
	t := TimeOfDay{Nanos: r.GetInt64(offset), HasOffset: withOffset}
	if withOffset {
		t.OffsetMinute = r.GetInt32(offset + 8)
	}
	return t
}

func (r Ref) SetTimeOfDay(offset int, t TimeOfDay) {
	r.SetInt64(offset, t.Nanos)
	if t.HasOffset {
		r.SetInt32(offset+8, t.OffsetMinute)
	}
}

// TimePoint is nanoseconds since the Unix epoch, with an optional UTC
// offset in minutes.
type TimePoint struct {
	UnixNanos    int64
	OffsetMinute int32
	HasOffset    bool
}

func (r Ref) GetTimePoint(offset int, withOffset bool) TimePoint {
	t := TimePoint{UnixNanos: r.GetInt64(offset), HasOffset: withOffset}
	if withOffset {
		t.OffsetMinute = r.GetInt32(offset + 8)
	}
	return t
}

func (r Ref) SetTimePoint(offset int, t TimePoint) {
	r.SetInt64(offset, t.UnixNanos)
	if t.HasOffset {
		r.SetInt32(offset+8, t.OffsetMinute)
	}
}

// LOBRef identifies a large object never materialized in the record body
// (spec §3, §6): a (provider, id) pair, plus the reference tag computed by
// pkg/lob when the value crosses the wire.
type LOBRef struct {
	Provider uint8
	ID       uint64
}

func (r Ref) GetBlobRef(offset int) LOBRef { return r.getLOBRef(offset) }
func (r Ref) SetBlobRef(offset int, v LOBRef) { r.setLOBRef(offset, v) }
func (r Ref) GetClobRef(offset int) LOBRef { return r.getLOBRef(offset) }
func (r Ref) SetClobRef(offset int, v LOBRef) { r.setLOBRef(offset, v) }

func (r Ref) getLOBRef(offset int) LOBRef {
	r.checkBounds(offset, blobRefSize)
	return LOBRef{
		Provider: r.buf[offset],
		ID:       binary.LittleEndian.Uint64(r.buf[offset+1:]),
	}
}

func (r Ref) setLOBRef(offset int, v LOBRef) {
	r.checkBounds(offset, blobRefSize)
	r.buf[offset] = v.Provider
	binary.LittleEndian.PutUint64(r.buf[offset+1:], v.ID)
}

// GetPointer/SetPointer carry the internal arena-handle field appended to
// group keys (spec §4.B). It is never exposed as a SQL value.
func (r Ref) GetPointer(offset int) uint64     { return binary.LittleEndian.Uint64(r.bytesAt(offset, 8)) }
func (r Ref) SetPointer(offset int, v uint64) {
	r.checkBounds(offset, 8)
	binary.LittleEndian.PutUint64(r.buf[offset:], v)
}

func (r Ref) bytesAt(offset, size int) []byte {
	r.checkBounds(offset, size)
	return r.buf[offset : offset+size]
}
