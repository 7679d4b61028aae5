package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies one entry in the self-describing value stream (spec
// §4.B, §6).
type Tag byte

const (
	TagRow Tag = iota + 1
	TagNull
	TagInt
	TagFloat4
	TagFloat8
	TagCharacter
	TagOctet
	TagDecimal
	TagDate
	TagTimeOfDay
	TagTimeOfDayWithOffset
	TagTimePoint
	TagTimePointWithOffset
	TagBlob
	TagClob
)

// ProtocolViolation is raised (via panic) when the stream decoder meets an
// unknown tag - spec §4.B: "Deserialization is strict; an unknown tag is a
// fatal protocol violation."
type ProtocolViolation struct {
	Tag Tag
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("record: unknown stream tag %d", e.Tag)
}

// Encoder appends tagged values to an in-memory buffer. It is the
// producer side of the tuple stream encoding consumed by the emit
// operator and the result channel (spec §4.F, §6).
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }
func (e *Encoder) Reset()        { e.buf = e.buf[:0] }

func (e *Encoder) putTag(t Tag) { e.buf = append(e.buf, byte(t)) }

func (e *Encoder) WriteRow(n int) {
	e.putTag(TagRow)
	e.buf = binary.AppendVarint(e.buf, int64(n))
}

func (e *Encoder) WriteNull() { e.putTag(TagNull) }

func (e *Encoder) WriteInt(v int64) {
	e.putTag(TagInt)
	e.buf = binary.AppendVarint(e.buf, v)
}

func (e *Encoder) WriteFloat4(v float32) {
	e.putTag(TagFloat4)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) WriteFloat8(v float64) {
	e.putTag(TagFloat8)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) writeLenPrefixed(t Tag, data []byte) {
	e.putTag(t)
	e.buf = binary.AppendUvarint(e.buf, uint64(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *Encoder) WriteCharacter(s string) { e.writeLenPrefixed(TagCharacter, []byte(s)) }
func (e *Encoder) WriteOctet(b []byte)     { e.writeLenPrefixed(TagOctet, b) }

func (e *Encoder) WriteDecimal(d Decimal) {
	e.putTag(TagDecimal)
	var tmp [21]byte
	tmp[0] = byte(d.Sign)
	binary.LittleEndian.PutUint64(tmp[1:], d.Hi)
	binary.LittleEndian.PutUint64(tmp[9:], d.Lo)
	binary.LittleEndian.PutUint32(tmp[17:], uint32(d.Exponent))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) WriteDate(days int32) {
	e.putTag(TagDate)
	e.buf = binary.AppendVarint(e.buf, int64(days))
}

func (e *Encoder) WriteTimeOfDay(t TimeOfDay) {
	if t.HasOffset {
		e.putTag(TagTimeOfDayWithOffset)
		e.buf = binary.AppendVarint(e.buf, t.Nanos)
		e.buf = binary.AppendVarint(e.buf, int64(t.OffsetMinute))
		return
	}
	e.putTag(TagTimeOfDay)
	e.buf = binary.AppendVarint(e.buf, t.Nanos)
}

func (e *Encoder) WriteTimePoint(t TimePoint) {
	if t.HasOffset {
		e.putTag(TagTimePointWithOffset)
		e.buf = binary.AppendVarint(e.buf, t.UnixNanos)
		e.buf = binary.AppendVarint(e.buf, int64(t.OffsetMinute))
		return
	}
	e.putTag(TagTimePoint)
	e.buf = binary.AppendVarint(e.buf, t.UnixNanos)
}

// WriteBlob/WriteClob write a (provider, id, reference_tag) triple (spec
// §4.B, §6). referenceTag is produced by pkg/lob.
func (e *Encoder) WriteBlob(ref LOBRef, referenceTag []byte) { e.writeLOB(TagBlob, ref, referenceTag) }
func (e *Encoder) WriteClob(ref LOBRef, referenceTag []byte) { e.writeLOB(TagClob, ref, referenceTag) }

func (e *Encoder) writeLOB(t Tag, ref LOBRef, referenceTag []byte) {
	e.putTag(t)
	e.buf = append(e.buf, ref.Provider)
	e.buf = binary.AppendUvarint(e.buf, ref.ID)
	e.buf = binary.AppendUvarint(e.buf, uint64(len(referenceTag)))
	e.buf = append(e.buf, referenceTag...)
}

// Decoder walks a tagged value stream produced by Encoder.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) Done() bool { return d.pos >= len(d.buf) }

func (d *Decoder) PeekTag() Tag {
	if d.pos >= len(d.buf) {
		panic(&ProtocolViolation{})
	}
	return Tag(d.buf[d.pos])
}

func (d *Decoder) readTag() Tag {
	t := Tag(d.buf[d.pos])
	d.pos++
	return t
}

func (d *Decoder) readVarint() int64 {
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		panic(&ProtocolViolation{})
	}
	d.pos += n
	return v
}

func (d *Decoder) readUvarint() uint64 {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		panic(&ProtocolViolation{})
	}
	d.pos += n
	return v
}

func (d *Decoder) take(n int) []byte {
	if d.pos+n > len(d.buf) {
		panic(&ProtocolViolation{})
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

// ReadRow expects a TagRow and returns its field count. Panics with
// ProtocolViolation on any other tag.
func (d *Decoder) ReadRow() int {
	if d.readTag() != TagRow {
		panic(&ProtocolViolation{Tag: d.buf[d.pos-1]})
	}
	return int(d.readVarint())
}

// ReadValue decodes one tagged value, dispatching on its tag. The
// returned value's dynamic type depends on the tag: nil for TagNull,
// int64 for TagInt, float32/float64, string for TagCharacter, []byte for
// TagOctet, Decimal, int32 days for TagDate, TimeOfDay, TimePoint, or a
// LOBValue for TagBlob/TagClob.
func (d *Decoder) ReadValue() any {
	tag := d.readTag()
	switch tag {
	case TagNull:
		return nil
	case TagInt:
		return d.readVarint()
	case TagFloat4:
		return math.Float32frombits(binary.LittleEndian.Uint32(d.take(4)))
	case TagFloat8:
		return math.Float64frombits(binary.LittleEndian.Uint64(d.take(8)))
	case TagCharacter:
		n := int(d.readUvarint())
		return string(d.take(n))
	case TagOctet:
		n := int(d.readUvarint())
		return append([]byte(nil), d.take(n)...)
	case TagDecimal:
		raw := d.take(21)
		return Decimal{
			Sign:     int8(raw[0]),
			Hi:       binary.LittleEndian.Uint64(raw[1:9]),
			Lo:       binary.LittleEndian.Uint64(raw[9:17]),
			Exponent: int32(binary.LittleEndian.Uint32(raw[17:21])),
		}
	case TagDate:
		return int32(d.readVarint())
	case TagTimeOfDay:
		return TimeOfDay{Nanos: d.readVarint()}
	case TagTimeOfDayWithOffset:
		nanos := d.readVarint()
		off := d.readVarint()
		return TimeOfDay{Nanos: nanos, OffsetMinute: int32(off), HasOffset: true}
	case TagTimePoint:
		return TimePoint{UnixNanos: d.readVarint()}
	case TagTimePointWithOffset:
		nanos := d.readVarint()
		off := d.readVarint()
		return TimePoint{UnixNanos: nanos, OffsetMinute: int32(off), HasOffset: true}
	case TagBlob, TagClob:
		provider := d.take(1)[0]
		id := d.readUvarint()
		n := int(d.readUvarint())
		refTag := append([]byte(nil), d.take(n)...)
		return LOBValue{Ref: LOBRef{Provider: provider, ID: id}, ReferenceTag: refTag, IsClob: tag == TagClob}
	default:
		panic(&ProtocolViolation{Tag: tag})
	}
}

// LOBValue is the decoded form of a TagBlob/TagClob entry.
type LOBValue struct {
	Ref          LOBRef
	ReferenceTag []byte
	IsClob       bool
}
