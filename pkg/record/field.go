// Package record implements the typed, arena-backed record representation
// described in spec §3/§4.B: field-type descriptors, record metadata and
// layout, an unowned record reference with bounds-checked typed accessors,
// and the tagged stream/key encodings used to move values across process
// and wire boundaries.
package record

// Kind is the tag of a field type descriptor (spec §3).
type Kind int

const (
	KindBoolean Kind = iota
	KindInt1
	KindInt2
	KindInt4
	KindInt8
	KindFloat4
	KindFloat8
	KindDecimal
	KindCharacter
	KindOctet
	KindDate
	KindTimeOfDay
	KindTimePoint
	KindBlobRef
	KindClobRef
	KindPointer // internal-only, appended to group keys (spec §4.B)
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInt1:
		return "int1"
	case KindInt2:
		return "int2"
	case KindInt4:
		return "int4"
	case KindInt8:
		return "int8"
	case KindFloat4:
		return "float4"
	case KindFloat8:
		return "float8"
	case KindDecimal:
		return "decimal"
	case KindCharacter:
		return "character"
	case KindOctet:
		return "octet"
	case KindDate:
		return "date"
	case KindTimeOfDay:
		return "time_of_day"
	case KindTimePoint:
		return "time_point"
	case KindBlobRef:
		return "blob_ref"
	case KindClobRef:
		return "clob_ref"
	case KindPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// Type is the tagged field-type descriptor. Only the fields relevant to
// Kind are meaningful; the zero Type is an invalid placeholder.
type Type struct {
	Kind Kind

	// Decimal.
	Precision int
	Scale     int

	// Character / Octet.
	Varying bool
	Length  int // declared max length; the runtime form is always the
	// 16-byte short-string-optimized representation regardless of Length.

	// TimeOfDay / TimePoint.
	WithOffset bool
}

func Boolean() Type               { return Type{Kind: KindBoolean} }
func Int1() Type                  { return Type{Kind: KindInt1} }
func Int2() Type                  { return Type{Kind: KindInt2} }
func Int4() Type                  { return Type{Kind: KindInt4} }
func Int8() Type                  { return Type{Kind: KindInt8} }
func Float4() Type                { return Type{Kind: KindFloat4} }
func Float8() Type                { return Type{Kind: KindFloat8} }
func DecimalType(precision, scale int) Type {
	return Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}
func Character(varying bool, length int) Type {
	return Type{Kind: KindCharacter, Varying: varying, Length: length}
}
func Octet(varying bool, length int) Type {
	return Type{Kind: KindOctet, Varying: varying, Length: length}
}
func Date() Type { return Type{Kind: KindDate} }
func TimeOfDayType(withOffset bool) Type {
	return Type{Kind: KindTimeOfDay, WithOffset: withOffset}
}
func TimePointType(withOffset bool) Type {
	return Type{Kind: KindTimePoint, WithOffset: withOffset}
}
func BlobRef() Type    { return Type{Kind: KindBlobRef} }
func ClobRef() Type    { return Type{Kind: KindClobRef} }
func PointerType() Type { return Type{Kind: KindPointer} }

// Equal reports whether two field types describe the same runtime layout
// and SQL semantics (spec §3: "Equality of two metadata objects requires
// identical field sequence").
func (t Type) Equal(o Type) bool {
	return t == o
}

// shortStringSize is the runtime size in bytes of the short-string
// optimized form used for character/octet fields (spec §3): up to 15
// bytes inline in 16, else an out-of-line arena reference.
const shortStringSize = 16

// blobRefSize is the runtime size of a (provider, id) large-object
// reference (spec §3); never materialized alongside the record body.
const blobRefSize = 16

// Size returns the in-record byte width of the value (not including any
// nullity bit, which lives in the leading bitmap).
func (t Type) Size() int {
	switch t.Kind {
	case KindBoolean, KindInt1:
		return 1
	case KindInt2:
		return 2
	case KindInt4, KindFloat4, KindDate:
		return 4
	case KindInt8, KindFloat8:
		return 8
	case KindDecimal:
		return 24 // sign(1, padded) + hi64(8) + lo64(8) + exponent(4), aligned to 8
	case KindCharacter, KindOctet:
		return shortStringSize
	case KindTimeOfDay:
		if t.WithOffset {
			return 16 // nanos-of-day int64 + offset-minutes int32, padded to 8
		}
		return 8
	case KindTimePoint:
		if t.WithOffset {
			return 16
		}
		return 8
	case KindBlobRef, KindClobRef:
		return blobRefSize
	case KindPointer:
		return 8
	default:
		return 0
	}
}

// Align returns the natural alignment of the value, used by the layout
// computer to place fields (spec §3 layout rule).
func (t Type) Align() int {
	switch t.Kind {
	case KindBoolean, KindInt1:
		return 1
	case KindInt2:
		return 2
	case KindInt4, KindFloat4, KindDate:
		return 4
	default:
		return 8
	}
}
