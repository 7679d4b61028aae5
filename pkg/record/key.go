package record

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Order is the sort direction requested for a key-encoded column.
type Order int

const (
	Ascending Order = iota
	Descending
)

// NullOrder controls where NULL sorts relative to non-null values (spec
// §8 invariant 2).
type NullOrder int

const (
	NullsFirst NullOrder = iota
	NullsLast
)

const (
	nullByteIsNull    = 0x00
	nullByteIsNotNull = 0x01
)

// KeyEncoder builds an order-preserving byte key, matching the encoding
// rules of spec §4.B: floats sign-flipped so byte-lex order tracks
// numeric order (NaN sorts largest, +0/-0 normalized to the same
// encoding), and length-preserving framing for strings/octets so a
// shorter prefix sorts before a longer continuation.
type KeyEncoder struct {
	buf            []byte
	normalizeFloat bool
}

func NewKeyEncoder(normalizeFloat bool) *KeyEncoder {
	return &KeyEncoder{normalizeFloat: normalizeFloat}
}

func (k *KeyEncoder) Bytes() []byte { return k.buf }
func (k *KeyEncoder) Reset()        { k.buf = k.buf[:0] }

// PutNullable writes the leading nullity byte used by nullable key
// columns, then - if notNull is true - the caller is expected to follow
// up with the value's own Put* call.
func (k *KeyEncoder) PutNullable(isNull bool, order NullOrder) {
	b := byte(nullByteIsNotNull)
	if isNull {
		b = nullByteIsNull
	}
	// NullsFirst: null(0x00) < notNull(0x01), already correct.
	// NullsLast: flip so null sorts after.
	if order == NullsLast {
		b = 1 - b
	}
	k.buf = append(k.buf, b)
}

func flip(b []byte, order Order) {
	if order == Descending {
		for i := range b {
			b[i] = ^b[i]
		}
	}
}

func (k *KeyEncoder) PutInt64(v int64, order Order) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v)^(1<<63)) // sign flip for lex order
	flip(tmp[:], order)
	k.buf = append(k.buf, tmp[:]...)
}

func (k *KeyEncoder) PutInt32(v int32, order Order) { k.PutInt64(int64(v), order) }

// PutFloat64 encodes a float so that byte-lex order on the encoded form
// matches numeric order: flip the sign bit for positive numbers, flip
// every bit for negative numbers. NaN's bit pattern (with its sign bit
// forced positive) sorts above +Inf, matching "NaN sorts larger than
// +∞". When normalizeFloat is set, +0.0 and -0.0 encode identically.
func (k *KeyEncoder) PutFloat64(v float64, order Order) {
	var bits uint64
	switch {
	case math.IsNaN(v):
		// Canonical positive-sign, max-mantissa pattern: after the
		// sign-bit transform below this becomes the all-ones byte
		// sequence, which sorts larger than any finite value or +Inf.
		bits = 0x7FFFFFFFFFFFFFFF
	case k.normalizeFloat && v == 0:
		bits = 0 // fold +0.0/-0.0 to the same encoding
	default:
		bits = math.Float64bits(v)
	}
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], bits)
	flip(tmp[:], order)
	k.buf = append(k.buf, tmp[:]...)
}

func (k *KeyEncoder) PutFloat32(v float32, order Order) { k.PutFloat64(float64(v), order) }

// PutBytes encodes character/octet payloads so that a shorter string
// sorts before a longer one that shares its prefix: the raw bytes
// followed by a terminator that cannot appear mid-string (0x00 0x00), with any
// embedded 0x00 byte escaped as 0x00 0xFF.
func (k *KeyEncoder) PutBytes(b []byte, order Order) {
	start := len(k.buf)
	for _, c := range b {
		if c == 0x00 {
			k.buf = append(k.buf, 0x00, 0xFF)
		} else {
			k.buf = append(k.buf, c)
		}
	}
	k.buf = append(k.buf, 0x00, 0x00)
	flip(k.buf[start:], order)
}

func (k *KeyEncoder) PutBool(v bool, order Order) {
	b := byte(0)
	if v {
		b = 1
	}
	if order == Descending {
		b = 1 - b
	}
	k.buf = append(k.buf, b)
}

// Compare provides the total order used to validate spec §8 invariant 2 in
// tests: plain byte-wise lexicographic comparison of two encoded keys.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}
