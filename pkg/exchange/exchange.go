// Package exchange implements the three exchange kinds that connect
// process steps (spec §4.G): a pass-through forward exchange, a
// hash-partitioned group (shuffle) exchange whose sources emit rows in
// key order so consecutive equal keys form a group, and an incremental
// aggregate exchange that pre-combines partial aggregates per partition
// before a source finalizes them. Every exchange's sink/source endpoints
// implement operator.Sink/operator.Source (spec §4.F offer/take), so the
// operator tree pulls from and pushes to an exchange without importing
// this package.
//
// Grounded on pkg/flow's Activator hook (an exchange's Flow.Activator
// builds its sinks/sources once, on activation - spec §4.E: "for
// exchanges, sets up initial sinks/sources") and pkg/container's
// PointerTable/IterableStore (spec §4.C) for the group exchange's
// per-partition storage.
package exchange

import (
	"github.com/project-tsurugi/sqlengine/pkg/operator"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// KeyField is one resolved column of a partition/group/sort key: its byte
// offset and null-bit offset within a record sharing the exchange's
// metadata (vt.Offset resolves to the same layout the exchange's own
// IterableStore rows use, since Offer requires identical metadata), its
// declared type (to dispatch the typed key encoding) and sort order.
type KeyField struct {
	ValueOffset   int
	NullBitOffset int // -1 if non-nullable
	Type          record.Type
	Order         record.Order
}

// ResolveKeyFields looks up ids against vt once, at exchange construction
// time, producing the (offset, type) tuples EncodeKeyRef needs. vt only
// has to share the row layout every Offer call will use - its current
// tuple contents are irrelevant here.
func ResolveKeyFields(vt *operator.VariableTable, ids []operator.VarID, orders []record.Order) []KeyField {
	fields := make([]KeyField, len(ids))
	for i, id := range ids {
		off, nb, ft, _ := vt.Offset(id)
		fields[i] = KeyField{ValueOffset: off, NullBitOffset: nb, Type: ft, Order: orders[i]}
	}
	return fields
}

// EncodeKeyRef builds the order-preserving key bytes (spec §4.B) for any
// record.Ref sharing the layout fields was resolved against - the current
// tuple of a VariableTable at Offer time, or a row already living in the
// exchange's own IterableStore at merge/sort time.
func EncodeKeyRef(ref record.Ref, fields []KeyField, normalizeFloat bool) []byte {
	enc := record.NewKeyEncoder(normalizeFloat)
	for _, f := range fields {
		isNull := f.NullBitOffset >= 0 && ref.IsNull(f.NullBitOffset)
		if f.NullBitOffset >= 0 {
			enc.PutNullable(isNull, record.NullsFirst)
		}
		if isNull {
			continue
		}
		putTyped(enc, ref, f)
	}
	return enc.Bytes()
}

func putTyped(enc *record.KeyEncoder, ref record.Ref, f KeyField) {
	off := f.ValueOffset
	switch f.Type.Kind {
	case record.KindBoolean:
		enc.PutBool(ref.GetBool(off), f.Order)
	case record.KindInt1:
		enc.PutInt64(int64(ref.GetInt8(off)), f.Order)
	case record.KindInt2:
		enc.PutInt64(int64(ref.GetInt16(off)), f.Order)
	case record.KindInt4, record.KindDate:
		enc.PutInt64(int64(ref.GetInt32(off)), f.Order)
	case record.KindInt8:
		enc.PutInt64(ref.GetInt64(off), f.Order)
	case record.KindFloat4:
		enc.PutFloat32(ref.GetFloat32(off), f.Order)
	case record.KindFloat8:
		enc.PutFloat64(ref.GetFloat64(off), f.Order)
	case record.KindCharacter, record.KindOctet:
		enc.PutBytes(ref.GetBytes(off), f.Order)
	case record.KindTimeOfDay:
		enc.PutInt64(ref.GetTimeOfDay(off, f.Type.WithOffset).Nanos, f.Order)
	case record.KindTimePoint:
		enc.PutInt64(ref.GetTimePoint(off, f.Type.WithOffset).UnixNanos, f.Order)
	}
}

// Hash64 mixes key into a 64-bit value using MurmurHash3's fmix64
// finalizer over an FNV-1a fold of the key bytes (spec §4.G: "Hash
// partitioning uses a 64-bit mix"), so variable-length keys hash
// uniformly without a SIMD-width primitive.
func Hash64(key []byte) uint64 {
	const (
		fnvOffset = 14695981039346656037
		fnvPrime  = 1099511628211
	)
	h := uint64(fnvOffset)
	for _, b := range key {
		h ^= uint64(b)
		h *= fnvPrime
	}
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// PartitionOf returns which of numPartitions downstream shards key routes
// to (spec §4.G, §8 invariant 3: "all rows with key k land in the same
// partition h(k) mod |P|").
func PartitionOf(key []byte, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	return int(Hash64(key) % uint64(numPartitions))
}
