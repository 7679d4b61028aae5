package exchange

import (
	"math/big"
	"sync"

	"github.com/project-tsurugi/sqlengine/pkg/arena"
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/flow"
	"github.com/project-tsurugi/sqlengine/pkg/metrics"
	"github.com/project-tsurugi/sqlengine/pkg/operator"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// AggColumn is one column of an Aggregate exchange's partial-aggregate
// state (spec §4.G: "an incremental aggregate exchange pre-combines
// partial aggregates per partition before a source finalizes them"). It
// reuses operator.AggFunc's closed function set so a plan built around
// operator.Aggregate and one built around exchange.Aggregate agree on
// what "sum"/"avg"/"min"/"max" mean.
type AggColumn struct {
	Func operator.AggFunc
	// Star marks a bare count(*): every offered row increments the
	// counter regardless of nullity, and ValueOffset/NullOffset/Type are
	// unused (spec §4.F: count's input is optional).
	Star        bool
	ValueOffset int
	NullOffset  int // -1 if non-nullable
	Type        record.Type
	Output      operator.VarID
}

// AggregateConfig configures an Aggregate exchange: the group-by key
// (shared with the shuffle that feeds it), the columns to combine, and
// where a finalized group's values land in a Take caller's variable
// table.
type AggregateConfig struct {
	KeyFields      []KeyField
	GroupOutputs   []operator.VarID // same length and order as KeyFields
	Columns        []AggColumn
	Partitions     int
	NormalizeFloat bool
}

// Aggregate is the incremental aggregate exchange (spec §4.G): sinks fold
// each offered row directly into its group's running partial state
// (sum/count/min/max), keyed by the hash-partitioned group-by key, so no
// row ever touches durable storage - only one accumulator per group per
// partition is kept in memory. A source's Take drains its partition's
// groups once, computing avg = sum/count at that point (spec §4.F
// "decomposed into a running sum and count, only divided at finalize
// time").
type Aggregate struct {
	cfg  AggregateConfig
	pool *arena.PagePool
	bins []*aggBin
}

type aggBin struct {
	mu     sync.Mutex
	groups map[string]*aggGroupState
	order  []string
}

type aggGroupState struct {
	keyBytes []byte
	keyVals  []any
	sum      []record.Decimal
	count    []int64
	min      []any
	max      []any
	seen     []bool
}

// NewAggregate builds an Aggregate exchange with one accumulator bin per
// downstream partition.
func NewAggregate(pool *arena.PagePool, cfg AggregateConfig) *Aggregate {
	a := &Aggregate{cfg: cfg, pool: pool, bins: make([]*aggBin, cfg.Partitions)}
	for i := range a.bins {
		a.bins[i] = &aggBin{groups: make(map[string]*aggGroupState)}
	}
	return a
}

// Activator is a no-op beyond construction - every partition's
// accumulator map already exists once NewAggregate returns (spec §4.E).
func (a *Aggregate) Activator() func(*flow.Flow) { return func(*flow.Flow) {} }

// Sink returns the producer-side endpoint fed by upstream partition i.
// Like Group, every sink routes into whichever downstream bin its row's
// key hashes to, independent of i.
func (a *Aggregate) Sink(i int) operator.Sink { return &aggregateSink{a: a} }

// Source returns the consumer-side endpoint draining downstream
// partition i's combined groups.
func (a *Aggregate) Source(i int) operator.Source { return a.bins[i].newReader(&a.cfg) }

type aggregateSink struct{ a *Aggregate }

func (s *aggregateSink) Offer(vt *operator.VariableTable) *errs.Info {
	cfg := s.a.cfg
	ref := vt.Ref()
	key := EncodeKeyRef(ref, cfg.KeyFields, cfg.NormalizeFloat)
	idx := PartitionOf(key, cfg.Partitions)
	bin := s.a.bins[idx]

	bin.mu.Lock()
	defer bin.mu.Unlock()
	gs, ok := bin.groups[string(key)]
	if !ok {
		keyVals := make([]any, len(cfg.KeyFields))
		for i, f := range cfg.KeyFields {
			if f.NullBitOffset >= 0 && ref.IsNull(f.NullBitOffset) {
				continue
			}
			keyVals[i] = readTyped(ref, f.ValueOffset, f.Type)
		}
		gs = &aggGroupState{
			keyBytes: append([]byte(nil), key...),
			keyVals:  keyVals,
			sum:      make([]record.Decimal, len(cfg.Columns)),
			count:    make([]int64, len(cfg.Columns)),
			min:      make([]any, len(cfg.Columns)),
			max:      make([]any, len(cfg.Columns)),
			seen:     make([]bool, len(cfg.Columns)),
		}
		bin.groups[string(key)] = gs
		bin.order = append(bin.order, string(key))
	}
	for i, col := range cfg.Columns {
		if col.Star {
			gs.count[i]++
			continue
		}
		if col.NullOffset >= 0 && ref.IsNull(col.NullOffset) {
			continue
		}
		v := readTyped(ref, col.ValueOffset, col.Type)
		gs.seen[i] = true
		switch col.Func {
		case operator.AggCount:
			gs.count[i]++
		case operator.AggSum, operator.AggAvg:
			gs.sum[i] = addDecimal(gs.sum[i], toDecimal(v))
			gs.count[i]++
		case operator.AggMin:
			if gs.min[i] == nil || lessTyped(v, gs.min[i]) {
				gs.min[i] = v
			}
		case operator.AggMax:
			if gs.max[i] == nil || lessTyped(gs.max[i], v) {
				gs.max[i] = v
			}
		}
	}
	metrics.ExchangeRowsTransferred.WithLabelValues("aggregate").Inc()
	return nil
}

// newReader snapshots a bin's current groups into a draining list. Called
// once the upstream process step's tasks have all completed, mirroring
// Group.Flush's "seal on exhaustion" timing.
func (b *aggBin) newReader(cfg *AggregateConfig) *aggregateSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	groups := make([]*aggGroupState, len(b.order))
	for i, k := range b.order {
		groups[i] = b.groups[k]
	}
	return &aggregateSource{cfg: cfg, groups: groups}
}

type aggregateSource struct {
	cfg    *AggregateConfig
	groups []*aggGroupState
	pos    int
}

func (s *aggregateSource) Take(vt *operator.VariableTable) (bool, *errs.Info) {
	if s.pos >= len(s.groups) {
		return false, nil
	}
	gs := s.groups[s.pos]
	s.pos++
	return true, writeGroupInto(vt, s.cfg, gs)
}

// writeGroupInto finalizes one group - computing avg = sum/count where
// needed - and writes its key values and aggregate results into vt at the
// variable ids AggregateConfig.GroupOutputs/AggColumn.Output name (spec
// §4.F finalize).
func writeGroupInto(vt *operator.VariableTable, cfg *AggregateConfig, gs *aggGroupState) *errs.Info {
	for i, outID := range cfg.GroupOutputs {
		if err := writeVar(vt, outID, gs.keyVals[i]); err != nil {
			return err
		}
	}
	for i, col := range cfg.Columns {
		var v any
		switch col.Func {
		case operator.AggCount:
			v = gs.count[i]
		case operator.AggSum:
			if gs.seen[i] {
				v = gs.sum[i]
			}
		case operator.AggAvg:
			if gs.seen[i] && gs.count[i] > 0 {
				v = decimalToAvg(gs.sum[i], gs.count[i])
			}
		case operator.AggMin:
			v = gs.min[i]
		case operator.AggMax:
			v = gs.max[i]
		}
		if err := writeVar(vt, col.Output, v); err != nil {
			return err
		}
	}
	return nil
}

// writeVar stores a combined aggregate value into vt, dispatching on the
// destination variable's own declared type the same way
// pkg/operator.writeOutputVar does, without that function's Convert pass
// since every value here already matches its destination's Go
// representation (readTyped/combine never produce a foreign type).
func writeVar(vt *operator.VariableTable, id operator.VarID, v any) *errs.Info {
	off, nb, ft, ok := vt.Offset(id)
	if !ok {
		return errs.Newf(errs.ValueEvaluationException, "exchange: unbound output variable %d", id)
	}
	if v == nil {
		if nb < 0 {
			return errs.New(errs.ValueEvaluationException, "exchange: NULL assigned to non-nullable variable")
		}
		vt.Ref().SetNull(nb, true)
		return nil
	}
	if nb >= 0 {
		vt.Ref().SetNull(nb, false)
	}
	ref := vt.Ref()
	switch ft.Kind {
	case record.KindBoolean:
		ref.SetBool(off, v.(bool))
	case record.KindInt1:
		ref.SetInt8(off, int8(v.(int64)))
	case record.KindInt2:
		ref.SetInt16(off, int16(v.(int64)))
	case record.KindInt4, record.KindDate:
		ref.SetInt32(off, int32(v.(int64)))
	case record.KindInt8:
		ref.SetInt64(off, v.(int64))
	case record.KindFloat4:
		ref.SetFloat32(off, float32(v.(float64)))
	case record.KindFloat8:
		ref.SetFloat64(off, v.(float64))
	case record.KindDecimal:
		ref.SetDecimal(off, v.(record.Decimal))
	case record.KindCharacter, record.KindOctet:
		ref.SetBytes(off, v.([]byte))
	}
	return nil
}

func readTyped(ref record.Ref, off int, ft record.Type) any {
	switch ft.Kind {
	case record.KindBoolean:
		return ref.GetBool(off)
	case record.KindInt1:
		return int64(ref.GetInt8(off))
	case record.KindInt2:
		return int64(ref.GetInt16(off))
	case record.KindInt4, record.KindDate:
		return int64(ref.GetInt32(off))
	case record.KindInt8:
		return ref.GetInt64(off)
	case record.KindFloat4:
		return float64(ref.GetFloat32(off))
	case record.KindFloat8:
		return ref.GetFloat64(off)
	case record.KindCharacter, record.KindOctet:
		return append([]byte(nil), ref.GetBytes(off)...)
	case record.KindDecimal:
		return ref.GetDecimal(off)
	default:
		return nil
	}
}

func lessTyped(a, b any) bool {
	switch x := a.(type) {
	case int64:
		y, _ := b.(int64)
		return x < y
	case float64:
		y, _ := b.(float64)
		return x < y
	case []byte:
		y, _ := b.([]byte)
		return string(x) < string(y)
	case record.Decimal:
		y, _ := b.(record.Decimal)
		return decimalLess(x, y)
	default:
		return false
	}
}

// toDecimal widens any supported column value to the 128-bit
// signed-magnitude representation additions are performed in (spec §3
// Decimal), mirroring the per-row operator.Aggregate's own promotion of
// every numeric input before summing.
func toDecimal(v any) record.Decimal {
	switch x := v.(type) {
	case record.Decimal:
		return x
	case int64:
		return intToDecimal(x)
	case float64:
		return floatToDecimal(x)
	default:
		return record.Decimal{}
	}
}

func intToDecimal(n int64) record.Decimal {
	sign := int8(1)
	u := uint64(n)
	if n < 0 {
		sign = -1
		u = uint64(-n)
	}
	if n == 0 {
		sign = 0
	}
	return record.Decimal{Sign: sign, Lo: u}
}

// floatToDecimal converts via a fixed 9-digit fractional scale; exact
// decimal columns never take this path (toDecimal only reaches it for
// float4/float8 inputs), so the precision loss inherent to float64 is
// already present before this conversion runs.
func floatToDecimal(f float64) record.Decimal {
	scaled := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1e9))
	i, _ := scaled.Int(nil)
	sign := int8(1)
	if i.Sign() < 0 {
		sign = -1
		i.Neg(i)
	} else if i.Sign() == 0 {
		sign = 0
	}
	return fromMagnitude(sign, i, -9)
}

func magnitude(d record.Decimal) *big.Int {
	hi := new(big.Int).SetUint64(d.Hi)
	hi.Lsh(hi, 64)
	lo := new(big.Int).SetUint64(d.Lo)
	return new(big.Int).Or(hi, lo)
}

func fromMagnitude(sign int8, mag *big.Int, exponent int32) record.Decimal {
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(mag, mask).Uint64()
	hi := new(big.Int).Rsh(mag, 64).Uint64()
	if mag.Sign() == 0 {
		sign = 0
	}
	return record.Decimal{Sign: sign, Hi: hi, Lo: lo, Exponent: exponent}
}

func signedValue(d record.Decimal) *big.Int {
	v := magnitude(d)
	if d.Sign < 0 {
		v.Neg(v)
	}
	return v
}

// addDecimal sums two decimals exactly by aligning them to their common
// (smaller) exponent before adding their signed magnitudes (spec §3
// Decimal's exponent-scaled representation).
func addDecimal(a, b record.Decimal) record.Decimal {
	exp := a.Exponent
	if b.Exponent < exp {
		exp = b.Exponent
	}
	av := scaleTo(signedValue(a), a.Exponent, exp)
	bv := scaleTo(signedValue(b), b.Exponent, exp)
	sum := new(big.Int).Add(av, bv)
	sign := int8(1)
	if sum.Sign() < 0 {
		sign = -1
		sum.Neg(sum)
	} else if sum.Sign() == 0 {
		sign = 0
	}
	return fromMagnitude(sign, sum, exp)
}

func scaleTo(v *big.Int, from, to int32) *big.Int {
	if from == to {
		return v
	}
	diff := from - to
	if diff < 0 {
		return v // from < to never happens given exp := min(a,b) above
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
	return new(big.Int).Mul(v, factor)
}

// decimalToAvg divides sum by n, widening the scale by 9 extra digits so
// the division keeps fractional precision (matching floatToDecimal's own
// 9-digit scale, rather than truncating to sum's original exponent).
func decimalToAvg(sum record.Decimal, n int64) record.Decimal {
	if n == 0 {
		return sum
	}
	const extraScale = 9
	num := scaleTo(signedValue(sum), sum.Exponent, sum.Exponent-extraScale)
	q := new(big.Int).Quo(num, big.NewInt(n))
	sign := int8(1)
	if q.Sign() < 0 {
		sign = -1
		q.Neg(q)
	} else if q.Sign() == 0 {
		sign = 0
	}
	return fromMagnitude(sign, q, sum.Exponent-extraScale)
}

func decimalLess(a, b record.Decimal) bool {
	exp := a.Exponent
	if b.Exponent < exp {
		exp = b.Exponent
	}
	av := scaleTo(signedValue(a), a.Exponent, exp)
	bv := scaleTo(signedValue(b), b.Exponent, exp)
	return av.Cmp(bv) < 0
}
