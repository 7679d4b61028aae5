package operator

import (
	"math"
	"math/big"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// Op is a binary or unary operator kind used by Expr trees.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpConcat
)

// Expr is a node in an expression tree evaluated against a VariableTable
// (spec §4.F "Expression evaluation").
type Expr interface {
	Eval(ec *EvalContext, vt *VariableTable) (any, *errs.Info)
}

// Literal is a constant value (nil means SQL NULL).
type Literal struct{ Value any }

func (l Literal) Eval(*EvalContext, *VariableTable) (any, *errs.Info) { return l.Value, nil }

// VarRef reads a bound stream variable's current value out of vt.
type VarRef struct{ ID VarID }

func (v VarRef) Eval(_ *EvalContext, vt *VariableTable) (any, *errs.Info) {
	off, nb, ft, ok := vt.Offset(v.ID)
	if !ok {
		return nil, errs.Newf(errs.ValueEvaluationException, "unbound variable %d", v.ID)
	}
	if nb >= 0 && vt.Ref().IsNull(nb) {
		return nil, nil
	}
	return readTyped(vt.Ref(), off, ft), nil
}

func readTyped(r record.Ref, off int, ft record.Type) any {
	switch ft.Kind {
	case record.KindBoolean:
		return r.GetBool(off)
	case record.KindInt1:
		return int64(r.GetInt8(off))
	case record.KindInt2:
		return int64(r.GetInt16(off))
	case record.KindInt4:
		return int64(r.GetInt32(off))
	case record.KindInt8:
		return r.GetInt64(off)
	case record.KindFloat4:
		return float64(r.GetFloat32(off))
	case record.KindFloat8:
		return r.GetFloat64(off)
	case record.KindDecimal:
		return r.GetDecimal(off)
	case record.KindCharacter:
		return r.GetString(off)
	case record.KindOctet:
		return r.GetBytes(off)
	case record.KindDate:
		return r.GetDate(off)
	case record.KindTimeOfDay:
		return r.GetTimeOfDay(off, ft.WithOffset)
	case record.KindTimePoint:
		return r.GetTimePoint(off, ft.WithOffset)
	case record.KindBlobRef:
		return r.GetBlobRef(off)
	case record.KindClobRef:
		return r.GetClobRef(off)
	default:
		return nil
	}
}

// Not negates a boolean expression; NULL propagates (spec §4.F filter:
// "NULL predicate -> drop").
type Not struct{ X Expr }

func (n Not) Eval(ec *EvalContext, vt *VariableTable) (any, *errs.Info) {
	v, err := n.X.Eval(ec, vt)
	if err != nil || v == nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, errs.New(errs.ValueEvaluationException, "NOT applied to non-boolean")
	}
	return !b, nil
}

// IsNullExpr tests whether X evaluates to NULL.
type IsNullExpr struct{ X Expr }

func (e IsNullExpr) Eval(ec *EvalContext, vt *VariableTable) (any, *errs.Info) {
	v, err := e.X.Eval(ec, vt)
	if err != nil {
		return nil, err
	}
	return v == nil, nil
}

// BinaryExpr applies Op to Left and Right, following SQL three-valued
// logic for AND/OR/comparisons (any NULL operand yields NULL, except
// AND/OR's short-circuiting FALSE/TRUE cases) and the usual numeric
// promotion rules for arithmetic (int -> float on a float operand, any
// numeric -> decimal on a decimal operand).
type BinaryExpr struct {
	Op          Op
	Left, Right Expr
}

func (b BinaryExpr) Eval(ec *EvalContext, vt *VariableTable) (any, *errs.Info) {
	lv, err := b.Left.Eval(ec, vt)
	if err != nil {
		return nil, err
	}
	if b.Op == OpAnd || b.Op == OpOr {
		return evalLogical(ec, vt, b.Op, lv, b.Right)
	}
	rv, err := b.Right.Eval(ec, vt)
	if err != nil {
		return nil, err
	}
	if lv == nil || rv == nil {
		return nil, nil
	}
	switch b.Op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return evalArith(ec, b.Op, lv, rv)
	case OpConcat:
		return evalConcat(lv, rv)
	default:
		return evalCompare(b.Op, lv, rv)
	}
}

func evalLogical(ec *EvalContext, vt *VariableTable, op Op, lv any, right Expr) (any, *errs.Info) {
	if op == OpAnd && lv == false {
		return false, nil
	}
	if op == OpOr && lv == true {
		return true, nil
	}
	rv, err := right.Eval(ec, vt)
	if err != nil {
		return nil, err
	}
	if lv == nil || rv == nil {
		// NULL AND FALSE = FALSE, NULL OR TRUE = TRUE; otherwise NULL.
		if op == OpAnd && (lv == false || rv == false) {
			return false, nil
		}
		if op == OpOr && (lv == true || rv == true) {
			return true, nil
		}
		return nil, nil
	}
	l, lok := lv.(bool)
	r, rok := rv.(bool)
	if !lok || !rok {
		return nil, errs.New(errs.ValueEvaluationException, "AND/OR applied to non-boolean")
	}
	if op == OpAnd {
		return l && r, nil
	}
	return l || r, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func evalArith(ec *EvalContext, op Op, lv, rv any) (any, *errs.Info) {
	if ld, ok := lv.(record.Decimal); ok {
		return evalDecimalArith(ec, op, ld, toDecimal(rv))
	}
	if rd, ok := rv.(record.Decimal); ok {
		return evalDecimalArith(ec, op, toDecimal(lv), rd)
	}
	li, liok := lv.(int64)
	ri, riok := rv.(int64)
	if liok && riok {
		switch op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		case OpDiv:
			if ri == 0 {
				return nil, errs.New(errs.ValueEvaluationException, "division by zero")
			}
			return li / ri, nil
		}
	}
	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		return nil, errs.New(errs.ValueEvaluationException, "arithmetic on non-numeric operand")
	}
	switch op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		if rf == 0 {
			return nil, errs.New(errs.ValueEvaluationException, "division by zero")
		}
		return lf / rf, nil
	}
	return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "unknown arithmetic op")
}

func evalConcat(lv, rv any) (any, *errs.Info) {
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if !lok || !rok {
		return nil, errs.New(errs.ValueEvaluationException, "concat applied to non-character operand")
	}
	return ls + rs, nil
}

func evalCompare(op Op, lv, rv any) (any, *errs.Info) {
	c, err := compareValues(lv, rv)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNeq:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpLte:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	default:
		return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "unknown comparison op")
	}
}

func compareValues(lv, rv any) (int, *errs.Info) {
	switch l := lv.(type) {
	case int64:
		if r, ok := rv.(int64); ok {
			return cmpInt64(l, r), nil
		}
		if r, ok := toFloat(rv); ok {
			return cmpFloat(float64(l), r), nil
		}
	case float64:
		if r, ok := toFloat(rv); ok {
			return cmpFloat(l, r), nil
		}
	case string:
		if r, ok := rv.(string); ok {
			switch {
			case l < r:
				return -1, nil
			case l > r:
				return 1, nil
			default:
				return 0, nil
			}
		}
	case bool:
		if r, ok := rv.(bool); ok {
			if l == r {
				return 0, nil
			}
			if !l {
				return -1, nil
			}
			return 1, nil
		}
	case record.Decimal:
		return cmpDecimal(l, toDecimal(rv)), nil
	}
	return 0, errs.New(errs.ValueEvaluationException, "comparison between incompatible types")
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// --- Decimal arithmetic ---
//
// The original engine runs decimal arithmetic through a thread-local
// decimal context with lost-precision/overflow/underflow flags the
// outer code consults after each operation (spec §4.F). Go has no
// ecosystem decimal library anywhere in the retrieval pack, so this uses
// math/big.Int to combine the (sign, hi64, lo64, exponent) triple -
// math/big is the standard library's own arbitrary-precision type,
// exactly what the 128-bit significand needs.
type EvalContext struct {
	LostPrecision bool
	Overflowed    bool
	Underflowed   bool
	// ExplicitCast is the loss-precision policy selector (spec §4.F:
	// "implicit for assignment, explicit for CAST"). When true, a
	// truncating conversion is tolerated (with LostPrecision recorded);
	// when false, the same truncation raises an error
	// (ValueEvaluationException, or ValueTooLongException for an
	// over-length character/octet value).
	ExplicitCast bool
}

func toDecimal(v any) record.Decimal {
	switch x := v.(type) {
	case record.Decimal:
		return x
	case int64:
		sign := int8(1)
		u := uint64(x)
		if x < 0 {
			sign = -1
			u = uint64(-x)
		}
		if x == 0 {
			sign = 0
		}
		return record.Decimal{Sign: sign, Lo: u}
	case float64:
		return floatToDecimal(x)
	default:
		return record.Decimal{}
	}
}

func floatToDecimal(f float64) record.Decimal {
	// Best-effort: scale by 10^6 and round, a lossy conversion flagged
	// by the caller via EvalContext.LostPrecision when it matters.
	scaled := int64(math.Round(f * 1e6))
	sign := int8(1)
	if scaled < 0 {
		sign = -1
		scaled = -scaled
	} else if scaled == 0 {
		sign = 0
	}
	return record.Decimal{Sign: sign, Lo: uint64(scaled), Exponent: -6}
}

func decimalToBig(d record.Decimal) *big.Int {
	v := new(big.Int).Lsh(new(big.Int).SetUint64(d.Hi), 64)
	v.Or(v, new(big.Int).SetUint64(d.Lo))
	if d.Sign < 0 {
		v.Neg(v)
	}
	return v
}

func bigToDecimal(v *big.Int, exponent int32) record.Decimal {
	sign := int8(1)
	abs := new(big.Int).Abs(v)
	switch v.Sign() {
	case 0:
		sign = 0
	case -1:
		sign = -1
	}
	mask := new(big.Int).SetUint64(math.MaxUint64)
	lo := new(big.Int).And(abs, mask)
	hi := new(big.Int).Rsh(abs, 64)
	return record.Decimal{Sign: sign, Hi: hi.Uint64(), Lo: lo.Uint64(), Exponent: exponent}
}

func alignExponent(a, b record.Decimal) (*big.Int, *big.Int, int32) {
	ai, bi := decimalToBig(a), decimalToBig(b)
	exp := a.Exponent
	if a.Exponent == b.Exponent {
		return ai, bi, exp
	}
	if a.Exponent > b.Exponent {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Exponent-b.Exponent)), nil)
		ai.Mul(ai, scale)
		exp = b.Exponent
	} else {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(b.Exponent-a.Exponent)), nil)
		bi.Mul(bi, scale)
		exp = a.Exponent
	}
	return ai, bi, exp
}

func cmpDecimal(a, b record.Decimal) int {
	ai, bi, _ := alignExponent(a, b)
	return ai.Cmp(bi)
}

func evalDecimalArith(ec *EvalContext, op Op, a, b record.Decimal) (any, *errs.Info) {
	switch op {
	case OpAdd, OpSub:
		ai, bi, exp := alignExponent(a, b)
		var r *big.Int
		if op == OpAdd {
			r = new(big.Int).Add(ai, bi)
		} else {
			r = new(big.Int).Sub(ai, bi)
		}
		if r.BitLen() > 127 {
			ec.Overflowed = true
			if !ec.ExplicitCast {
				return nil, errs.New(errs.ValueEvaluationException, "decimal overflow")
			}
		}
		return bigToDecimal(r, exp), nil
	case OpMul:
		ai, bi := decimalToBig(a), decimalToBig(b)
		r := new(big.Int).Mul(ai, bi)
		exp := a.Exponent + b.Exponent
		if r.BitLen() > 127 {
			ec.Overflowed = true
			if !ec.ExplicitCast {
				return nil, errs.New(errs.ValueEvaluationException, "decimal overflow")
			}
		}
		return bigToDecimal(r, exp), nil
	case OpDiv:
		ai, bi := decimalToBig(a), decimalToBig(b)
		if bi.Sign() == 0 {
			return nil, errs.New(errs.ValueEvaluationException, "division by zero")
		}
		// Scale up the dividend to preserve 6 fractional digits, matching
		// the precision floatToDecimal assumes elsewhere in this package.
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil)
		scaled := new(big.Int).Mul(ai, scale)
		q, r := new(big.Int).QuoRem(scaled, bi, new(big.Int))
		if r.Sign() != 0 {
			ec.LostPrecision = true
			if !ec.ExplicitCast {
				return nil, errs.New(errs.ValueEvaluationException, "decimal division loses precision")
			}
		}
		return bigToDecimal(q, a.Exponent-b.Exponent-6), nil
	default:
		return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "unsupported decimal operator")
	}
}
