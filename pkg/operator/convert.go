package operator

import (
	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// Convert applies spec §4.F's assignment conversion: (source type, target
// type) -> conversion action. ec.ExplicitCast selects the loss-precision
// policy (implicit for plain assignment, explicit for CAST) that decides
// whether a truncating conversion raises an error or just flags ec and
// proceeds; an integer result out of the target's range always raises an
// error.
func Convert(ec *EvalContext, v any, from, to record.Type) (any, *errs.Info) {
	if v == nil {
		return nil, nil
	}
	// Same-family conversions where only the with/without-offset flag
	// differs, carrying a zero offset, are no-ops (spec §4.F).
	if from.Kind == to.Kind && sameFamilyNoop(from, to) {
		return v, nil
	}

	switch to.Kind {
	case record.KindInt1, record.KindInt2, record.KindInt4, record.KindInt8:
		return convertToInt(ec, v, to)
	case record.KindFloat4, record.KindFloat8:
		return convertToFloat(v)
	case record.KindDecimal:
		return toDecimal(v), nil
	case record.KindCharacter, record.KindOctet:
		return convertToString(ec, v, to)
	case record.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "cannot convert to boolean")
	default:
		if from.Kind == to.Kind {
			return v, nil
		}
		return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "unsupported conversion")
	}
}

func sameFamilyNoop(from, to record.Type) bool {
	switch from.Kind {
	case record.KindTimeOfDay, record.KindTimePoint:
		return from.WithOffset == to.WithOffset || !from.WithOffset
	case record.KindCharacter, record.KindOctet:
		// An unbounded target never truncates; a bounded one must still
		// run through convertToString's length check.
		return to.Length <= 0
	default:
		return true
	}
}

func convertToInt(ec *EvalContext, v any, to record.Type) (any, *errs.Info) {
	var iv int64
	switch x := v.(type) {
	case int64:
		iv = x
	case float64:
		iv = int64(x)
		if float64(iv) != x {
			ec.LostPrecision = true
			if !ec.ExplicitCast {
				return nil, errs.New(errs.ValueEvaluationException, "narrowing float-to-int conversion loses precision")
			}
		}
	case record.Decimal:
		iv = int64(x.Lo)
		if x.Sign < 0 {
			iv = -iv
		}
	default:
		return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "cannot convert to integer")
	}
	lo, hi := intRange(to.Kind)
	if iv < lo || iv > hi {
		return nil, errs.New(errs.ValueEvaluationException, "integer overflow on conversion")
	}
	return iv, nil
}

func intRange(k record.Kind) (int64, int64) {
	switch k {
	case record.KindInt1:
		return -128, 127
	case record.KindInt2:
		return -32768, 32767
	case record.KindInt4:
		return -2147483648, 2147483647
	default:
		return -1 << 63, 1<<63 - 1
	}
}

func convertToFloat(v any) (any, *errs.Info) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case record.Decimal:
		f := float64(x.Lo)
		if x.Sign < 0 {
			f = -f
		}
		return f, nil
	default:
		return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "cannot convert to float")
	}
}

func convertToString(ec *EvalContext, v any, to record.Type) (any, *errs.Info) {
	s, ok := v.(string)
	if !ok {
		if b, ok2 := v.([]byte); ok2 {
			s = string(b)
		} else {
			return nil, errs.New(errs.UnsupportedRuntimeFeatureException, "cannot convert to character/octet")
		}
	}
	if to.Length > 0 && len(s) > to.Length {
		if !to.Varying || !ec.ExplicitCast {
			return nil, errs.New(errs.ValueTooLongException, "value exceeds target length")
		}
		ec.LostPrecision = true
		return s[:to.Length], nil
	}
	return s, nil
}
