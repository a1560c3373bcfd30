package vm

import (
	"math"

	orerrors "orus/pkg/errors"
)

// ArithFault is the sentinel value the checked-arithmetic helpers return on
// a boundary violation. It carries only a Kind and message; the interpreter
// dispatch loop raises it as an error Value carrying the current source
// position (vm.fault), and the JIT backend records its message and bytecode
// offset in a DeoptResult.
type ArithFault struct {
	Kind orerrors.Kind
	Msg  string
}

func (f *ArithFault) Error() string { return f.Msg }

func fault(kind orerrors.Kind, msg string) *ArithFault { return &ArithFault{Kind: kind, Msg: msg} }

// Checked i32 arithmetic.

func AddI32Checked(a, b int32) (int32, *ArithFault) {
	r := int64(a) + int64(b)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return 0, fault(orerrors.KindIntegerOverflow, "i32 addition overflow")
	}
	return int32(r), nil
}

func SubI32Checked(a, b int32) (int32, *ArithFault) {
	r := int64(a) - int64(b)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return 0, fault(orerrors.KindIntegerOverflow, "i32 subtraction overflow")
	}
	return int32(r), nil
}

func MulI32Checked(a, b int32) (int32, *ArithFault) {
	r := int64(a) * int64(b)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return 0, fault(orerrors.KindIntegerOverflow, "i32 multiplication overflow")
	}
	return int32(r), nil
}

func DivI32Checked(a, b int32) (int32, *ArithFault) {
	if b == 0 {
		return 0, fault(orerrors.KindDivisionByZero, "division by zero")
	}
	if a == math.MinInt32 && b == -1 {
		return 0, fault(orerrors.KindIntegerOverflow, "i32 division overflow (INT32_MIN / -1)")
	}
	return a / b, nil
}

// Checked i64 arithmetic.

func AddI64Checked(a, b int64) (int64, *ArithFault) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, fault(orerrors.KindIntegerOverflow, "i64 addition overflow")
	}
	return r, nil
}

func SubI64Checked(a, b int64) (int64, *ArithFault) {
	r := a - b
	if (b < 0 && r < a) || (b > 0 && r > a) {
		return 0, fault(orerrors.KindIntegerOverflow, "i64 subtraction overflow")
	}
	return r, nil
}

func MulI64Checked(a, b int64) (int64, *ArithFault) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	// MinInt64 * -1 wraps back to MinInt64, which the r/b check below cannot see.
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fault(orerrors.KindIntegerOverflow, "i64 multiplication overflow")
	}
	r := a * b
	if r/b != a {
		return 0, fault(orerrors.KindIntegerOverflow, "i64 multiplication overflow")
	}
	return r, nil
}

func DivI64Checked(a, b int64) (int64, *ArithFault) {
	if b == 0 {
		return 0, fault(orerrors.KindDivisionByZero, "division by zero")
	}
	if a == math.MinInt64 && b == -1 {
		return 0, fault(orerrors.KindIntegerOverflow, "i64 division overflow (INT64_MIN / -1)")
	}
	return a / b, nil
}

// Checked u32/u64 arithmetic: overflow is wraparound detection, not a sign
// check.

func AddU32Checked(a, b uint32) (uint32, *ArithFault) {
	r := a + b
	if r < a {
		return 0, fault(orerrors.KindIntegerOverflow, "u32 addition overflow")
	}
	return r, nil
}

func SubU32Checked(a, b uint32) (uint32, *ArithFault) {
	if b > a {
		return 0, fault(orerrors.KindIntegerOverflow, "u32 subtraction underflow")
	}
	return a - b, nil
}

func MulU32Checked(a, b uint32) (uint32, *ArithFault) {
	r := uint64(a) * uint64(b)
	if r > math.MaxUint32 {
		return 0, fault(orerrors.KindIntegerOverflow, "u32 multiplication overflow")
	}
	return uint32(r), nil
}

func DivU32Checked(a, b uint32) (uint32, *ArithFault) {
	if b == 0 {
		return 0, fault(orerrors.KindDivisionByZero, "division by zero")
	}
	return a / b, nil
}

func AddU64Checked(a, b uint64) (uint64, *ArithFault) {
	r := a + b
	if r < a {
		return 0, fault(orerrors.KindIntegerOverflow, "u64 addition overflow")
	}
	return r, nil
}

func SubU64Checked(a, b uint64) (uint64, *ArithFault) {
	if b > a {
		return 0, fault(orerrors.KindIntegerOverflow, "u64 subtraction underflow")
	}
	return a - b, nil
}

func MulU64Checked(a, b uint64) (uint64, *ArithFault) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	r := a * b
	if r/b != a {
		return 0, fault(orerrors.KindIntegerOverflow, "u64 multiplication overflow")
	}
	return r, nil
}

func DivU64Checked(a, b uint64) (uint64, *ArithFault) {
	if b == 0 {
		return 0, fault(orerrors.KindDivisionByZero, "division by zero")
	}
	return a / b, nil
}

// Promoting i32/u32 arithmetic: OP_*_NUMERIC widens an
// overflowing i32 result to i64, and an overflowing u32 result to u64,
// rather than raising integer-overflow the way the OP_*_TYPED family does.
// Only addition, subtraction, and multiplication promote; division and
// modulo stay on the checked/raising helpers above. u32 subtraction doesn't promote either: a negative difference
// has no representation in an unsigned type at any width, so widening to
// u64 can't rescue an underflow, so SubU32Checked's raise stays
// authoritative.

func AddI32Promoting(a, b int32) Value {
	r := int64(a) + int64(b)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return I64(r)
	}
	return I32(int32(r))
}

func SubI32Promoting(a, b int32) Value {
	r := int64(a) - int64(b)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return I64(r)
	}
	return I32(int32(r))
}

func MulI32Promoting(a, b int32) Value {
	r := int64(a) * int64(b)
	if r > math.MaxInt32 || r < math.MinInt32 {
		return I64(r)
	}
	return I32(int32(r))
}

func AddU32Promoting(a, b uint32) Value {
	r := uint64(a) + uint64(b)
	if r > math.MaxUint32 {
		return U64(r)
	}
	return U32(uint32(r))
}

func MulU32Promoting(a, b uint32) Value {
	r := uint64(a) * uint64(b)
	if r > math.MaxUint32 {
		return U64(r)
	}
	return U32(uint32(r))
}

// Checked f64 arithmetic.

func AddF64Checked(a, b float64) (float64, *ArithFault) { return finiteResult(a + b) }
func SubF64Checked(a, b float64) (float64, *ArithFault) { return finiteResult(a - b) }
func MulF64Checked(a, b float64) (float64, *ArithFault) { return finiteResult(a * b) }

func DivF64Checked(a, b float64) (float64, *ArithFault) {
	if b == 0.0 {
		return 0, fault(orerrors.KindFloatNonFinite, "division by zero")
	}
	return finiteResult(a / b)
}

func finiteResult(r float64) (float64, *ArithFault) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fault(orerrors.KindFloatNonFinite, "float operation produced NaN or Infinity")
	}
	return r, nil
}

// ModI32Checked and ModI64Checked carry the one modulo edge case: INT_MIN
// % -1 yields zero instead of raising, for both widths.

func ModI32Checked(a, b int32) (int32, *ArithFault) {
	if b == 0 {
		return 0, fault(orerrors.KindDivisionByZero, "modulo by zero")
	}
	if a == math.MinInt32 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func ModI64Checked(a, b int64) (int64, *ArithFault) {
	if b == 0 {
		return 0, fault(orerrors.KindDivisionByZero, "modulo by zero")
	}
	if a == math.MinInt64 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}
