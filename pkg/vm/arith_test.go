package vm

import (
	"math"
	"testing"

	orerrors "orus/pkg/errors"
)

func TestAddI32CheckedOverflow(t *testing.T) {
	if _, f := AddI32Checked(math.MaxInt32, 1); f == nil || f.Kind != orerrors.KindIntegerOverflow {
		t.Fatalf("INT32_MAX+1 must fault KindIntegerOverflow, got %v", f)
	}
	if r, f := AddI32Checked(1, 2); f != nil || r != 3 {
		t.Fatalf("AddI32Checked(1,2) = (%d,%v)", r, f)
	}
}

func TestSubI32CheckedOverflow(t *testing.T) {
	if _, f := SubI32Checked(math.MinInt32, 1); f == nil || f.Kind != orerrors.KindIntegerOverflow {
		t.Fatalf("INT32_MIN-1 must overflow")
	}
}

func TestMulI32CheckedOverflow(t *testing.T) {
	if _, f := MulI32Checked(math.MaxInt32, 2); f == nil {
		t.Fatalf("MaxInt32*2 must overflow")
	}
	if r, f := MulI32Checked(6, 7); f != nil || r != 42 {
		t.Fatalf("MulI32Checked(6,7) = (%d,%v)", r, f)
	}
}

func TestDivI32CheckedByZero(t *testing.T) {
	if _, f := DivI32Checked(10, 0); f == nil || f.Kind != orerrors.KindDivisionByZero {
		t.Fatalf("div by zero must fault KindDivisionByZero")
	}
}

func TestDivI32CheckedMinOverNegOne(t *testing.T) {
	if _, f := DivI32Checked(math.MinInt32, -1); f == nil || f.Kind != orerrors.KindIntegerOverflow {
		t.Fatalf("INT32_MIN / -1 must fault KindIntegerOverflow")
	}
}

func TestAddI64CheckedOverflow(t *testing.T) {
	if _, f := AddI64Checked(math.MaxInt64, 1); f == nil {
		t.Fatalf("MaxInt64+1 must overflow")
	}
	if _, f := AddI64Checked(math.MinInt64, -1); f == nil {
		t.Fatalf("MinInt64-1 (as b=-1 add) must overflow")
	}
}

func TestSubI64CheckedOverflow(t *testing.T) {
	if _, f := SubI64Checked(math.MinInt64, 1); f == nil {
		t.Fatalf("MinInt64-1 must overflow")
	}
}

func TestMulI64CheckedOverflowAndZero(t *testing.T) {
	if r, f := MulI64Checked(0, math.MaxInt64); f != nil || r != 0 {
		t.Fatalf("zero operand must short-circuit without fault, got (%d,%v)", r, f)
	}
	if _, f := MulI64Checked(math.MaxInt64, 2); f == nil {
		t.Fatalf("MaxInt64*2 must overflow")
	}
}

func TestDivI64CheckedByZeroAndMinOverNegOne(t *testing.T) {
	if _, f := DivI64Checked(1, 0); f == nil || f.Kind != orerrors.KindDivisionByZero {
		t.Fatalf("div by zero must fault")
	}
	if _, f := DivI64Checked(math.MinInt64, -1); f == nil || f.Kind != orerrors.KindIntegerOverflow {
		t.Fatalf("INT64_MIN / -1 must fault KindIntegerOverflow")
	}
}

func TestU32CheckedWraparound(t *testing.T) {
	if _, f := AddU32Checked(math.MaxUint32, 1); f == nil {
		t.Fatalf("u32 addition wraparound must fault")
	}
	if _, f := SubU32Checked(1, 2); f == nil {
		t.Fatalf("u32 subtraction underflow must fault")
	}
	if _, f := MulU32Checked(math.MaxUint32, 2); f == nil {
		t.Fatalf("u32 multiplication overflow must fault")
	}
	if _, f := DivU32Checked(1, 0); f == nil || f.Kind != orerrors.KindDivisionByZero {
		t.Fatalf("u32 division by zero must fault")
	}
}

func TestU64CheckedWraparound(t *testing.T) {
	if _, f := AddU64Checked(math.MaxUint64, 1); f == nil {
		t.Fatalf("u64 addition wraparound must fault")
	}
	if _, f := SubU64Checked(1, 2); f == nil {
		t.Fatalf("u64 subtraction underflow must fault")
	}
	if r, f := MulU64Checked(0, math.MaxUint64); f != nil || r != 0 {
		t.Fatalf("zero operand must short-circuit, got (%d,%v)", r, f)
	}
	if _, f := MulU64Checked(math.MaxUint64, 2); f == nil {
		t.Fatalf("u64 multiplication overflow must fault")
	}
}

func TestF64CheckedRejectsNaNAndInf(t *testing.T) {
	if _, f := DivF64Checked(1.0, 0.0); f == nil || f.Kind != orerrors.KindFloatNonFinite {
		t.Fatalf("float division by 0.0 must fault KindFloatNonFinite")
	}
	if _, f := MulF64Checked(math.MaxFloat64, math.MaxFloat64); f == nil || f.Kind != orerrors.KindFloatNonFinite {
		t.Fatalf("overflow to +Inf must fault KindFloatNonFinite")
	}
	if r, f := AddF64Checked(1.5, 2.5); f != nil || r != 4.0 {
		t.Fatalf("AddF64Checked(1.5,2.5) = (%v,%v)", r, f)
	}
}

func TestModI32CheckedMinOverNegOneIsZero(t *testing.T) {
	r, f := ModI32Checked(math.MinInt32, -1)
	if f != nil || r != 0 {
		t.Fatalf("INT32_MIN %% -1 must be (0,nil), got (%d,%v)", r, f)
	}
	if _, f := ModI32Checked(10, 0); f == nil || f.Kind != orerrors.KindDivisionByZero {
		t.Fatalf("modulo by zero must fault")
	}
	if r, f := ModI32Checked(7, 3); f != nil || r != 1 {
		t.Fatalf("ModI32Checked(7,3) = (%d,%v)", r, f)
	}
}

func TestModI64CheckedMinOverNegOneIsZero(t *testing.T) {
	r, f := ModI64Checked(math.MinInt64, -1)
	if f != nil || r != 0 {
		t.Fatalf("INT64_MIN %% -1 must be (0,nil), got (%d,%v)", r, f)
	}
}

func TestAddI32PromotingWidensOnOverflow(t *testing.T) {
	v := AddI32Promoting(math.MaxInt32, 1)
	if v.Type() != TypeI64 {
		t.Fatalf("INT32_MAX+1 must promote to i64, got %v", v.Type())
	}
	if v.AsI64() != int64(math.MaxInt32)+1 {
		t.Fatalf("promoted sum = %d, want %d", v.AsI64(), int64(math.MaxInt32)+1)
	}
	if v := AddI32Promoting(1, 2); v.Type() != TypeI32 || v.AsI32() != 3 {
		t.Fatalf("in-range AddI32Promoting(1,2) = (%v,%d)", v.Type(), v.AsI32())
	}
}

func TestSubI32PromotingWidensOnOverflow(t *testing.T) {
	v := SubI32Promoting(math.MinInt32, 1)
	if v.Type() != TypeI64 {
		t.Fatalf("INT32_MIN-1 must promote to i64, got %v", v.Type())
	}
	if v.AsI64() != int64(math.MinInt32)-1 {
		t.Fatalf("promoted difference = %d, want %d", v.AsI64(), int64(math.MinInt32)-1)
	}
}

func TestMulI32PromotingWidensOnOverflow(t *testing.T) {
	v := MulI32Promoting(math.MaxInt32, 2)
	if v.Type() != TypeI64 {
		t.Fatalf("MaxInt32*2 must promote to i64, got %v", v.Type())
	}
	if v.AsI64() != int64(math.MaxInt32)*2 {
		t.Fatalf("promoted product = %d, want %d", v.AsI64(), int64(math.MaxInt32)*2)
	}
	if v := MulI32Promoting(6, 7); v.Type() != TypeI32 || v.AsI32() != 42 {
		t.Fatalf("in-range MulI32Promoting(6,7) = (%v,%d)", v.Type(), v.AsI32())
	}
}

func TestAddU32PromotingWidensOnOverflow(t *testing.T) {
	v := AddU32Promoting(math.MaxUint32, 1)
	if v.Type() != TypeU64 {
		t.Fatalf("u32 addition wraparound must promote to u64, got %v", v.Type())
	}
	if v.AsU64() != uint64(math.MaxUint32)+1 {
		t.Fatalf("promoted sum = %d, want %d", v.AsU64(), uint64(math.MaxUint32)+1)
	}
	if v := AddU32Promoting(1, 2); v.Type() != TypeU32 || v.AsU32() != 3 {
		t.Fatalf("in-range AddU32Promoting(1,2) = (%v,%d)", v.Type(), v.AsU32())
	}
}

func TestMulU32PromotingWidensOnOverflow(t *testing.T) {
	v := MulU32Promoting(math.MaxUint32, 2)
	if v.Type() != TypeU64 {
		t.Fatalf("u32 multiplication overflow must promote to u64, got %v", v.Type())
	}
	if v.AsU64() != uint64(math.MaxUint32)*2 {
		t.Fatalf("promoted product = %d, want %d", v.AsU64(), uint64(math.MaxUint32)*2)
	}
}
