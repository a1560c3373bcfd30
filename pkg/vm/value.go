package vm

import (
	"fmt"
	"math"
)

// ValueType tags the value union. This is a fixed, small enumeration:
// every Orus value is exactly one of these kinds, and nothing else is
// ever added to it at runtime.
type ValueType uint8

const (
	// TypeNone is the zero Value's kind: an unwritten register slot, an
	// exhausted iterator's result, a native call with nothing to return.
	// Scripts can never construct one; it only appears at the boundaries
	// above, and keeping it distinct from TypeI32 means a zero Value is
	// never mistaken for the integer 0.
	TypeNone ValueType = iota
	TypeI32
	TypeI64
	TypeU32
	TypeU64
	TypeF64
	TypeBool
	TypeString
	TypeBytes
	TypeArray
	TypeEnumInstance
	TypeError
	TypeRangeIterator
	TypeArrayIterator
	TypeFile
	TypeFunction
	TypeClosure
)

func (t ValueType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeF64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeArray:
		return "array"
	case TypeEnumInstance:
		return "enum"
	case TypeError:
		return "error"
	case TypeRangeIterator:
		return "range_iterator"
	case TypeArrayIterator:
		return "array_iterator"
	case TypeFile:
		return "file"
	case TypeFunction:
		return "function"
	case TypeClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// IsHeap reports whether values of this type are boxed (a pointer into the
// heap) rather than carried inline in the payload word. Used throughout the
// typed register cache and GC root scanning.
func (t ValueType) IsHeap() bool {
	switch t {
	case TypeNone, TypeI32, TypeI64, TypeU32, TypeU64, TypeF64, TypeBool:
		return false
	default:
		return true
	}
}

// Value is Orus's tagged, fixed-size register value. No NaN-boxing:
// numeric payloads are bit-reinterpreted into/out of the uint64 payload,
// and obj is non-nil exactly when typ.IsHeap() and the object is live.
type Value struct {
	typ     ValueType
	payload uint64
	obj     *Object
}

// Type returns the value's runtime kind.
func (v Value) Type() ValueType { return v.typ }

// --- Constructors ---

func I32(n int32) Value    { return Value{typ: TypeI32, payload: uint64(uint32(n))} }
func I64(n int64) Value    { return Value{typ: TypeI64, payload: uint64(n)} }
func U32(n uint32) Value   { return Value{typ: TypeU32, payload: uint64(n)} }
func U64(n uint64) Value   { return Value{typ: TypeU64, payload: n} }
func F64(f float64) Value  { return Value{typ: TypeF64, payload: math.Float64bits(f)} }
func Bool(b bool) Value {
	if b {
		return Value{typ: TypeBool, payload: 1}
	}
	return Value{typ: TypeBool, payload: 0}
}

func fromObject(t ValueType, o *Object) Value {
	return Value{typ: t, obj: o}
}

// --- Accessors (undefined if the type doesn't match; callers must check
// Type() first) ---

func (v Value) AsI32() int32   { return int32(uint32(v.payload)) }
func (v Value) AsI64() int64   { return int64(v.payload) }
func (v Value) AsU32() uint32  { return uint32(v.payload) }
func (v Value) AsU64() uint64  { return v.payload }
func (v Value) AsF64() float64 { return math.Float64frombits(v.payload) }
func (v Value) AsBool() bool   { return v.payload != 0 }
func (v Value) Object() *Object { return v.obj }

func (v Value) IsHeap() bool { return v.typ.IsHeap() }

// Truthy implements Orus's boolean-condition contract: only TypeBool has
// a truth value. Conditional jumps fault on anything else; Orus never
// coerces.
func (v Value) Truthy() (bool, bool) {
	if v.typ != TypeBool {
		return false, false
	}
	return v.AsBool(), true
}

// String renders a value for printing/debugging. Heap kinds delegate to
// their object's rendering; this never allocates for the inline kinds.
func (v Value) String() string {
	switch v.typ {
	case TypeNone:
		return "none"
	case TypeI32:
		return fmt.Sprintf("%d", v.AsI32())
	case TypeI64:
		return fmt.Sprintf("%d", v.AsI64())
	case TypeU32:
		return fmt.Sprintf("%d", v.AsU32())
	case TypeU64:
		return fmt.Sprintf("%d", v.AsU64())
	case TypeF64:
		return fmt.Sprintf("%g", v.AsF64())
	case TypeBool:
		return fmt.Sprintf("%t", v.AsBool())
	default:
		if v.obj == nil {
			return "<nil " + v.typ.String() + ">"
		}
		return v.obj.String()
	}
}

// Equal implements value identity for comparison opcodes on inline kinds;
// heap kinds compare by the object's own Equal.
func Equal(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	if a.typ.IsHeap() {
		if a.obj == b.obj {
			return true
		}
		if a.obj == nil || b.obj == nil {
			return false
		}
		return a.obj.Equal(b.obj)
	}
	return a.payload == b.payload
}
