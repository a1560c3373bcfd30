package vm

// IRKind enumerates the minimal three-address IR the translator lifts a
// linear block into: "typed loads/moves, arithmetic,
// comparisons, conversions, short branches, fused inc-cmp-jump/dec-cmp-jump,
// safepoints, loop-back markers."
type IRKind int

const (
	IRLoad IRKind = iota
	IRMove
	IRArith
	IRCompare
	IRConvert
	IRBranch
	IRFusedCmpJump
	IRSafepoint
	IRLoopBack
)

// IRInstr is one lifted IR operation. Every instance carries the bytecode
// offset it was lifted from, used to recover an exact deopt IP.
type IRInstr struct {
	Kind      IRKind
	Op        OpCode
	Offset    int
	ValueType ValueType
	Dst, A, B int
	Imm       int64
}

// TranslationFailureCategory is the closed set of reasons a block can fail
// to lift.
type TranslationFailureCategory int

const (
	FailUnsupportedOpcode TranslationFailureCategory = iota
	FailUnsupportedValueKind
	FailControlFlowComplexity
	FailGuardLimit
	FailAllocatorExhaustion
)

func (c TranslationFailureCategory) String() string {
	switch c {
	case FailUnsupportedOpcode:
		return "unsupported-opcode"
	case FailUnsupportedValueKind:
		return "unsupported-value-kind"
	case FailControlFlowComplexity:
		return "control-flow-complexity"
	case FailGuardLimit:
		return "guard-limit"
	case FailAllocatorExhaustion:
		return "allocator-exhaustion"
	default:
		return "unknown"
	}
}

// TranslationFailure records one failed lift attempt.
type TranslationFailure struct {
	Category TranslationFailureCategory
	Offset   int
	Detail   string
}

func (f *TranslationFailure) Error() string {
	return f.Category.String() + " at offset " + itoa(f.Offset) + ": " + f.Detail
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// isFusableOpcode classifies the opcode families a linear block may
// legally contain; anything else (calls, exceptions, allocation, GC
// control) disqualifies the block, keeping lifted code free of mid-block
// joins and side exits.
func isFusableOpcode(op OpCode) bool {
	switch op {
	case OpMove,
		OpAddI32Typed, OpSubI32Typed, OpMulI32Typed, OpDivI32Typed,
		OpAddI64Typed, OpSubI64Typed, OpMulI64Typed, OpDivI64Typed,
		OpAddU32Typed, OpSubU32Typed, OpMulU32Typed, OpDivU32Typed,
		OpAddU64Typed, OpSubU64Typed, OpMulU64Typed, OpDivU64Typed,
		OpAddF64Typed, OpSubF64Typed, OpMulF64Typed, OpDivF64Typed,
		OpCmpEqual, OpCmpNotEqual, OpCmpLess, OpCmpLessEqual, OpCmpGreater, OpCmpGreaterEqual,
		OpIncCmpJmp, OpDecCmpJmp, OpLoop:
		return true
	default:
		return false
	}
}

// LiftBlock translates chunk.Code[start:end] into IR, failing closed on
// the first opcode the JIT doesn't support. Comparison operands have no
// kind in the bytecode itself, so the translator types them from the typed
// register cache's current view; the per-register generation snapshot the
// entry cache keeps makes that view binding for the compiled entry's whole
// lifetime.
func LiftBlock(chunk *Chunk, start, end int, typed *TypedRegisterCache) ([]IRInstr, *TranslationFailure) {
	var ir []IRInstr
	offset := start
	for offset < end {
		op := OpCode(chunk.Code[offset])
		if !isFusableOpcode(op) {
			return nil, &TranslationFailure{Category: FailUnsupportedOpcode, Offset: offset, Detail: op.String()}
		}
		instr, next, kind := liftOne(chunk, op, offset)
		instr.Kind = kind
		if kind == IRCompare {
			vt, failure := compareOperandKind(typed, &instr)
			if failure != nil {
				return nil, failure
			}
			instr.ValueType = vt
		}
		ir = append(ir, instr)
		offset = next
	}
	ir = append(ir, IRInstr{Kind: IRSafepoint, Offset: offset})
	return ir, nil
}

// compareOperandKind resolves a lifted comparison's operand kind from the
// typed register cache. Cold or mismatched operands fail the lift; the
// interpreter's execCompare handles every kind, so falling back costs only
// speed, never correctness.
func compareOperandKind(typed *TypedRegisterCache, instr *IRInstr) (ValueType, *TranslationFailure) {
	if typed == nil {
		return TypeNone, &TranslationFailure{Category: FailUnsupportedValueKind, Offset: instr.Offset, Detail: "untyped comparison operands"}
	}
	a, b := typed.KindOf(instr.A), typed.KindOf(instr.B)
	if a != b {
		return TypeNone, &TranslationFailure{Category: FailUnsupportedValueKind, Offset: instr.Offset, Detail: a.String() + " vs " + b.String()}
	}
	switch a {
	case TypeI32, TypeI64, TypeU32, TypeU64, TypeF64:
		return a, nil
	default:
		return TypeNone, &TranslationFailure{Category: FailUnsupportedValueKind, Offset: instr.Offset, Detail: a.String()}
	}
}

func liftOne(chunk *Chunk, op OpCode, offset int) (IRInstr, int, IRKind) {
	next := offset + 1
	readReg := func() int {
		v := chunk.ReadReg(next)
		next += regOperandWidth
		return v
	}
	readU16 := func() uint16 {
		v := chunk.ReadUint16(next)
		next += 2
		return v
	}

	switch op {
	case OpMove:
		dst, src := readReg(), readReg()
		return IRInstr{Op: op, Offset: offset, Dst: dst, A: src}, next, IRMove
	case OpIncCmpJmp, OpDecCmpJmp:
		counter, limit := readReg(), readReg()
		off := readU16()
		return IRInstr{Op: op, Offset: offset, Dst: counter, A: limit, Imm: int64(off)}, next, IRFusedCmpJump
	case OpLoop:
		off := readU16()
		return IRInstr{Op: op, Offset: offset, Imm: int64(off)}, next, IRLoopBack
	case OpCmpEqual, OpCmpNotEqual, OpCmpLess, OpCmpLessEqual, OpCmpGreater, OpCmpGreaterEqual:
		dst, a, b := readReg(), readReg(), readReg()
		return IRInstr{Op: op, Offset: offset, Dst: dst, A: a, B: b}, next, IRCompare
	default: // typed arithmetic family: dst, a, b
		dst, a, b := readReg(), readReg(), readReg()
		return IRInstr{Op: op, Offset: offset, Dst: dst, A: a, B: b, ValueType: typedArithValueType(op)}, next, IRArith
	}
}

func typedArithValueType(op OpCode) ValueType {
	switch op {
	case OpAddI32Typed, OpSubI32Typed, OpMulI32Typed, OpDivI32Typed:
		return TypeI32
	case OpAddI64Typed, OpSubI64Typed, OpMulI64Typed, OpDivI64Typed:
		return TypeI64
	case OpAddU32Typed, OpSubU32Typed, OpMulU32Typed, OpDivU32Typed:
		return TypeU32
	case OpAddU64Typed, OpSubU64Typed, OpMulU64Typed, OpDivU64Typed:
		return TypeU64
	case OpAddF64Typed, OpSubF64Typed, OpMulF64Typed, OpDivF64Typed:
		return TypeF64
	default:
		return TypeI32
	}
}

// EntryKey identifies one compiled loop entry by function identity and
// loop header offset.
type EntryKey struct {
	Fn         *FunctionObject
	LoopOffset int
}

// entryCacheSlot pairs a compiled entry with the epoch and per-register
// typed-cache generations that were true when it was compiled. A lookup
// only succeeds if every one of those still holds.
type entryCacheSlot struct {
	entry        *JITEntry
	epoch        uint64
	regGenerations map[int]uint32
}

// EntryCache is the table mapping (function, loop) to a compiled native
// entry point and its generation.
type EntryCache struct {
	slots map[EntryKey]*entryCacheSlot
	epoch uint64
}

func NewEntryCache() *EntryCache {
	return &EntryCache{slots: make(map[EntryKey]*entryCacheSlot)}
}

// Bump advances the cache-wide epoch, invalidating every entry regardless
// of per-register generation. Used for GC cycles that may free closures
// or chunks, explicit shutdown flush, and bytecode edits.
func (ec *EntryCache) Bump() { ec.epoch++ }

// Insert registers a freshly compiled entry, capturing the current epoch
// and the typed-register generations it depends on.
func (ec *EntryCache) Insert(key EntryKey, entry *JITEntry, regGens map[int]uint32) {
	ec.slots[key] = &entryCacheSlot{entry: entry, epoch: ec.epoch, regGenerations: regGens}
}

// Lookup returns the cached entry for key if it's still valid: the cache
// epoch hasn't advanced since compilation, and every captured register's
// typed-cache generation is unchanged (a type-changing write bumped it).
func (ec *EntryCache) Lookup(key EntryKey, typed *TypedRegisterCache) (*JITEntry, bool) {
	slot, ok := ec.slots[key]
	if !ok || slot.epoch != ec.epoch {
		return nil, false
	}
	for id, gen := range slot.regGenerations {
		if typed.Generation(id) != gen {
			delete(ec.slots, key)
			return nil, false
		}
	}
	return slot.entry, true
}

// Invalidate drops a single key, used when the loop's bytecode is edited
// without requiring a full epoch bump.
func (ec *EntryCache) Invalidate(key EntryKey) { delete(ec.slots, key) }
