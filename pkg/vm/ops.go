package vm

import (
	"fmt"
	"math"
	"strings"

	orerrors "orus/pkg/errors"
)

// isFusableOp reports whether op is a candidate for the profiler's fusion
// window: the typed arithmetic and comparison family a
// specialized fused handler could subsume, the same family
// OP_INC_CMP_JMP/OP_DEC_CMP_JMP already hand-fuse for loop counters. Any
// other opcode breaks a run of these and resets the window.
func isFusableOp(op OpCode) bool {
	switch op {
	case OpAddI32Typed, OpSubI32Typed, OpMulI32Typed, OpDivI32Typed,
		OpAddI64Typed, OpSubI64Typed, OpMulI64Typed, OpDivI64Typed,
		OpAddU32Typed, OpSubU32Typed, OpMulU32Typed, OpDivU32Typed,
		OpAddU64Typed, OpSubU64Typed, OpMulU64Typed, OpDivU64Typed,
		OpAddF64Typed, OpSubF64Typed, OpMulF64Typed, OpDivF64Typed,
		OpCmpEqual, OpCmpNotEqual, OpCmpLess, OpCmpLessEqual, OpCmpGreater, OpCmpGreaterEqual:
		return true
	default:
		return false
	}
}

// execTypedArith implements the twenty OP_*_TYPED opcodes: read both operands from the typed register cache when possible,
// falling back to the boxed register on a cache miss, and route the actual
// checked math through arith.go so the interpreter and the JIT backend can
// never diverge on overflow semantics.
func (vm *VM) execTypedArith(op OpCode, chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	a := vm.readReg(chunk, frame)
	b := vm.readReg(chunk, frame)

	switch typedArithValueType(op) {
	case TypeI32:
		x, ok := vm.Typed.TryReadI32(a)
		if !ok {
			x = vm.getReg(a).AsI32()
		}
		y, ok := vm.Typed.TryReadI32(b)
		if !ok {
			y = vm.getReg(b).AsI32()
		}
		var r int32
		var err *ArithFault
		switch op {
		case OpAddI32Typed:
			r, err = AddI32Checked(x, y)
		case OpSubI32Typed:
			r, err = SubI32Checked(x, y)
		case OpMulI32Typed:
			r, err = MulI32Checked(x, y)
		case OpDivI32Typed:
			r, err = DivI32Checked(x, y)
		}
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		v := I32(r)
		vm.storeTypedHot(dst, v)

	case TypeI64:
		x, ok := vm.Typed.TryReadI64(a)
		if !ok {
			x = vm.getReg(a).AsI64()
		}
		y, ok := vm.Typed.TryReadI64(b)
		if !ok {
			y = vm.getReg(b).AsI64()
		}
		var r int64
		var err *ArithFault
		switch op {
		case OpAddI64Typed:
			r, err = AddI64Checked(x, y)
		case OpSubI64Typed:
			r, err = SubI64Checked(x, y)
		case OpMulI64Typed:
			r, err = MulI64Checked(x, y)
		case OpDivI64Typed:
			r, err = DivI64Checked(x, y)
		}
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		v := I64(r)
		vm.storeTypedHot(dst, v)

	case TypeU32:
		x, ok := vm.Typed.TryReadU32(a)
		if !ok {
			x = vm.getReg(a).AsU32()
		}
		y, ok := vm.Typed.TryReadU32(b)
		if !ok {
			y = vm.getReg(b).AsU32()
		}
		var r uint32
		var err *ArithFault
		switch op {
		case OpAddU32Typed:
			r, err = AddU32Checked(x, y)
		case OpSubU32Typed:
			r, err = SubU32Checked(x, y)
		case OpMulU32Typed:
			r, err = MulU32Checked(x, y)
		case OpDivU32Typed:
			r, err = DivU32Checked(x, y)
		}
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		v := U32(r)
		vm.storeTypedHot(dst, v)

	case TypeU64:
		x, ok := vm.Typed.TryReadU64(a)
		if !ok {
			x = vm.getReg(a).AsU64()
		}
		y, ok := vm.Typed.TryReadU64(b)
		if !ok {
			y = vm.getReg(b).AsU64()
		}
		var r uint64
		var err *ArithFault
		switch op {
		case OpAddU64Typed:
			r, err = AddU64Checked(x, y)
		case OpSubU64Typed:
			r, err = SubU64Checked(x, y)
		case OpMulU64Typed:
			r, err = MulU64Checked(x, y)
		case OpDivU64Typed:
			r, err = DivU64Checked(x, y)
		}
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		v := U64(r)
		vm.storeTypedHot(dst, v)

	case TypeF64:
		x, ok := vm.Typed.TryReadF64(a)
		if !ok {
			x = vm.getReg(a).AsF64()
		}
		y, ok := vm.Typed.TryReadF64(b)
		if !ok {
			y = vm.getReg(b).AsF64()
		}
		var r float64
		var err *ArithFault
		switch op {
		case OpAddF64Typed:
			r, err = AddF64Checked(x, y)
		case OpSubF64Typed:
			r, err = SubF64Checked(x, y)
		case OpMulF64Typed:
			r, err = MulF64Checked(x, y)
		case OpDivF64Typed:
			r, err = DivF64Checked(x, y)
		}
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		v := F64(r)
		vm.storeTypedHot(dst, v)
	}
	return InterpretOK
}

// execGenericArith implements the five OP_*_NUMERIC opcodes:
// untyped arithmetic across boxed registers of any matching numeric kind.
// Mixed kinds (an i32 plus an f64, say) are a type fault; operands are never
// coerced to a common kind. The only widening is of the result: an i32
// add/sub/mul that overflows produces an i64, and a u32 add/mul that
// overflows produces a u64.
func (vm *VM) execGenericArith(op OpCode, chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	a := vm.readReg(chunk, frame)
	b := vm.readReg(chunk, frame)
	av, bv := vm.getReg(a), vm.getReg(b)

	if av.Type() != bv.Type() {
		return vm.fault(orerrors.KindType, "arithmetic requires matching numeric types, got %s and %s", av.Type(), bv.Type())
	}

	var result Value
	var err *ArithFault
	switch av.Type() {
	case TypeI32:
		x, y := av.AsI32(), bv.AsI32()
		switch op {
		case OpAddNumeric:
			result = AddI32Promoting(x, y)
		case OpSubNumeric:
			result = SubI32Promoting(x, y)
		case OpMulNumeric:
			result = MulI32Promoting(x, y)
		case OpDivNumeric:
			var r int32
			r, err = DivI32Checked(x, y)
			result = I32(r)
		case OpModNumeric:
			var r int32
			r, err = ModI32Checked(x, y)
			result = I32(r)
		}
	case TypeI64:
		var r int64
		switch op {
		case OpAddNumeric:
			r, err = AddI64Checked(av.AsI64(), bv.AsI64())
		case OpSubNumeric:
			r, err = SubI64Checked(av.AsI64(), bv.AsI64())
		case OpMulNumeric:
			r, err = MulI64Checked(av.AsI64(), bv.AsI64())
		case OpDivNumeric:
			r, err = DivI64Checked(av.AsI64(), bv.AsI64())
		case OpModNumeric:
			r, err = ModI64Checked(av.AsI64(), bv.AsI64())
		}
		result = I64(r)
	case TypeU32:
		x, y := av.AsU32(), bv.AsU32()
		switch op {
		case OpAddNumeric:
			result = AddU32Promoting(x, y)
		case OpSubNumeric:
			var r uint32
			r, err = SubU32Checked(x, y)
			result = U32(r)
		case OpMulNumeric:
			result = MulU32Promoting(x, y)
		case OpDivNumeric:
			var r uint32
			r, err = DivU32Checked(x, y)
			result = U32(r)
		case OpModNumeric:
			var r uint32
			if y == 0 {
				err = fault(orerrors.KindDivisionByZero, "modulo by zero")
			} else {
				r = x % y
			}
			result = U32(r)
		}
	case TypeU64:
		x, y := av.AsU64(), bv.AsU64()
		var r uint64
		switch op {
		case OpAddNumeric:
			r, err = AddU64Checked(x, y)
		case OpSubNumeric:
			r, err = SubU64Checked(x, y)
		case OpMulNumeric:
			r, err = MulU64Checked(x, y)
		case OpDivNumeric:
			r, err = DivU64Checked(x, y)
		case OpModNumeric:
			if y == 0 {
				err = fault(orerrors.KindDivisionByZero, "modulo by zero")
			} else {
				r = x % y
			}
		}
		result = U64(r)
	case TypeF64:
		x, y := av.AsF64(), bv.AsF64()
		var r float64
		switch op {
		case OpAddNumeric:
			r, err = AddF64Checked(x, y)
		case OpSubNumeric:
			r, err = SubF64Checked(x, y)
		case OpMulNumeric:
			r, err = MulF64Checked(x, y)
		case OpDivNumeric:
			r, err = DivF64Checked(x, y)
		case OpModNumeric:
			if y == 0.0 {
				err = fault(orerrors.KindFloatNonFinite, "modulo by zero")
			} else {
				r, err = finiteResult(math.Mod(x, y))
			}
		}
		result = F64(r)
	default:
		return vm.fault(orerrors.KindType, "arithmetic requires a numeric operand, got %s", av.Type())
	}

	if err != nil {
		return vm.fault(err.Kind, "%s", err.Msg)
	}
	vm.setReg(dst, result)
	vm.Typed.StoreValue(dst, result)
	return InterpretOK
}

// execNegate implements OP_NEGATE_NUMERIC: unsigned kinds have
// no negation (there is no signed counterpart to promote into), so that's a
// type fault rather than a silent wraparound.
func (vm *VM) execNegate(dst, src int) InterpretResult {
	v := vm.getReg(src)
	var result Value
	switch v.Type() {
	case TypeI32:
		r, err := SubI32Checked(0, v.AsI32())
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		result = I32(r)
	case TypeI64:
		r, err := SubI64Checked(0, v.AsI64())
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		result = I64(r)
	case TypeF64:
		r, err := finiteResult(-v.AsF64())
		if err != nil {
			return vm.fault(err.Kind, "%s", err.Msg)
		}
		result = F64(r)
	default:
		return vm.fault(orerrors.KindType, "negation requires a signed numeric operand, got %s", v.Type())
	}
	vm.setReg(dst, result)
	vm.Typed.StoreValue(dst, result)
	return InterpretOK
}

// execCompare implements the six OP_CMP_* opcodes. Equality
// is defined on every value kind via Equal; ordering is only defined
// between two values of the same numeric kind.
func (vm *VM) execCompare(op OpCode, chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	a := vm.readReg(chunk, frame)
	b := vm.readReg(chunk, frame)
	av, bv := vm.getReg(a), vm.getReg(b)

	if op == OpCmpEqual || op == OpCmpNotEqual {
		eq := Equal(av, bv)
		if op == OpCmpNotEqual {
			eq = !eq
		}
		v := Bool(eq)
		vm.setReg(dst, v)
		vm.Typed.StoreValue(dst, v)
		return InterpretOK
	}

	if av.Type() != bv.Type() {
		return vm.fault(orerrors.KindType, "comparison requires matching types, got %s and %s", av.Type(), bv.Type())
	}

	var result bool
	switch av.Type() {
	case TypeI32:
		result = compareOrdered(op, int64(av.AsI32()), int64(bv.AsI32()))
	case TypeI64:
		result = compareOrdered(op, av.AsI64(), bv.AsI64())
	case TypeU32:
		result = compareOrderedU(op, uint64(av.AsU32()), uint64(bv.AsU32()))
	case TypeU64:
		result = compareOrderedU(op, av.AsU64(), bv.AsU64())
	case TypeF64:
		result = compareOrderedF(op, av.AsF64(), bv.AsF64())
	default:
		return vm.fault(orerrors.KindType, "ordering comparison requires a numeric operand, got %s", av.Type())
	}
	v := Bool(result)
	vm.setReg(dst, v)
	vm.Typed.StoreValue(dst, v)
	return InterpretOK
}

func compareOrdered(op OpCode, a, b int64) bool {
	switch op {
	case OpCmpLess:
		return a < b
	case OpCmpLessEqual:
		return a <= b
	case OpCmpGreater:
		return a > b
	case OpCmpGreaterEqual:
		return a >= b
	default:
		return false
	}
}

func compareOrderedU(op OpCode, a, b uint64) bool {
	switch op {
	case OpCmpLess:
		return a < b
	case OpCmpLessEqual:
		return a <= b
	case OpCmpGreater:
		return a > b
	case OpCmpGreaterEqual:
		return a >= b
	default:
		return false
	}
}

func compareOrderedF(op OpCode, a, b float64) bool {
	switch op {
	case OpCmpLess:
		return a < b
	case OpCmpLessEqual:
		return a <= b
	case OpCmpGreater:
		return a > b
	case OpCmpGreaterEqual:
		return a >= b
	default:
		return false
	}
}

// execFusedCmpJump implements OP_INC_CMP_JMP / OP_DEC_CMP_JMP: the fused counter-advance-and-branch the profiler watches
// for hot-loop promotion, and the JIT's actual compilation unit once a loop
// crosses the hot-loop threshold.
func (vm *VM) execFusedCmpJump(op OpCode, chunk *Chunk, frame *CallFrame) InterpretResult {
	counter := vm.readReg(chunk, frame)
	limit := vm.readReg(chunk, frame)
	off := int(chunk.ReadUint16(frame.IP))
	frame.IP += 2
	loopStart := frame.IP - off

	if res := vm.reconcileAndMaybeGC(); res != InterpretOK {
		return res
	}
	if res := vm.checkLoopGuard(); res != InterpretOK {
		return res
	}

	fn := frame.Closure.Fn
	if vm.Config.Profiling.HotPaths {
		vm.Prof.SampleLoop(fn, loopStart)
	}

	if vm.Config.EnableJIT && vm.Prof.IsHot(fn, loopStart) {
		if res, handled := vm.tryRunCompiledLoop(chunk, frame, loopStart); handled {
			return res
		}
	}

	var cur int64
	if v, ok := vm.Typed.TryReadI64(counter); ok {
		cur = v
	} else {
		cur = vm.getReg(counter).AsI64()
	}
	var lim int64
	if v, ok := vm.Typed.TryReadI64(limit); ok {
		lim = v
	} else {
		lim = vm.getReg(limit).AsI64()
	}

	if op == OpIncCmpJmp {
		cur++
	} else {
		cur--
	}
	nv := I64(cur)
	vm.storeTypedHot(counter, nv)

	var cont bool
	if op == OpIncCmpJmp {
		cont = cur < lim
	} else {
		cont = cur > lim
	}
	if cont && !vm.isShuttingDown {
		frame.IP = loopStart
	} else {
		// Loop exit. The counter may have gone dirty on every iteration
		// above; this is the single boxed write that catches it up.
		vm.Typed.Reconcile(counter, vm.Regs)
	}
	return InterpretOK
}

// tryRunCompiledLoop looks up (or builds) a JIT entry for the loop starting
// at loopStart and runs it. Reports handled=false whenever the block can't
// be compiled at all, letting the caller fall back to plain interpretation
// for this iteration without treating the failure as fatal.
func (vm *VM) tryRunCompiledLoop(chunk *Chunk, frame *CallFrame, loopStart int) (InterpretResult, bool) {
	fn := frame.Closure.Fn
	key := EntryKey{Fn: fn, LoopOffset: loopStart}

	entry, ok := vm.Entries.Lookup(key, vm.Typed)
	if !ok {
		ir, failure := LiftBlock(chunk, loopStart, frame.IP, vm.Typed)
		if failure != nil {
			return InterpretOK, false
		}
		compiled, touched, failure2 := CompileBlock(ir, fn.Name, vm.Config.JITAllowedKinds)
		if failure2 != nil {
			return InterpretOK, false
		}
		regGens := make(map[int]uint32, len(touched))
		for id := range touched {
			regGens[id] = vm.Typed.Generation(id)
		}
		vm.Entries.Insert(key, compiled, regGens)
		entry = compiled
	}

	result := entry.Run(vm)
	// The JIT addresses registers through JITExecContext's own Set* methods
	// (pkg/vm/jit_context.go), which defer boxed writes the same way
	// storeTypedHot does. Control is about to fall back into the
	// interpreter's dispatch loop (or the deopt offset), which reads
	// registers through vm.getReg, safe without this, but other observers
	// (GC roots, upvalue capture) read boxed registers directly, so the
	// compiled loop's exit is reconciled here rather than left to the next
	// backward jump.
	vm.Typed.ReconcileAll(vm.Regs)
	if result.Deoptimized {
		frame.IP = result.Offset
	}
	return InterpretOK, true
}

// reconcileAndMaybeGC is the safepoint every backward jump passes
// through. A hot-path store (storeTypedHot) may have left the typed
// mirror ahead of the boxed register it shadows; the mark phase only walks
// boxed Values (pkg/vm/gc.go's Collect), so everything dirty must be
// flushed before a collection actually runs. Reconciling is skipped unless
// a collection is about to happen, so an ordinary backward jump that
// doesn't trigger GC costs nothing beyond the threshold check.
func (vm *VM) reconcileAndMaybeGC() InterpretResult {
	if !vm.GCObj.ShouldCollect() {
		return InterpretOK
	}
	vm.Typed.ReconcileAll(vm.Regs)
	vm.GCObj.Collect(vm)
	return InterpretOK
}

// checkLoopGuard implements the loop-safety guard: warn once at
// GuardThreshold, error at MaxIterations (0 disables the error).
func (vm *VM) checkLoopGuard() InterpretResult {
	vm.loopIterations++
	if vm.Config.MaxIterations > 0 && vm.loopIterations > vm.Config.MaxIterations {
		return vm.fault(orerrors.KindRuntime, "loop exceeded maximum iteration count (%d)", vm.Config.MaxIterations)
	}
	if !vm.guardWarned && vm.Config.GuardThreshold > 0 && vm.loopIterations >= vm.Config.GuardThreshold {
		vm.guardWarned = true
		vm.out.Println(fmt.Sprintf("warning: loop has run %d iterations without returning", vm.loopIterations))
	}
	return InterpretOK
}

// execMakeArray implements OP_MAKE_ARRAY: materializes a contiguous run of
// registers into a heap array.
func (vm *VM) execMakeArray(chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	start := vm.readReg(chunk, frame)
	count := int(chunk.ReadUint16(frame.IP))
	frame.IP += 2

	elems := make([]Value, count)
	for i := 0; i < count; i++ {
		elems[i] = vm.getReg(start + i)
	}
	arrVal := NewArray(elems)
	vm.GCObj.Track(arrVal.Object())
	vm.setReg(dst, arrVal)
	vm.Typed.Invalidate(dst)
	return InterpretOK
}

func arrayIndex(v Value) (int64, bool) {
	switch v.Type() {
	case TypeI32:
		return int64(v.AsI32()), true
	case TypeI64:
		return v.AsI64(), true
	default:
		return 0, false
	}
}

// execGetIndex implements OP_GET_INDEX.
func (vm *VM) execGetIndex(chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	arrReg := vm.readReg(chunk, frame)
	idxReg := vm.readReg(chunk, frame)

	arrVal := vm.getReg(arrReg)
	if arrVal.Type() != TypeArray {
		return vm.fault(orerrors.KindType, "index operator requires an array, got %s", arrVal.Type())
	}
	idx, ok := arrayIndex(vm.getReg(idxReg))
	if !ok {
		return vm.fault(orerrors.KindType, "array index must be an integer")
	}
	arr := arrVal.Object().Data.(*ArrayObject)
	if idx < 0 || idx >= int64(len(arr.Elements)) {
		return vm.fault(orerrors.KindIndex, "index %d out of range [0, %d)", idx, len(arr.Elements))
	}
	v := arr.Elements[idx]
	vm.setReg(dst, v)
	vm.Typed.Invalidate(dst)
	if !v.IsHeap() {
		vm.Typed.StoreValue(dst, v)
	}
	return InterpretOK
}

// execSetIndex implements OP_SET_INDEX.
func (vm *VM) execSetIndex(chunk *Chunk, frame *CallFrame) InterpretResult {
	arrReg := vm.readReg(chunk, frame)
	idxReg := vm.readReg(chunk, frame)
	valReg := vm.readReg(chunk, frame)

	arrVal := vm.getReg(arrReg)
	if arrVal.Type() != TypeArray {
		return vm.fault(orerrors.KindType, "index assignment requires an array, got %s", arrVal.Type())
	}
	idx, ok := arrayIndex(vm.getReg(idxReg))
	if !ok {
		return vm.fault(orerrors.KindType, "array index must be an integer")
	}
	arr := arrVal.Object().Data.(*ArrayObject)
	if idx < 0 || idx >= int64(len(arr.Elements)) {
		return vm.fault(orerrors.KindIndex, "index %d out of range [0, %d)", idx, len(arr.Elements))
	}
	arr.Elements[idx] = vm.getReg(valReg)
	return InterpretOK
}

// execIterNext implements OP_ITER_NEXT: advance the iterator, jumping
// forward past the loop body once it's exhausted.
func (vm *VM) execIterNext(chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	iterReg := vm.readReg(chunk, frame)
	off := int(chunk.ReadUint16(frame.IP))
	frame.IP += 2

	iterVal := vm.getReg(iterReg)
	var v Value
	var ok bool
	switch iterVal.Type() {
	case TypeRangeIterator:
		it := iterVal.Object().Data.(*RangeIteratorObject)
		v, ok = it.Next()
	case TypeArrayIterator:
		it := iterVal.Object().Data.(*ArrayIteratorObject)
		v, ok = it.Next()
	default:
		return vm.fault(orerrors.KindType, "for-loop requires an iterator, got %s", iterVal.Type())
	}
	if !ok {
		frame.IP = vm.applyForwardJump(frame.IP, off, chunk)
		return InterpretOK
	}
	vm.setReg(dst, v)
	vm.Typed.Invalidate(dst)
	if !v.IsHeap() {
		vm.Typed.StoreValue(dst, v)
	}
	return InterpretOK
}

// execMakeEnum implements OP_MAKE_ENUM. The type constant is compiled as a
// single "TypeName::VariantName" string so the wire format doesn't need a
// second constant-pool slot per variant.
func (vm *VM) execMakeEnum(chunk *Chunk, frame *CallFrame) InterpretResult {
	dst := vm.readReg(chunk, frame)
	typeIdx := vm.readConstIdx(chunk, frame)
	variant := int(chunk.Code[frame.IP])
	frame.IP++
	payloadStart := vm.readReg(chunk, frame)
	payloadCount := int(chunk.Code[frame.IP])
	frame.IP++

	label := chunk.Constants[typeIdx].String()
	typeName, variantName := label, fmt.Sprintf("variant%d", variant)
	if i := strings.Index(label, "::"); i >= 0 {
		typeName, variantName = label[:i], label[i+2:]
	}

	payload := make([]Value, payloadCount)
	for i := 0; i < payloadCount; i++ {
		payload[i] = vm.getReg(payloadStart + i)
	}
	enumVal := NewEnumInstance(typeName, variantName, variant, payload)
	vm.GCObj.Track(enumVal.Object())
	vm.setReg(dst, enumVal)
	vm.Typed.Invalidate(dst)
	return InterpretOK
}

