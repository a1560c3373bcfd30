package vm

// JITExecContext is the narrow view of VM state a compiled entry is
// allowed to touch. The VM (pkg/vm/vm.go) implements this directly against
// its own typed register cache, so a compiled entry never holds a pointer
// into VM-owned memory beyond the lifetime of one call.
type JITExecContext interface {
	I32(id int) int32
	SetI32(id int, v int32)
	I64(id int) int64
	SetI64(id int, v int64)
	U32(id int) uint32
	SetU32(id int, v uint32)
	U64(id int) uint64
	SetU64(id int, v uint64)
	F64(id int) float64
	SetF64(id int, v float64)
	Bool(id int) bool
	SetBool(id int, v bool)
}

// DeoptResult is what an entry returns on exit: either
// normal completion past the loop, or a deoptimization with the bytecode
// offset to resume interpretation at and a human-readable reason.
type DeoptResult struct {
	Deoptimized bool
	Offset      int
	Reason      string
}

// JITEntry is the compiled artifact handed to the entry cache.
// CodePointer and Size are nominal fields only: this backend compiles to
// Go closures ("threaded code"), not machine code in an executable page,
// so there is no real code pointer to report; they exist so debug tooling
// has somewhere to put a size estimate.
type JITEntry struct {
	Run         func(ctx JITExecContext) DeoptResult
	CodePointer uintptr
	Size        int
	DebugName   string
}

// compiledOp is one lifted IR instruction turned into a Go closure over
// typed register ids. Returning a non-nil *DeoptResult aborts the entry
// immediately with that result.
type compiledOp func(ctx JITExecContext) *DeoptResult

// CompileBlock turns lifted IR into a JITEntry. Failure categories mirror
// LiftBlock's; a block can still fail here if it used a value kind the
// current JIT rollout stage doesn't allow.
func CompileBlock(ir []IRInstr, debugName string, allowedKinds map[ValueType]bool) (*JITEntry, map[int]uint32, *TranslationFailure) {
	var body []compiledOp
	var loopCheck func(ctx JITExecContext) (continueLoop bool, deopt *DeoptResult)
	touched := make(map[int]bool)

	for _, instr := range ir {
		switch instr.Kind {
		case IRSafepoint:
			continue
		case IRMove:
			if !allowedKinds[instr.ValueType] && instr.ValueType != TypeNone {
				return nil, nil, &TranslationFailure{Category: FailUnsupportedValueKind, Offset: instr.Offset, Detail: instr.ValueType.String()}
			}
			body = append(body, compileMove(instr))
		case IRArith:
			if allowedKinds != nil && !allowedKinds[instr.ValueType] {
				return nil, nil, &TranslationFailure{Category: FailUnsupportedValueKind, Offset: instr.Offset, Detail: instr.ValueType.String()}
			}
			op, err := compileArith(instr)
			if err != nil {
				return nil, nil, err
			}
			body = append(body, op)
		case IRCompare:
			if allowedKinds != nil && !allowedKinds[instr.ValueType] {
				return nil, nil, &TranslationFailure{Category: FailUnsupportedValueKind, Offset: instr.Offset, Detail: instr.ValueType.String()}
			}
			body = append(body, compileCompare(instr))
		case IRFusedCmpJump:
			loopCheck = compileFusedCmpJump(instr)
		case IRLoopBack:
			// A bare LOOP with no fused compare always continues; the
			// interpreter is responsible for re-checking any separate
			// condition register before re-entering a lifted block of
			// this shape, so the JIT only ever lifts loops that end in a
			// fused compare-jump.
			return nil, nil, &TranslationFailure{Category: FailControlFlowComplexity, Offset: instr.Offset, Detail: "loop without fused compare"}
		default:
			return nil, nil, &TranslationFailure{Category: FailUnsupportedOpcode, Offset: instr.Offset, Detail: instr.Op.String()}
		}
		switch instr.Kind {
		case IRArith, IRMove, IRCompare:
			touched[instr.Dst] = true
			touched[instr.A] = true
			touched[instr.B] = true
		case IRFusedCmpJump:
			touched[instr.Dst] = true
			touched[instr.A] = true
		}
	}

	if loopCheck == nil {
		return nil, nil, &TranslationFailure{Category: FailControlFlowComplexity, Offset: 0, Detail: "block has no loop exit"}
	}

	// Callers (the VM, compiling this block) are expected to snapshot each
	// touched register's current typed-cache generation into the returned
	// map before inserting the entry; CompileBlock only knows which
	// registers matter, not their live generation values.
	regGens := make(map[int]uint32, len(touched))
	for id := range touched {
		regGens[id] = 0
	}

	// Entries are invoked from the loop's back-edge: the interpreter has
	// already run the body for the current iteration and is sitting on the
	// fused compare-jump, so the counter check comes FIRST, and the body
	// only re-runs for iterations the check admits. Running the body before
	// the first check would execute it one extra time per entry.
	run := func(ctx JITExecContext) DeoptResult {
		for {
			cont, dr := loopCheck(ctx)
			if dr != nil {
				return *dr
			}
			if !cont {
				return DeoptResult{}
			}
			for _, op := range body {
				if dr := op(ctx); dr != nil {
					return *dr
				}
			}
		}
	}

	return &JITEntry{Run: run, DebugName: debugName, Size: len(ir)}, regGens, nil
}

func compileMove(instr IRInstr) compiledOp {
	dst, src := instr.Dst, instr.A
	return func(ctx JITExecContext) *DeoptResult {
		ctx.SetI64(dst, ctx.I64(src))
		return nil
	}
}

func compileArith(instr IRInstr) (compiledOp, *TranslationFailure) {
	dst, a, b, offset := instr.Dst, instr.A, instr.B, instr.Offset
	switch instr.Op {
	case OpAddI32Typed:
		return arithI32(dst, a, b, offset, AddI32Checked), nil
	case OpSubI32Typed:
		return arithI32(dst, a, b, offset, SubI32Checked), nil
	case OpMulI32Typed:
		return arithI32(dst, a, b, offset, MulI32Checked), nil
	case OpDivI32Typed:
		return arithI32(dst, a, b, offset, DivI32Checked), nil
	case OpAddI64Typed:
		return arithI64(dst, a, b, offset, AddI64Checked), nil
	case OpSubI64Typed:
		return arithI64(dst, a, b, offset, SubI64Checked), nil
	case OpMulI64Typed:
		return arithI64(dst, a, b, offset, MulI64Checked), nil
	case OpDivI64Typed:
		return arithI64(dst, a, b, offset, DivI64Checked), nil
	case OpAddU32Typed:
		return arithU32(dst, a, b, offset, AddU32Checked), nil
	case OpSubU32Typed:
		return arithU32(dst, a, b, offset, SubU32Checked), nil
	case OpMulU32Typed:
		return arithU32(dst, a, b, offset, MulU32Checked), nil
	case OpDivU32Typed:
		return arithU32(dst, a, b, offset, DivU32Checked), nil
	case OpAddU64Typed:
		return arithU64(dst, a, b, offset, AddU64Checked), nil
	case OpSubU64Typed:
		return arithU64(dst, a, b, offset, SubU64Checked), nil
	case OpMulU64Typed:
		return arithU64(dst, a, b, offset, MulU64Checked), nil
	case OpDivU64Typed:
		return arithU64(dst, a, b, offset, DivU64Checked), nil
	case OpAddF64Typed:
		return arithF64(dst, a, b, offset, AddF64Checked), nil
	case OpSubF64Typed:
		return arithF64(dst, a, b, offset, SubF64Checked), nil
	case OpMulF64Typed:
		return arithF64(dst, a, b, offset, MulF64Checked), nil
	case OpDivF64Typed:
		return arithF64(dst, a, b, offset, DivF64Checked), nil
	default:
		return nil, &TranslationFailure{Category: FailUnsupportedOpcode, Offset: offset, Detail: instr.Op.String()}
	}
}

func arithI32(dst, a, b, offset int, fn func(int32, int32) (int32, *ArithFault)) compiledOp {
	return func(ctx JITExecContext) *DeoptResult {
		r, err := fn(ctx.I32(a), ctx.I32(b))
		if err != nil {
			return &DeoptResult{Deoptimized: true, Offset: offset, Reason: err.Error()}
		}
		ctx.SetI32(dst, r)
		return nil
	}
}

func arithI64(dst, a, b, offset int, fn func(int64, int64) (int64, *ArithFault)) compiledOp {
	return func(ctx JITExecContext) *DeoptResult {
		r, err := fn(ctx.I64(a), ctx.I64(b))
		if err != nil {
			return &DeoptResult{Deoptimized: true, Offset: offset, Reason: err.Error()}
		}
		ctx.SetI64(dst, r)
		return nil
	}
}

func arithU32(dst, a, b, offset int, fn func(uint32, uint32) (uint32, *ArithFault)) compiledOp {
	return func(ctx JITExecContext) *DeoptResult {
		r, err := fn(ctx.U32(a), ctx.U32(b))
		if err != nil {
			return &DeoptResult{Deoptimized: true, Offset: offset, Reason: err.Error()}
		}
		ctx.SetU32(dst, r)
		return nil
	}
}

func arithU64(dst, a, b, offset int, fn func(uint64, uint64) (uint64, *ArithFault)) compiledOp {
	return func(ctx JITExecContext) *DeoptResult {
		r, err := fn(ctx.U64(a), ctx.U64(b))
		if err != nil {
			return &DeoptResult{Deoptimized: true, Offset: offset, Reason: err.Error()}
		}
		ctx.SetU64(dst, r)
		return nil
	}
}

func arithF64(dst, a, b, offset int, fn func(float64, float64) (float64, *ArithFault)) compiledOp {
	return func(ctx JITExecContext) *DeoptResult {
		r, err := fn(ctx.F64(a), ctx.F64(b))
		if err != nil {
			return &DeoptResult{Deoptimized: true, Offset: offset, Reason: err.Error()}
		}
		ctx.SetF64(dst, r)
		return nil
	}
}

// compileCompare dispatches on the operand kind LiftBlock resolved, so a
// compiled comparison orders u64 and f64 registers by value exactly as the
// interpreter's execCompare does, never by raw payload bits.
func compileCompare(instr IRInstr) compiledOp {
	dst, a, b, op := instr.Dst, instr.A, instr.B, instr.Op
	switch instr.ValueType {
	case TypeI32:
		return func(ctx JITExecContext) *DeoptResult {
			ctx.SetBool(dst, evalCompareI64(op, int64(ctx.I32(a)), int64(ctx.I32(b))))
			return nil
		}
	case TypeU32:
		return func(ctx JITExecContext) *DeoptResult {
			ctx.SetBool(dst, evalCompareU64(op, uint64(ctx.U32(a)), uint64(ctx.U32(b))))
			return nil
		}
	case TypeU64:
		return func(ctx JITExecContext) *DeoptResult {
			ctx.SetBool(dst, evalCompareU64(op, ctx.U64(a), ctx.U64(b)))
			return nil
		}
	case TypeF64:
		return func(ctx JITExecContext) *DeoptResult {
			ctx.SetBool(dst, evalCompareF64(op, ctx.F64(a), ctx.F64(b)))
			return nil
		}
	default:
		return func(ctx JITExecContext) *DeoptResult {
			ctx.SetBool(dst, evalCompareI64(op, ctx.I64(a), ctx.I64(b)))
			return nil
		}
	}
}

func evalCompareI64(op OpCode, a, b int64) bool {
	switch op {
	case OpCmpEqual:
		return a == b
	case OpCmpNotEqual:
		return a != b
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

func evalCompareU64(op OpCode, a, b uint64) bool {
	switch op {
	case OpCmpEqual:
		return a == b
	case OpCmpNotEqual:
		return a != b
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

func evalCompareF64(op OpCode, a, b float64) bool {
	switch op {
	case OpCmpEqual:
		return a == b
	case OpCmpNotEqual:
		return a != b
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

// compileFusedCmpJump builds the loop's back-edge decision: advance the
// counter, compare to the limit, and report whether to loop again.
func compileFusedCmpJump(instr IRInstr) func(ctx JITExecContext) (bool, *DeoptResult) {
	counter, limit, inc := instr.Dst, instr.A, instr.Op == OpIncCmpJmp
	return func(ctx JITExecContext) (bool, *DeoptResult) {
		cur := ctx.I64(counter)
		if inc {
			cur++
		} else {
			cur--
		}
		ctx.SetI64(counter, cur)
		lim := ctx.I64(limit)
		if inc {
			return cur < lim, nil
		}
		return cur > lim, nil
	}
}
