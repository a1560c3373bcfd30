package vm

import (
	"fmt"

	orerrors "orus/pkg/errors"
)

// InterpretResult is the outcome of running a chunk.
type InterpretResult uint8

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// NativeFn is the native function ABI. A native sees a read-only slice of
// the argument registers and must not retain a pointer to it beyond the
// call. It signals a fault by returning an error-kind Value rather than a
// Go error, keeping the single-return shape.
type NativeFn func(args []Value) Value

// CallFrame tracks one active function activation's control state; the
// register window it owns lives in the RegisterFile's FrameStack, kept
// separate so the windowing concern doesn't get tangled with call
// bookkeeping.
type CallFrame struct {
	Closure     *ClosureObject
	IP          int
	ResultReg   int // register in the CALLER to receive this call's return value
	IsTailCall  bool
	TryBase     int // index into vm.tryStack marking frames belonging to this call
}

// TryFrame is one entry of the try-frame stack.
type TryFrame struct {
	HandlerOffset int
	CatchReg      int
	FrameIdx      int // which CallFrame this handler belongs to
}

// VM is Orus's execution context.
type VM struct {
	Config VMConfig

	Regs    *RegisterFile
	Typed   *TypedRegisterCache
	GCObj   *GC
	Prof    *Profiler
	Entries *EntryCache
	Modules *ModuleManager
	Interned *InternTable

	natives         map[string]NativeFn
	nativeOrder     []string
	nativeNameObjs  []*Object

	frames []*CallFrame
	tryStack []*TryFrame

	lastError Value
	hasError  bool

	openUpvalues []*UpvalueObject // strictly descending by (FrameIdx, SlotID), no duplicates

	loopIterations  uint64
	guardWarned     bool

	isShuttingDown bool

	scriptResult Value // the outermost frame's return value, for embedding hosts

	out Printer
}

// Printer abstracts the observable output sink, so tests can capture
// output without touching stdout.
type Printer interface {
	Println(s string)
}

type stdoutPrinter struct{}

func (stdoutPrinter) Println(s string) { fmt.Println(s) }

func (vm *VM) currentFrame() *CallFrame {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1]
}

func (vm *VM) currentChunk() *Chunk {
	f := vm.currentFrame()
	if f == nil || f.Closure == nil || f.Closure.Fn == nil {
		return nil
	}
	return f.Closure.Fn.Chunk
}

// Interpret compiles-in-the-sense-of-already-compiled and runs chunk as a
// freestanding script.
func (vm *VM) Interpret(fn *FunctionObject) InterpretResult {
	if vm.isShuttingDown {
		return InterpretRuntimeError
	}
	closure := &ClosureObject{Fn: fn}
	vm.pushCallFrame(closure, 0)
	result := vm.run()
	return result
}

// InterpretModule executes an already-loaded module record.
func (vm *VM) InterpretModule(rec *ModuleRecord) InterpretResult {
	if vm.isShuttingDown {
		return InterpretRuntimeError
	}
	prev := vm.Regs.moduleWindow
	vm.Regs.SetModuleWindow(&rec.Window)
	vm.Typed.InvalidateRange(moduleBankStart, moduleBankEnd)
	defer func() {
		vm.Regs.SetModuleWindow(prev)
		vm.Typed.InvalidateRange(moduleBankStart, moduleBankEnd)
	}()

	fn := &FunctionObject{Name: rec.Name, Chunk: rec.Chunk, RegisterSize: frameBankSize + tempBankSize}
	result := vm.Interpret(fn)
	if result == InterpretOK {
		vm.Modules.MarkExecuted(rec.Name)
	}
	return result
}

func (vm *VM) pushCallFrame(closure *ClosureObject, resultReg int) *CallFrame {
	frame := &CallFrame{Closure: closure, ResultReg: resultReg, TryBase: len(vm.tryStack)}
	vm.frames = append(vm.frames, frame)
	// Function entry is a safepoint: flush the caller's deferred hot-path
	// writes into its own window before that window is hidden.
	vm.Typed.ReconcileAll(vm.Regs)
	vm.Regs.PushFrame()
	// The frame/temp bank ids now address the callee's fresh window; any
	// typed mirror left over from the caller describes registers the callee
	// can't see (getReg would otherwise Peek the caller's values through it).
	vm.Typed.InvalidateRange(frameBankStart, tempBankEnd)
	return frame
}

func (vm *VM) popCallFrame() {
	frame := vm.currentFrame()
	if frame != nil {
		// Function return is a safepoint: reconcile
		// before closeUpvaluesFrom reads the boxed registers directly
		// (RegisterFile.GetAt bypasses the typed cache), so a just-closed
		// upvalue captures the last value actually written, not a stale
		// boxed copy left behind by a deferred hot-path store.
		vm.Typed.ReconcileAll(vm.Regs)
		vm.closeUpvaluesFrom(len(vm.frames)-1, frameBankStart)
		vm.tryStack = vm.tryStack[:frame.TryBase]
	}
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.Regs.PopFrame()
	// Same hazard in reverse: the boxed registers just reverted to the
	// caller's window, so the callee's typed mirrors must not outlive it.
	vm.Typed.InvalidateRange(frameBankStart, tempBankEnd)
}

// run is the dispatch loop: one switch case per opcode, with faults
// unwinding through the try-frame stack rather than a per-chunk exception
// table.
func (vm *VM) run() InterpretResult {
	for {
		frame := vm.currentFrame()
		if frame == nil {
			return InterpretOK
		}
		chunk := frame.Closure.Fn.Chunk
		if frame.IP < 0 || frame.IP >= len(chunk.Code) {
			if frame.IP == len(chunk.Code) {
				// Fell off the end without an explicit RETURN: treat as
				// returning an empty result, the usual top-level script
				// behavior.
				vm.doReturn(Value{})
				continue
			}
			return vm.fault(orerrors.KindRuntime, "instruction pointer %d out of bounds [0, %d)", frame.IP, len(chunk.Code))
		}

		opOffset := frame.IP
		op := OpCode(chunk.Code[frame.IP])
		frame.IP++

		if vm.Config.Profiling.Instructions {
			vm.Prof.SampleInstruction(opOffset)
			vm.Prof.FeedFusion(op, isFusableOp(op))
		}

		switch op {
		case OpLoadConst:
			dst, k := vm.readReg(chunk, frame), vm.readConstIdx(chunk, frame)
			v := chunk.Constants[k]
			vm.setReg(dst, v)
			vm.Typed.Invalidate(dst)
			if v.IsHeap() {
				// nothing further: boxed already
			} else {
				vm.Typed.StoreValue(dst, v)
			}

		case OpLoadI32Const, OpLoadI64Const, OpLoadU32Const, OpLoadU64Const, OpLoadF64Const, OpLoadBoolConst:
			dst, k := vm.readReg(chunk, frame), vm.readConstIdx(chunk, frame)
			v := chunk.Constants[k]
			vm.setReg(dst, v)
			vm.Typed.StoreValue(dst, v)

		case OpMove:
			dst, src := vm.readReg(chunk, frame), vm.readReg(chunk, frame)
			v := vm.getReg(src)
			vm.setReg(dst, v)
			vm.Typed.Invalidate(dst)
			if !v.IsHeap() {
				vm.Typed.StoreValue(dst, v)
			}

		case OpAddI32Typed, OpSubI32Typed, OpMulI32Typed, OpDivI32Typed,
			OpAddI64Typed, OpSubI64Typed, OpMulI64Typed, OpDivI64Typed,
			OpAddU32Typed, OpSubU32Typed, OpMulU32Typed, OpDivU32Typed,
			OpAddU64Typed, OpSubU64Typed, OpMulU64Typed, OpDivU64Typed,
			OpAddF64Typed, OpSubF64Typed, OpMulF64Typed, OpDivF64Typed:
			if res := vm.execTypedArith(op, chunk, frame); res != InterpretOK {
				return res
			}

		case OpAddNumeric, OpSubNumeric, OpMulNumeric, OpDivNumeric, OpModNumeric:
			if res := vm.execGenericArith(op, chunk, frame); res != InterpretOK {
				return res
			}

		case OpNegateNumeric:
			dst, src := vm.readReg(chunk, frame), vm.readReg(chunk, frame)
			if res := vm.execNegate(dst, src); res != InterpretOK {
				return res
			}

		case OpLogicalNot:
			dst, src := vm.readReg(chunk, frame), vm.readReg(chunk, frame)
			v := vm.getReg(src)
			truthy, ok := v.Truthy()
			if !ok {
				return vm.fault(orerrors.KindType, "logical not requires a bool operand, got %s", v.Type())
			}
			vm.setReg(dst, Bool(!truthy))
			vm.Typed.Invalidate(dst)

		case OpCmpEqual, OpCmpNotEqual, OpCmpLess, OpCmpLessEqual, OpCmpGreater, OpCmpGreaterEqual:
			if res := vm.execCompare(op, chunk, frame); res != InterpretOK {
				return res
			}

		case OpJumpShort:
			off := int(chunk.Code[frame.IP])
			frame.IP = vm.applyForwardJump(frame.IP+1, off, chunk)

		case OpJump:
			off := int(chunk.ReadUint16(frame.IP))
			frame.IP = vm.applyForwardJump(frame.IP+2, off, chunk)

		case OpJumpIfFalseShort:
			cond := vm.readReg(chunk, frame)
			off := int(chunk.Code[frame.IP])
			frame.IP++
			truthy, ok := vm.getReg(cond).Truthy()
			if !ok {
				return vm.fault(orerrors.KindType, "non-boolean condition")
			}
			if !truthy {
				frame.IP = vm.applyForwardJump(frame.IP, off, chunk)
			}

		case OpJumpIfFalse:
			cond := vm.readReg(chunk, frame)
			off := int(chunk.ReadUint16(frame.IP))
			frame.IP += 2
			truthy, ok := vm.getReg(cond).Truthy()
			if !ok {
				return vm.fault(orerrors.KindType, "non-boolean condition")
			}
			if !truthy {
				frame.IP = vm.applyForwardJump(frame.IP, off, chunk)
			}

		case OpLoop:
			off := int(chunk.ReadUint16(frame.IP))
			frame.IP += 2
			if res := vm.reconcileAndMaybeGC(); res != InterpretOK {
				return res
			}
			if res := vm.checkLoopGuard(); res != InterpretOK {
				return res
			}
			if !vm.isShuttingDown {
				frame.IP -= off
			}

		case OpIncCmpJmp, OpDecCmpJmp:
			if res := vm.execFusedCmpJump(op, chunk, frame); res != InterpretOK {
				return res
			}

		case OpCall:
			if res := vm.execCall(chunk, frame, false); res != InterpretOK {
				return res
			}

		case OpCallNative:
			if res := vm.execCallNative(chunk, frame); res != InterpretOK {
				return res
			}

		case OpTailCall:
			if res := vm.execCall(chunk, frame, true); res != InterpretOK {
				return res
			}

		case OpReturn:
			src := vm.readReg(chunk, frame)
			vm.doReturn(vm.getReg(src))

		case OpClosure:
			vm.execClosure(chunk, frame)

		case OpGetUpvalue:
			dst := vm.readReg(chunk, frame)
			idx := int(chunk.Code[frame.IP])
			frame.IP++
			vm.setReg(dst, vm.readUpvalue(frame, idx))
			vm.Typed.Invalidate(dst)

		case OpSetUpvalue:
			idx := int(chunk.Code[frame.IP])
			frame.IP++
			src := vm.readReg(chunk, frame)
			vm.writeUpvalue(frame, idx, vm.getReg(src))

		case OpCloseUpvalue:
			slot := vm.readReg(chunk, frame)
			vm.closeUpvaluesFrom(len(vm.frames)-1, slot)

		case OpSetupExcept:
			handler := int(chunk.ReadUint16(frame.IP))
			frame.IP += 2
			catchReg := vm.readReg(chunk, frame)
			vm.tryStack = append(vm.tryStack, &TryFrame{
				HandlerOffset: frame.IP + handler,
				CatchReg:      catchReg,
				FrameIdx:      len(vm.frames) - 1,
			})

		case OpPopExcept:
			if len(vm.tryStack) > frame.TryBase {
				vm.tryStack = vm.tryStack[:len(vm.tryStack)-1]
			}

		case OpThrow:
			src := vm.readReg(chunk, frame)
			v := vm.getReg(src)
			if res := vm.raiseValue(v); res != InterpretOK {
				return res
			}

		case OpGCPause:
			vm.GCObj.Pause()

		case OpGCResume:
			vm.GCObj.Resume()

		case OpMakeArray:
			if res := vm.execMakeArray(chunk, frame); res != InterpretOK {
				return res
			}

		case OpGetIndex:
			if res := vm.execGetIndex(chunk, frame); res != InterpretOK {
				return res
			}

		case OpSetIndex:
			if res := vm.execSetIndex(chunk, frame); res != InterpretOK {
				return res
			}

		case OpArrayLen:
			dst, arrReg := vm.readReg(chunk, frame), vm.readReg(chunk, frame)
			v := vm.getReg(arrReg)
			arr, ok := v.Object().Data.(*ArrayObject)
			if v.Type() != TypeArray || !ok {
				return vm.fault(orerrors.KindType, "len() requires an array, got %s", v.Type())
			}
			vm.setReg(dst, I64(int64(len(arr.Elements))))
			vm.Typed.Invalidate(dst)

		case OpMakeRangeIterator:
			dst, startReg, endReg, stepReg := vm.readReg(chunk, frame), vm.readReg(chunk, frame), vm.readReg(chunk, frame), vm.readReg(chunk, frame)
			start := vm.getReg(startReg).AsI64()
			end := vm.getReg(endReg).AsI64()
			step := vm.getReg(stepReg).AsI64()
			iterVal := NewRangeIterator(start, end, step)
			vm.GCObj.Track(iterVal.Object())
			vm.setReg(dst, iterVal)
			vm.Typed.Invalidate(dst)

		case OpMakeArrayIterator:
			dst, arrReg := vm.readReg(chunk, frame), vm.readReg(chunk, frame)
			arrVal := vm.getReg(arrReg)
			if arrVal.Type() != TypeArray {
				return vm.fault(orerrors.KindType, "for-loop over an array requires an array, got %s", arrVal.Type())
			}
			iterVal := NewArrayIterator(arrVal)
			vm.GCObj.Track(iterVal.Object())
			vm.setReg(dst, iterVal)
			vm.Typed.Invalidate(dst)

		case OpIterNext:
			if res := vm.execIterNext(chunk, frame); res != InterpretOK {
				return res
			}

		case OpMakeEnum:
			if res := vm.execMakeEnum(chunk, frame); res != InterpretOK {
				return res
			}

		case OpHalt:
			// Uncatchable: bypass every open try frame.
			vm.tryStack = nil
			return InterpretOK

		default:
			return vm.fault(orerrors.KindRuntime, "unknown opcode %d", op)
		}
	}
}

// applyForwardJump treats a jump whose offset exceeds 32767 or whose
// target lands outside the chunk as suspicious and ignores it rather than
// crashing: the jump is simply not taken.
func (vm *VM) applyForwardJump(baseIP, offset int, chunk *Chunk) int {
	target := baseIP + offset
	if vm.isShuttingDown || offset > 32767 || target < 0 || target > len(chunk.Code) {
		return baseIP
	}
	return target
}

func (vm *VM) readReg(chunk *Chunk, frame *CallFrame) int {
	id := chunk.ReadReg(frame.IP)
	frame.IP += regOperandWidth
	return id
}

func (vm *VM) readConstIdx(chunk *Chunk, frame *CallFrame) uint16 {
	k := chunk.ReadUint16(frame.IP)
	frame.IP += constOperandWidth
	return k
}

// ScriptResult returns the value the outermost frame returned, valid after
// Interpret/InterpretModule completes with InterpretOK.
func (vm *VM) ScriptResult() Value { return vm.scriptResult }

// LastError returns the most recently raised, still-unhandled error value
//, valid after Interpret returns
// InterpretRuntimeError.
func (vm *VM) LastError() Value { return vm.lastError }

// getReg reads a logical register, preferring the typed mirror when it
// holds a dirty (not-yet-reconciled) value over the possibly-stale boxed
// register.
func (vm *VM) getReg(id int) Value {
	if v, ok := vm.Typed.Peek(id); ok {
		return v
	}
	return vm.Regs.Get(id)
}
func (vm *VM) setReg(id int, v Value) { vm.Regs.Set(id, v) }

// hasOpenUpvalue reports whether some open upvalue in the current frame
// aliases register id, meaning a closure elsewhere might observe the boxed
// register directly (via RegisterFile.GetAt, which bypasses the typed
// cache). Such a slot must always be written through immediately rather
// than deferred.
func (vm *VM) hasOpenUpvalue(id int) bool {
	frameIdx := len(vm.frames) - 1
	for _, uv := range vm.openUpvalues {
		if uv.IsOpen && uv.FrameIdx == frameIdx && uv.SlotID == id {
			return true
		}
	}
	return false
}

// storeTypedHot is the hot-path counterpart to the eager setReg+StoreValue
// pairing used elsewhere: it defers the boxed write (marking the typed
// mirror dirty) unless id is outside the frame/temp window or aliased by
// an open upvalue, in which case it falls back to writing through
// immediately. Used by the typed arithmetic opcodes, the fused
// increment-compare-jump loop counter, and the JIT's register writes, so a
// tight loop pays at most one boxed write per exit.
func (vm *VM) storeTypedHot(id int, v Value) {
	if id < frameBankStart || id >= tempBankEnd || vm.hasOpenUpvalue(id) {
		vm.setReg(id, v)
		vm.Typed.StoreValue(id, v)
		return
	}
	vm.Typed.StoreHot(id, v)
}

// fault raises a runtime error with the current frame's source position
// attached, following the try-frame-stack unwind protocol.
func (vm *VM) fault(kind orerrors.Kind, format string, args ...any) InterpretResult {
	pos := vm.currentPosition()
	msg := fmt.Sprintf(format, args...)
	errVal := NewError(string(kind), msg, pos.File, pos.Line, pos.Column)
	vm.GCObj.Track(errVal.Object())
	return vm.raiseValue(errVal)
}

func (vm *VM) currentPosition() orerrors.Position {
	frame := vm.currentFrame()
	if frame == nil || frame.Closure == nil || frame.Closure.Fn == nil || frame.Closure.Fn.Chunk == nil {
		return orerrors.Position{}
	}
	chunk := frame.Closure.Fn.Chunk
	offset := frame.IP - 1
	if offset < 0 {
		offset = 0
	}
	line, col := chunk.LineFor(offset)
	return orerrors.Position{File: frame.Closure.Fn.Name, Line: line, Column: col, StartPos: offset, EndPos: offset}
}
