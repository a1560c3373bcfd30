package vm

import orerrors "orus/pkg/errors"

// maxCallDepth bounds the call stack.
const maxCallDepth = 512

// doReturn implements OpReturn: pop the current frame, write its result
// into the caller's result register (or stash it as the script's final
// value if this was the outermost frame), and reconcile the typed mirror.
func (vm *VM) doReturn(v Value) {
	frame := vm.currentFrame()
	resultReg := frame.ResultReg
	vm.popCallFrame()
	if len(vm.frames) == 0 {
		vm.scriptResult = v
		return
	}
	vm.setReg(resultReg, v)
	if v.IsHeap() {
		vm.Typed.Invalidate(resultReg)
	} else {
		vm.Typed.StoreValue(resultReg, v)
	}
}

// execCall implements OP_CALL and (with isTail) OP_TAIL_CALL. A tail call discards the current activation before
// pushing the callee's, so the call stack never grows across a tail
// position.
func (vm *VM) execCall(chunk *Chunk, frame *CallFrame, isTail bool) InterpretResult {
	funcReg := vm.readReg(chunk, frame)
	firstArg := vm.readReg(chunk, frame)
	argc := int(chunk.Code[frame.IP])
	frame.IP++
	var resultReg int
	if !isTail {
		resultReg = vm.readReg(chunk, frame)
	} else {
		resultReg = frame.ResultReg
	}

	closure, res := vm.resolveCallee(vm.getReg(funcReg))
	if res != InterpretOK {
		return res
	}
	fn := closure.Fn
	if vm.Config.Profiling.FunctionCalls {
		vm.Prof.SampleCall(fn)
	}
	if argc != fn.Arity {
		return vm.fault(orerrors.KindArgument, "function %s expects %d argument(s), got %d", fn.Name, fn.Arity, argc)
	}

	args := make([]Value, argc)
	for i := 0; i < argc; i++ {
		args[i] = vm.getReg(firstArg + i)
	}

	if isTail {
		vm.popCallFrame()
	}
	if len(vm.frames) >= maxCallDepth {
		return vm.fault(orerrors.KindRecursion, "call stack depth exceeded (max %d)", maxCallDepth)
	}

	newFrame := vm.pushCallFrame(closure, resultReg)
	vm.bindArgs(newFrame, args)
	return InterpretOK
}

func (vm *VM) resolveCallee(v Value) (*ClosureObject, InterpretResult) {
	switch v.Type() {
	case TypeClosure:
		c, _ := v.Object().Data.(*ClosureObject)
		return c, InterpretOK
	case TypeFunction:
		fn, _ := v.Object().Data.(*FunctionObject)
		return &ClosureObject{Fn: fn}, InterpretOK
	default:
		return nil, vm.fault(orerrors.KindType, "value of type %s is not callable", v.Type())
	}
}

// bindArgs writes the call's arguments into the new frame's register
// window. A function accepting more arguments than the frame bank can hold
// has the overflow routed through the spill manager by logical id rather
// than bleeding into the temp bank or module bank that frameBankStart+i
// would otherwise land on.
func (vm *VM) bindArgs(frame *CallFrame, args []Value) {
	for i, a := range args {
		id := frameBankStart + i
		if i >= frameBankSize {
			id = spillBankStart + (i - frameBankSize)
		}
		vm.setReg(id, a)
		if a.IsHeap() {
			vm.Typed.Invalidate(id)
		} else {
			vm.Typed.StoreValue(id, a)
		}
	}
}

// execCallNative implements OP_CALL_NATIVE: dispatch to a
// registered Go function by name, looked up through the constant pool so
// the callee name participates in normal constant-pool/line-table
// bookkeeping rather than a separate side table.
func (vm *VM) execCallNative(chunk *Chunk, frame *CallFrame) InterpretResult {
	k := vm.readConstIdx(chunk, frame)
	firstArg := vm.readReg(chunk, frame)
	argc := int(chunk.Code[frame.IP])
	frame.IP++
	resultReg := vm.readReg(chunk, frame)

	name := chunk.Constants[k].String()
	fn, ok := vm.natives[name]
	if !ok {
		return vm.fault(orerrors.KindName, "undefined native function %q", name)
	}

	args := make([]Value, argc)
	for i := 0; i < argc; i++ {
		args[i] = vm.getReg(firstArg + i)
	}

	result := fn(args)
	if result.Type() == TypeError {
		return vm.raiseValue(result)
	}
	vm.setReg(resultReg, result)
	if result.IsHeap() {
		vm.Typed.Invalidate(resultReg)
	} else {
		vm.Typed.StoreValue(resultReg, result)
	}
	return InterpretOK
}

// execClosure implements OP_CLOSURE: builds a ClosureObject and captures
// each requested upvalue, either from the enclosing frame's live register
// (isLocal) or from the currently-executing closure's own upvalue array.
func (vm *VM) execClosure(chunk *Chunk, frame *CallFrame) {
	dst := vm.readReg(chunk, frame)
	fnIdx := vm.readConstIdx(chunk, frame)
	upCount := int(chunk.Code[frame.IP])
	frame.IP++

	fn, _ := chunk.Constants[fnIdx].Object().Data.(*FunctionObject)
	upvalues := make([]*UpvalueObject, upCount)
	enclosingFrameIdx := len(vm.frames) - 1
	for i := 0; i < upCount; i++ {
		isLocal := chunk.Code[frame.IP]
		frame.IP++
		slot := chunk.ReadReg(frame.IP)
		frame.IP += regOperandWidth
		if isLocal != 0 {
			upvalues[i] = vm.captureUpvalue(enclosingFrameIdx, slot)
		} else {
			upvalues[i] = frame.Closure.Upvalues[slot]
		}
	}

	closureVal := NewClosure(fn, upvalues)
	vm.GCObj.Track(closureVal.Object())
	vm.setReg(dst, closureVal)
	vm.Typed.Invalidate(dst)
}

// captureUpvalue returns the existing open upvalue aliasing (frameIdx,
// slotID) if one is already open, or creates and registers a new one,
// preserving the open-upvalue list's strictly-descending, duplicate-free
// ordering.
func (vm *VM) captureUpvalue(frameIdx, slotID int) *UpvalueObject {
	key := upvalueKey(frameIdx, slotID)
	for _, uv := range vm.openUpvalues {
		if uv.IsOpen && uv.FrameIdx == frameIdx && uv.SlotID == slotID {
			return uv
		}
	}
	uv := &UpvalueObject{IsOpen: true, FrameIdx: frameIdx, SlotID: slotID}
	insertAt := len(vm.openUpvalues)
	for i, existing := range vm.openUpvalues {
		if key > upvalueKey(existing.FrameIdx, existing.SlotID) {
			insertAt = i
			break
		}
	}
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[insertAt+1:], vm.openUpvalues[insertAt:])
	vm.openUpvalues[insertAt] = uv
	uv.gcObj = vm.GCObj.Track(newObject(ObjUpvalueKind, uv))
	return uv
}

func upvalueKey(frameIdx, slotID int) int { return frameIdx*1_000_000 + slotID }

func (vm *VM) readUpvalue(frame *CallFrame, idx int) Value {
	uv := frame.Closure.Upvalues[idx]
	if uv.IsOpen {
		return vm.Regs.GetAt(uv.FrameIdx, uv.SlotID)
	}
	return uv.Closed
}

func (vm *VM) writeUpvalue(frame *CallFrame, idx int, v Value) {
	uv := frame.Closure.Upvalues[idx]
	if uv.IsOpen {
		vm.Regs.SetAt(uv.FrameIdx, uv.SlotID, v)
	} else {
		uv.Closed = v
	}
}

// closeUpvaluesFrom promotes every open upvalue aliasing frameIdx at or
// above fromSlot to closed, copying out its current value.
func (vm *VM) closeUpvaluesFrom(frameIdx, fromSlot int) {
	kept := vm.openUpvalues[:0]
	for _, uv := range vm.openUpvalues {
		if uv.IsOpen && uv.FrameIdx == frameIdx && uv.SlotID >= fromSlot {
			uv.Closed = vm.Regs.GetAt(frameIdx, uv.SlotID)
			uv.IsOpen = false
			continue
		}
		kept = append(kept, uv)
	}
	vm.openUpvalues = kept
}
