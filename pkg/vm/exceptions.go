package vm

// raiseValue is the central unwind point for every fault and explicit
// THROW. If a try frame is open, control resumes at its handler with the
// raised value bound to its catch register; otherwise the raise escapes to
// the top, ending interpretation with InterpretRuntimeError.
//
// A pending error causes no further side effects before the next try
// frame or top-level return, because this is the only path any fault or
// THROW takes: callers return its result immediately without executing
// anything else.
func (vm *VM) raiseValue(v Value) InterpretResult {
	vm.lastError = v
	vm.hasError = true

	if len(vm.tryStack) == 0 {
		return InterpretRuntimeError
	}

	handler := vm.tryStack[len(vm.tryStack)-1]
	vm.tryStack = vm.tryStack[:len(vm.tryStack)-1]

	// Unwind any frames pushed after the handler's own frame: the handler
	// belongs to an ancestor activation, so every frame between it and the
	// current one is abandoned, closing their upvalues as it goes.
	// closeUpvaluesFrom reads the boxed registers directly, so dirty typed
	// mirrors must be flushed first; after the unwind the frame/temp bank
	// ids address the handler frame's window, so the abandoned frames'
	// mirrors must not survive into it.
	if len(vm.frames)-1 > handler.FrameIdx {
		vm.Typed.ReconcileAll(vm.Regs)
		for len(vm.frames)-1 > handler.FrameIdx {
			vm.closeUpvaluesFrom(len(vm.frames)-1, frameBankStart)
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.Regs.PopFrame()
		}
		vm.Typed.InvalidateRange(frameBankStart, tempBankEnd)
	}

	frame := vm.currentFrame()
	if frame == nil {
		return InterpretRuntimeError
	}
	vm.setReg(handler.CatchReg, v)
	vm.Typed.Invalidate(handler.CatchReg)
	frame.IP = handler.HandlerOffset

	vm.lastError = Value{}
	vm.hasError = false
	return InterpretOK
}
