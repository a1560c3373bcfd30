package vm

// The VM satisfies JITExecContext (jit_backend.go) directly against its
// own typed register cache, falling back to the boxed register when the
// typed mirror is cold: the same read/write pattern execTypedArith uses,
// kept in lockstep so a JIT entry and the interpreter can never observe a
// register differently. Set* routes through storeTypedHot, deferring the
// boxed write exactly as the interpreter's own hot-path arithmetic does,
// so a tight JIT-compiled loop doesn't pay for a boxed write on every
// iteration either.

func (vm *VM) I32(id int) int32 {
	if v, ok := vm.Typed.TryReadI32(id); ok {
		return v
	}
	return vm.getReg(id).AsI32()
}

func (vm *VM) SetI32(id int, v int32) { vm.storeTypedHot(id, I32(v)) }

func (vm *VM) I64(id int) int64 {
	if v, ok := vm.Typed.TryReadI64(id); ok {
		return v
	}
	return vm.getReg(id).AsI64()
}

func (vm *VM) SetI64(id int, v int64) { vm.storeTypedHot(id, I64(v)) }

func (vm *VM) U32(id int) uint32 {
	if v, ok := vm.Typed.TryReadU32(id); ok {
		return v
	}
	return vm.getReg(id).AsU32()
}

func (vm *VM) SetU32(id int, v uint32) { vm.storeTypedHot(id, U32(v)) }

func (vm *VM) U64(id int) uint64 {
	if v, ok := vm.Typed.TryReadU64(id); ok {
		return v
	}
	return vm.getReg(id).AsU64()
}

func (vm *VM) SetU64(id int, v uint64) { vm.storeTypedHot(id, U64(v)) }

func (vm *VM) F64(id int) float64 {
	if v, ok := vm.Typed.TryReadF64(id); ok {
		return v
	}
	return vm.getReg(id).AsF64()
}

func (vm *VM) SetF64(id int, v float64) { vm.storeTypedHot(id, F64(v)) }

func (vm *VM) Bool(id int) bool { return vm.getReg(id).AsBool() }

func (vm *VM) SetBool(id int, v bool) { vm.storeTypedHot(id, Bool(v)) }
