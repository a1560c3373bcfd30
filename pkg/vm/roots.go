package vm

// GCRoots implements GCRootProvider, returning every object the collector
// must treat as live: registers (globals, every active
// frame, module window, spill), the closure of every in-flight call
// (otherwise a collection mid-call could free the very code being
// executed), open upvalues and whatever they currently alias, every open
// try frame's catch register, the pending raised error if any, the loaded-
// module export windows, the intern table's own entries, and the interned
// name string backing every registered native function.
//
// The typed register cache is deliberately not walked here: by
// construction (see typedreg.go's call sites throughout this package) it
// only ever mirrors the six inline numeric/bool kinds, never a heap
// pointer, so it never holds anything the register-file walk above didn't
// already report.
func (vm *VM) GCRoots() []*Object {
	roots := vm.Regs.Roots()

	// Every in-flight call's closure must stay reachable even though
	// CallFrame only stores the raw *ClosureObject (resolveCallee can hand
	// back a never-tracked literal for a bare function value). Report the
	// closure's own tracked Object when it has one, the same way
	// ClosureObject.Children reports its Fn/Upvalues: using the real
	// gc.allocChain entry when there is one, so marking it actually
	// protects that entry from sweep instead of marking an unrelated
	// throwaway wrapper.
	for _, frame := range vm.frames {
		if frame.Closure == nil {
			continue
		}
		if obj := frame.Closure.gcRoot(); obj != nil {
			roots = append(roots, obj)
		} else {
			roots = append(roots, newObject(ObjClosureKind, frame.Closure))
		}
	}

	for _, uv := range vm.openUpvalues {
		if uv == nil {
			continue
		}
		if obj := uv.gcRoot(); obj != nil {
			roots = append(roots, obj)
		} else {
			roots = append(roots, newObject(ObjUpvalueKind, uv))
		}
	}

	for _, tf := range vm.tryStack {
		v := vm.Regs.GetAt(tf.FrameIdx, tf.CatchReg)
		if v.IsHeap() && v.Object() != nil {
			roots = append(roots, v.Object())
		}
	}

	if vm.hasError && vm.lastError.IsHeap() && vm.lastError.Object() != nil {
		roots = append(roots, vm.lastError.Object())
	}

	roots = append(roots, vm.Modules.Roots()...)

	for _, k := range vm.Interned.Keys() {
		if obj, ok := vm.Interned.Get(k); ok {
			roots = append(roots, obj)
		}
	}

	roots = append(roots, vm.nativeNameObjs...)

	return roots
}

// InternTable satisfies GCRootProvider, handing the collector the table it
// must evict dead strings from during sweep.
func (vm *VM) InternTable() *InternTable { return vm.Interned }
