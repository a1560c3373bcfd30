package vm

import "testing"

// TestBindArgsSpillsExcessParameters exercises the bound check bindArgs
// applies before writing a call's arguments: an argument index past
// frameBankSize must land in the spill bank rather than bleeding into the
// temp/module banks that frameBankStart+i would otherwise compute.
func TestBindArgsSpillsExcessParameters(t *testing.T) {
	machine := NewVM(DefaultVMConfig())
	machine.Regs.PushFrame()

	argc := frameBankSize + 3
	args := make([]Value, argc)
	for i := range args {
		args[i] = I32(int32(i))
	}

	machine.bindArgs(nil, args)

	if got := machine.getReg(frameBankStart); got.AsI32() != 0 {
		t.Fatalf("arg 0 = %v, want I32(0)", got)
	}
	if got := machine.getReg(frameBankStart + frameBankSize - 1); got.AsI32() != int32(frameBankSize-1) {
		t.Fatalf("last in-bank arg = %v, want I32(%d)", got, frameBankSize-1)
	}
	for i := 0; i < 3; i++ {
		want := int32(frameBankSize + i)
		got := machine.getReg(spillBankStart + i)
		if got.AsI32() != want {
			t.Fatalf("spilled arg %d = %v, want I32(%d)", i, got, want)
		}
	}
}

// TestBindArgsStoresTypedMirrorForInlineValues confirms the typed cache
// mirrors an inline argument as bindArgs writes it (eagerly, alongside the
// boxed register), so a callee reading a parameter through the typed cache
// sees it immediately.
func TestBindArgsStoresTypedMirrorForInlineValues(t *testing.T) {
	machine := NewVM(DefaultVMConfig())
	machine.Regs.PushFrame()

	machine.bindArgs(nil, []Value{I64(42)})

	v, ok := machine.Typed.TryReadI64(frameBankStart)
	if !ok || v != 42 {
		t.Fatalf("typed mirror for arg 0 = (%d,%v), want (42,true)", v, ok)
	}
}
