// Command vm is a minimal embedding-host demo: it builds a tiny Chunk by
// hand (no compiler collaborator involved), runs it through the VM, and
// prints the sum it computes.
package main

import (
	"fmt"
	"os"

	"orus/pkg/vm"
)

func main() {
	fmt.Println("--- Orus VM --- (bytecode smoke test)")

	chunk := vm.NewChunk()
	const line, col = 1, 1

	k15 := chunk.AddConstant(vm.I32(15))
	k25 := chunk.AddConstant(vm.I32(25))
	kPrint := chunk.AddConstant(vm.NewString("print"))

	// R64 = 15
	chunk.WriteOp(vm.OpLoadI32Const, line, col)
	chunk.WriteReg(64)
	chunk.WriteUint16(k15)

	// R65 = 25
	chunk.WriteOp(vm.OpLoadI32Const, line, col)
	chunk.WriteReg(65)
	chunk.WriteUint16(k25)

	// R66 = R64 + R65 (checked i32 typed add)
	chunk.WriteOp(vm.OpAddI32Typed, line, col)
	chunk.WriteReg(66)
	chunk.WriteReg(64)
	chunk.WriteReg(65)

	// print(R66) -> R67 (native call's result register is unused here)
	chunk.WriteOp(vm.OpCallNative, line, col)
	chunk.WriteUint16(kPrint)
	chunk.WriteReg(66)
	chunk.WriteByte(1)
	chunk.WriteReg(67)

	// return R66
	chunk.WriteOp(vm.OpReturn, line, col)
	chunk.WriteReg(66)

	fmt.Println("--- Disassembled Chunk ---")
	fmt.Print(chunk.DisassembleChunk("main"))
	fmt.Println("--------------------------")

	fn := &vm.FunctionObject{Name: "main", Arity: 0, Chunk: chunk, RegisterSize: 256}

	machine := vm.NewVM(vm.DefaultVMConfig())
	machine.RegisterNative("print", func(args []vm.Value) vm.Value {
		if len(args) > 0 {
			fmt.Println(args[0].String())
		}
		return vm.Value{}
	})

	fmt.Println("--- VM Execution ---")
	result := machine.Interpret(fn)
	fmt.Printf("--- Result: %v (script value %v) ---\n", result, machine.ScriptResult())

	if result != vm.InterpretOK {
		fmt.Println("error:", machine.LastError())
		os.Exit(1)
	}
}
