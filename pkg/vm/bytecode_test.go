package vm

import (
	"strings"
	"testing"
)

func TestChunkWriteAndReadRegRoundTrip(t *testing.T) {
	c := NewChunk()
	c.WriteReg(258) // a spill-bank id, exercises the full 3-byte width
	if got := c.ReadReg(0); got != 258 {
		t.Fatalf("ReadReg() = %d, want 258", got)
	}
}

func TestChunkWriteAndReadUint16RoundTrip(t *testing.T) {
	c := NewChunk()
	c.WriteUint16(0xBEEF)
	if got := c.ReadUint16(0); got != 0xBEEF {
		t.Fatalf("ReadUint16() = %x, want beef", got)
	}
}

func TestChunkAddConstant(t *testing.T) {
	c := NewChunk()
	i0 := c.AddConstant(I32(1))
	i1 := c.AddConstant(I32(2))
	if i0 != 0 || i1 != 1 {
		t.Fatalf("AddConstant indices = %d,%d", i0, i1)
	}
	if len(c.Constants) != 2 {
		t.Fatalf("Constants len = %d", len(c.Constants))
	}
}

func TestChunkAddConstantOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("exceeding 0xFFFF constants should panic")
		}
	}()
	c := &Chunk{Constants: make([]Value, 0x10000)}
	c.AddConstant(I32(0))
}

func TestChunkLineForRunLength(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpLoadI32Const, 1, 1)
	c.WriteReg(0)
	c.WriteUint16(0)
	firstEnd := len(c.Code)
	c.WriteOp(OpReturn, 2, 5)
	c.WriteReg(0)

	if line, col := c.LineFor(0); line != 1 || col != 1 {
		t.Fatalf("LineFor(0) = %d:%d, want 1:1", line, col)
	}
	if line, col := c.LineFor(firstEnd); line != 2 || col != 5 {
		t.Fatalf("LineFor(firstEnd) = %d:%d, want 2:5", line, col)
	}
}

func TestChunkLineForDedupesRepeatedLines(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpMove, 3, 1)
	c.WriteReg(0)
	c.WriteReg(1)
	c.WriteOp(OpMove, 3, 1) // same line/col: should not add a new run
	c.WriteReg(2)
	c.WriteReg(3)
	if len(c.Lines) != 1 {
		t.Fatalf("Lines = %d entries, want 1 (repeated line/col must be deduped)", len(c.Lines))
	}
}

func TestChunkLineForUnknownOffsetIsZero(t *testing.T) {
	c := NewChunk()
	if line, col := c.LineFor(0); line != 0 || col != 0 {
		t.Fatalf("LineFor on an empty chunk = %d:%d, want 0:0", line, col)
	}
}

func TestOpCodeStringKnownAndUnknown(t *testing.T) {
	if OpAddI32Typed.String() != "ADD_I32_TYPED" {
		t.Fatalf("String() = %q", OpAddI32Typed.String())
	}
	unknown := OpCode(250)
	if got := unknown.String(); !strings.Contains(got, "UNKNOWN") {
		t.Fatalf("String() of an undefined opcode = %q, want it to say UNKNOWN", got)
	}
}

func TestDisassembleChunkCoversRepresentativeOpcodes(t *testing.T) {
	c := NewChunk()
	k := c.AddConstant(I32(15))

	c.WriteOp(OpLoadI32Const, 1, 1)
	c.WriteReg(64)
	c.WriteUint16(k)

	c.WriteOp(OpAddI32Typed, 2, 1)
	c.WriteReg(65)
	c.WriteReg(64)
	c.WriteReg(64)

	c.WriteOp(OpCmpLess, 3, 1)
	c.WriteReg(66)
	c.WriteReg(64)
	c.WriteReg(65)

	c.WriteOp(OpJumpIfFalse, 4, 1)
	c.WriteReg(66)
	c.WriteUint16(0)

	c.WriteOp(OpIncCmpJmp, 5, 1)
	c.WriteReg(64)
	c.WriteReg(65)
	c.WriteUint16(10)

	c.WriteOp(OpReturn, 6, 1)
	c.WriteReg(64)

	out := c.DisassembleChunk("smoke")
	for _, want := range []string{
		"== smoke ==", "LOAD_I32_CONST", "ADD_I32_TYPED", "CMP_LESS",
		"JUMP_IF_FALSE", "INC_CMP_JMP", "RETURN",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleChunkClosureUpvalues(t *testing.T) {
	c := NewChunk()
	k := c.AddConstant(I32(0))
	c.WriteOp(OpClosure, 1, 1)
	c.WriteReg(64)
	c.WriteUint16(k)
	c.WriteByte(1)
	c.WriteByte(1) // isLocal
	c.WriteReg(65)

	out := c.DisassembleChunk("closures")
	if !strings.Contains(out, "CLOSURE") || !strings.Contains(out, "local 65") {
		t.Fatalf("closure disassembly missing upvalue descriptor:\n%s", out)
	}
}
