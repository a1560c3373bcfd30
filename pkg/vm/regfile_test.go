package vm

import "testing"

func TestBankOfClassification(t *testing.T) {
	cases := []struct {
		id   int
		bank RegisterBank
	}{
		{0, BankGlobal}, {63, BankGlobal},
		{64, BankFrame}, {191, BankFrame},
		{192, BankTemp}, {239, BankTemp},
		{240, BankModule}, {255, BankModule},
		{256, BankSpill}, {10000, BankSpill},
	}
	for _, c := range cases {
		if got := BankOf(c.id); got != c.bank {
			t.Errorf("BankOf(%d) = %v, want %v", c.id, got, c.bank)
		}
	}
}

func TestRegisterFileGlobalBank(t *testing.T) {
	rf := NewRegisterFile()
	rf.Set(5, I32(42))
	if got := rf.Get(5); got != I32(42) {
		t.Fatalf("Get(5) = %v", got)
	}
}

func TestRegisterFileFrameAndTempBank(t *testing.T) {
	rf := NewRegisterFile()
	rf.PushFrame()
	rf.Set(frameBankStart, I32(1))
	rf.Set(tempBankStart, I32(2))
	if got := rf.Get(frameBankStart); got != I32(1) {
		t.Fatalf("frame slot = %v", got)
	}
	if got := rf.Get(tempBankStart); got != I32(2) {
		t.Fatalf("temp slot = %v", got)
	}
	rf.PopFrame()
	if rf.FrameDepth() != 0 {
		t.Fatalf("FrameDepth() after pop = %d", rf.FrameDepth())
	}
}

func TestRegisterFileNoActiveFrame(t *testing.T) {
	rf := NewRegisterFile()
	if got := rf.Get(frameBankStart); got != (Value{}) {
		t.Fatalf("read with no active frame should yield the zero Value, got %v", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("write with no active frame should panic")
		}
	}()
	rf.Set(frameBankStart, I32(1))
}

func TestRegisterFileModuleBank(t *testing.T) {
	rf := NewRegisterFile()
	var window [moduleBankSize]Value
	rf.SetModuleWindow(&window)
	rf.Set(moduleBankStart, I32(7))
	if got := rf.Get(moduleBankStart); got != I32(7) {
		t.Fatalf("module slot = %v", got)
	}
	if window[0] != I32(7) {
		t.Fatalf("module window itself should observe the write")
	}
}

func TestRegisterFileModuleBankNoWindowPanics(t *testing.T) {
	rf := NewRegisterFile()
	if got := rf.Get(moduleBankStart); got != (Value{}) {
		t.Fatalf("read with no module window should yield zero Value, got %v", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("write with no module window should panic")
		}
	}()
	rf.Set(moduleBankStart, I32(1))
}

func TestRegisterFileSpillBank(t *testing.T) {
	rf := NewRegisterFile()
	rf.Set(spillBankStart+3, I64(999))
	if got := rf.Get(spillBankStart + 3); got != I64(999) {
		t.Fatalf("spill slot = %v", got)
	}
}

func TestRegisterFileGetAtSetAt(t *testing.T) {
	rf := NewRegisterFile()
	rf.PushFrame() // frame 0
	rf.PushFrame() // frame 1, current
	rf.SetAt(0, frameBankStart, I32(11))
	if got := rf.GetAt(0, frameBankStart); got != I32(11) {
		t.Fatalf("GetAt(0,..) = %v", got)
	}
	if got := rf.GetAt(1, frameBankStart); got != (Value{}) {
		t.Fatalf("frame 1's slot should be untouched, got %v", got)
	}
	if got := rf.GetAt(5, frameBankStart); got != (Value{}) {
		t.Fatalf("GetAt on an out-of-range frame index should yield the zero Value, got %v", got)
	}
}

func TestRegisterFileRootsSkipsInlineValues(t *testing.T) {
	rf := NewRegisterFile()
	rf.Set(0, I32(1))
	strVal := NewString("root")
	rf.Set(1, strVal)
	rf.PushFrame()
	rf.Set(frameBankStart, NewString("frame-root"))

	roots := rf.Roots()
	if len(roots) != 2 {
		t.Fatalf("Roots() = %d entries, want 2 (inline values must be skipped)", len(roots))
	}
}

func TestRegisterFileRootsIncludeSpill(t *testing.T) {
	rf := NewRegisterFile()
	rf.Set(spillBankStart, NewString("spilled"))
	roots := rf.Roots()
	if len(roots) != 1 {
		t.Fatalf("Roots() should include live spill values, got %d", len(roots))
	}
}

func TestFrameStackAllAndAt(t *testing.T) {
	fs := &FrameStack{}
	if fs.Current() != nil {
		t.Fatalf("empty FrameStack.Current() should be nil")
	}
	f0 := fs.Push()
	f1 := fs.Push()
	if fs.Current() != f1 {
		t.Fatalf("Current() should be the most recently pushed frame")
	}
	if fs.At(0) != f0 || fs.At(1) != f1 {
		t.Fatalf("At() did not return the expected frames")
	}
	if fs.At(-1) != nil || fs.At(2) != nil {
		t.Fatalf("At() should return nil outside [0, Depth())")
	}
	if fs.Depth() != 2 {
		t.Fatalf("Depth() = %d", fs.Depth())
	}
	fs.Pop()
	if fs.Depth() != 1 || fs.Current() != f0 {
		t.Fatalf("Pop() did not restore the prior frame")
	}
}

// --- Spill manager ---

func TestSpillManagerBasicGetSet(t *testing.T) {
	sm := NewSpillManager()
	if got := sm.Get(256); got != (Value{}) {
		t.Fatalf("unwritten spill slot should read as the zero Value, got %v", got)
	}
	sm.Set(256, I32(5))
	if got := sm.Get(256); got != I32(5) {
		t.Fatalf("Get(256) = %v", got)
	}
	if sm.Len() != 1 {
		t.Fatalf("Len() = %d", sm.Len())
	}
}

func TestSpillManagerEvictionPreservesData(t *testing.T) {
	sm := NewSpillManager()
	// Overflow the hot LRU tier; no value may be lost.
	n := defaultSpillCacheSize + 50
	for i := 0; i < n; i++ {
		sm.Set(256+i, I32(int32(i)))
	}
	if sm.Len() != n {
		t.Fatalf("Len() = %d, want %d (no value should be dropped)", sm.Len(), n)
	}
	for i := 0; i < n; i++ {
		if got := sm.Get(256 + i); got != I32(int32(i)) {
			t.Fatalf("Get(%d) = %v, want I32(%d)", 256+i, got, i)
		}
	}
}

func TestSpillManagerReset(t *testing.T) {
	sm := NewSpillManager()
	sm.Set(256, I32(1))
	sm.Reset()
	if sm.Len() != 0 {
		t.Fatalf("Len() after Reset() = %d", sm.Len())
	}
	if got := sm.Get(256); got != (Value{}) {
		t.Fatalf("Get() after Reset() = %v, want zero Value", got)
	}
}

func TestSpillManagerValuesForGCRoots(t *testing.T) {
	sm := NewSpillManager()
	sm.Set(256, NewString("a"))
	sm.Set(257, I32(1)) // inline value still appears; the register-file Roots() filters by IsHeap
	vals := sm.Values()
	if len(vals) != 2 {
		t.Fatalf("Values() = %d entries, want 2", len(vals))
	}
}
