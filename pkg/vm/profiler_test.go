package vm

import "testing"

func TestProfilerDefaultsAppliedForNonPositiveThresholds(t *testing.T) {
	p := NewProfiler(0, -1)
	if p.hotInstrThreshold != DefaultHotInstructionThreshold {
		t.Fatalf("hotInstrThreshold = %d", p.hotInstrThreshold)
	}
	if p.hotLoopThreshold != DefaultHotLoopThreshold {
		t.Fatalf("hotLoopThreshold = %d", p.hotLoopThreshold)
	}
}

func TestProfilerSampleInstructionCrossesThresholdExactlyOnce(t *testing.T) {
	p := NewProfiler(3, 10)
	if p.SampleInstruction(0) {
		t.Fatalf("1st sample should not report hot yet")
	}
	if p.SampleInstruction(0) {
		t.Fatalf("2nd sample should not report hot yet")
	}
	if !p.SampleInstruction(0) {
		t.Fatalf("3rd sample should cross the threshold")
	}
	if p.SampleInstruction(0) {
		t.Fatalf("a later sample must not report hot again")
	}
}

func TestProfilerSampleLoopAndIsHot(t *testing.T) {
	p := NewProfiler(100, 2)
	fn := &FunctionObject{Name: "f"}
	if p.IsHot(fn, 10) {
		t.Fatalf("a never-sampled loop should not be hot")
	}
	if p.SampleLoop(fn, 10) {
		t.Fatalf("1st iteration should not cross the threshold")
	}
	if !p.SampleLoop(fn, 10) {
		t.Fatalf("2nd iteration should cross the threshold")
	}
	if !p.IsHot(fn, 10) {
		t.Fatalf("IsHot should report true once promoted")
	}
	if p.SampleLoop(fn, 10) {
		t.Fatalf("an already-hot loop must not report newly-hot again")
	}
}

func TestProfilerSampleLoopDistinguishesFunctions(t *testing.T) {
	p := NewProfiler(100, 1)
	fnA := &FunctionObject{Name: "a"}
	fnB := &FunctionObject{Name: "b"}
	p.SampleLoop(fnA, 0)
	if p.IsHot(fnB, 0) {
		t.Fatalf("loops at the same offset in different functions must be tracked independently")
	}
}

func TestProfilerFeedFusionWindow(t *testing.T) {
	p := NewProfiler(100, 100)
	for i := 0; i < VMMaxFusionWindow-1; i++ {
		if w := p.FeedFusion(OpAddI32Typed, true); w != nil {
			t.Fatalf("window should not flush before reaching VMMaxFusionWindow, got %v at i=%d", w, i)
		}
	}
	w := p.FeedFusion(OpAddI32Typed, true)
	if len(w) != VMMaxFusionWindow {
		t.Fatalf("FeedFusion should flush a full window of length %d, got %d", VMMaxFusionWindow, len(w))
	}
}

func TestProfilerFeedFusionResetsOnNonFusable(t *testing.T) {
	p := NewProfiler(100, 100)
	p.FeedFusion(OpAddI32Typed, true)
	p.FeedFusion(OpAddI32Typed, true)
	if w := p.FeedFusion(OpCall, false); w != nil {
		t.Fatalf("a non-fusable opcode must not itself flush a window")
	}
	for i := 0; i < VMMaxFusionWindow-1; i++ {
		p.FeedFusion(OpAddI32Typed, true)
	}
	w := p.FeedFusion(OpAddI32Typed, true)
	if len(w) != VMMaxFusionWindow {
		t.Fatalf("window should have reset, then filled fresh to length %d, got %d", VMMaxFusionWindow, len(w))
	}
}

func TestProfilerSampleInstructionRecordsHotInstructions(t *testing.T) {
	p := NewProfiler(2, 100)
	if p.IsHotInstruction(5) {
		t.Fatalf("a never-sampled site should not be hot")
	}
	if p.HotInstructionCount() != 0 {
		t.Fatalf("HotInstructionCount() = %d, want 0", p.HotInstructionCount())
	}
	p.SampleInstruction(5)
	p.SampleInstruction(5) // crosses the threshold
	if !p.IsHotInstruction(5) {
		t.Fatalf("site 5 should be hot after crossing the threshold")
	}
	if p.HotInstructionCount() != 1 {
		t.Fatalf("HotInstructionCount() = %d, want 1", p.HotInstructionCount())
	}
	p.SampleInstruction(9)
	p.SampleInstruction(9)
	if p.HotInstructionCount() != 2 {
		t.Fatalf("HotInstructionCount() = %d, want 2 distinct sites", p.HotInstructionCount())
	}
}

func TestProfilerFeedFusionCountsFlushedWindows(t *testing.T) {
	p := NewProfiler(100, 100)
	if p.FusedWindowCount() != 0 {
		t.Fatalf("FusedWindowCount() = %d, want 0", p.FusedWindowCount())
	}
	for i := 0; i < VMMaxFusionWindow; i++ {
		p.FeedFusion(OpAddI32Typed, true)
	}
	if p.FusedWindowCount() != 1 {
		t.Fatalf("FusedWindowCount() = %d, want 1 after one full window", p.FusedWindowCount())
	}
	for i := 0; i < VMMaxFusionWindow; i++ {
		p.FeedFusion(OpAddI32Typed, true)
	}
	if p.FusedWindowCount() != 2 {
		t.Fatalf("FusedWindowCount() = %d, want 2 after a second full window", p.FusedWindowCount())
	}
}

func TestProfilerSampleCallCounts(t *testing.T) {
	p := NewProfiler(10, 10)
	fn := &FunctionObject{Name: "f"}
	if p.CallCount(fn) != 0 {
		t.Fatalf("CallCount() of a never-called function = %d, want 0", p.CallCount(fn))
	}
	p.SampleCall(fn)
	p.SampleCall(fn)
	if p.CallCount(fn) != 2 {
		t.Fatalf("CallCount() = %d, want 2", p.CallCount(fn))
	}
	p.Reset()
	if p.CallCount(fn) != 0 {
		t.Fatalf("CallCount() after Reset = %d, want 0", p.CallCount(fn))
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler(2, 2)
	fn := &FunctionObject{Name: "f"}
	p.SampleInstruction(0)
	p.SampleInstruction(0) // now hot
	p.SampleLoop(fn, 0)
	p.SampleLoop(fn, 0) // now hot
	p.FeedFusion(OpAddI32Typed, true)
	p.Reset()
	if p.SampleInstruction(0) {
		t.Fatalf("after Reset, a single sample should not already be hot")
	}
	if p.IsHot(fn, 0) {
		t.Fatalf("after Reset, no loop should be hot")
	}
}
