package vm

// Default tiering thresholds. Exposed as VMConfig fields
// (pkg/vm/vm_init.go) rather than baked-in constants so an embedding host
// can tune them.
const (
	DefaultHotInstructionThreshold = 1000
	DefaultHotLoopThreshold        = 10000
	// VMMaxFusionWindow bounds how many consecutive hot opcodes the tiering
	// layer will fold into one specialized handler.
	VMMaxFusionWindow = 8
)

// loopKey identifies a loop header by its byte address within a specific
// function's chunk.
type loopKey struct {
	fn     *FunctionObject
	offset int
}

// siteCounter tracks cumulative hits for one (opcode, address, function)
// sample site.
type siteCounter struct {
	count uint64
}

// Profiler accumulates per-opcode and per-loop execution counts and
// decides when a code region has gone hot: a small, cheap counter per
// site rather than a statistical sampler.
type Profiler struct {
	instrCounts map[int]*siteCounter // keyed by chunk offset only, via siteID
	loopCounts  map[loopKey]*siteCounter

	hotInstrThreshold int
	hotLoopThreshold  int

	hotLoops map[loopKey]bool
	fusion   []OpCode // the current run of consecutive hot opcodes being tracked

	hotInstrs        map[int]bool // sites SampleInstruction has promoted
	fusedWindowCount uint64       // how many full fusion windows FeedFusion has flushed

	callCounts map[*FunctionObject]uint64
}

func NewProfiler(hotInstrThreshold, hotLoopThreshold int) *Profiler {
	if hotInstrThreshold <= 0 {
		hotInstrThreshold = DefaultHotInstructionThreshold
	}
	if hotLoopThreshold <= 0 {
		hotLoopThreshold = DefaultHotLoopThreshold
	}
	return &Profiler{
		instrCounts:       make(map[int]*siteCounter),
		loopCounts:        make(map[loopKey]*siteCounter),
		hotInstrThreshold: hotInstrThreshold,
		hotLoopThreshold:  hotLoopThreshold,
		hotLoops:          make(map[loopKey]bool),
		hotInstrs:         make(map[int]bool),
		callCounts:        make(map[*FunctionObject]uint64),
	}
}

// siteID packs a chunk-relative offset into a map key. Two different
// functions can share an offset, so callers must pair this with loopKey
// (which carries the *FunctionObject) wherever function identity matters;
// SampleInstruction only needs aggregate hotness across the whole program,
// so the coarser offset-only key is intentional here.
func siteID(offset int) int { return offset }

// SampleInstruction records one execution of the instruction at offset and
// reports whether it has just crossed the hot-instruction threshold.
func (p *Profiler) SampleInstruction(offset int) bool {
	id := siteID(offset)
	c, ok := p.instrCounts[id]
	if !ok {
		c = &siteCounter{}
		p.instrCounts[id] = c
	}
	c.count++
	hot := c.count == uint64(p.hotInstrThreshold)
	if hot {
		p.hotInstrs[id] = true
	}
	return hot
}

// IsHotInstruction reports whether the instruction at offset has crossed
// the hot-instruction threshold, independent of whether its enclosing loop
// (if any) has separately gone hot via SampleLoop.
func (p *Profiler) IsHotInstruction(offset int) bool {
	return p.hotInstrs[siteID(offset)]
}

// HotInstructionCount reports how many distinct instruction sites have
// crossed the hot-instruction threshold.
func (p *Profiler) HotInstructionCount() int { return len(p.hotInstrs) }

// FusedWindowCount reports how many full fusion windows FeedFusion has
// flushed so far.
func (p *Profiler) FusedWindowCount() uint64 { return p.fusedWindowCount }

// SampleLoop records one iteration of the loop headed at (fn, offset) and
// reports whether the loop has just become hot.
func (p *Profiler) SampleLoop(fn *FunctionObject, offset int) bool {
	key := loopKey{fn: fn, offset: offset}
	c, ok := p.loopCounts[key]
	if !ok {
		c = &siteCounter{}
		p.loopCounts[key] = c
	}
	c.count++
	if c.count == uint64(p.hotLoopThreshold) && !p.hotLoops[key] {
		p.hotLoops[key] = true
		return true
	}
	return false
}

// IsHot reports whether the loop at (fn, offset) has already been promoted.
func (p *Profiler) IsHot(fn *FunctionObject, offset int) bool {
	return p.hotLoops[loopKey{fn: fn, offset: offset}]
}

// FeedFusion appends op to the current fusion window, returning the window
// contents once it reaches VMMaxFusionWindow so the tiering layer can
// consider replacing the run with a specialized handler.
// A non-fusable opcode (passed as fusable=false) resets the window.
func (p *Profiler) FeedFusion(op OpCode, fusable bool) []OpCode {
	if !fusable {
		p.fusion = p.fusion[:0]
		return nil
	}
	p.fusion = append(p.fusion, op)
	if len(p.fusion) >= VMMaxFusionWindow {
		window := append([]OpCode(nil), p.fusion...)
		p.fusion = p.fusion[:0]
		p.fusedWindowCount++
		return window
	}
	return nil
}

// SampleCall records one invocation of fn.
func (p *Profiler) SampleCall(fn *FunctionObject) {
	p.callCounts[fn]++
}

// CallCount reports how many times fn has been invoked since the last
// Reset.
func (p *Profiler) CallCount(fn *FunctionObject) uint64 {
	return p.callCounts[fn]
}

// Reset clears all counters (VM reset without teardown).
func (p *Profiler) Reset() {
	p.instrCounts = make(map[int]*siteCounter)
	p.loopCounts = make(map[loopKey]*siteCounter)
	p.hotLoops = make(map[loopKey]bool)
	p.hotInstrs = make(map[int]bool)
	p.fusion = nil
	p.fusedWindowCount = 0
	p.callCounts = make(map[*FunctionObject]uint64)
}
