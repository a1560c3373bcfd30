package vm

import (
	"io"

	"github.com/google/uuid"
)

// initialGCThreshold is the bytes_allocated figure that triggers the first
// collection. Chosen small enough that a short-running demo
// program still exercises at least one cycle.
const initialGCThreshold = 1 << 16 // 64 KiB

// GCStats reports the outcome of one collection cycle as plain counters
// an external profiling exporter can read.
type GCStats struct {
	CycleID        string
	Skipped        bool // GC was paused
	ObjectsMarked  int
	ObjectsFreed   int
	BytesAllocated uint64
	NextThreshold  uint64
}

// GCRootProvider is implemented by the VM (pkg/vm/vm.go) to hand the
// collector every live root: globals, active
// frame/spill registers, heap-typed entries in the typed register cache,
// open upvalues' aliased slots, try frames' catch slots, the last raised
// error, the loaded-module list, and native-function name strings.
type GCRootProvider interface {
	GCRoots() []*Object
	InternTable() *InternTable
}

// GC is Orus's non-moving mark-sweep collector. github.com/google/uuid
// stamps each cycle with an opaque id for diagnostics; the id plays no
// part in the algorithm itself.
type GC struct {
	bytesAllocated uint64
	threshold      uint64
	paused         bool
	allocChain     *Object
	cycles         uint64
}

func NewGC() *GC {
	return NewGCWithThreshold(initialGCThreshold)
}

// NewGCWithThreshold builds a collector with a caller-chosen initial
// bytes_allocated trigger, used by VMConfig.GCInitialThreshold.
func NewGCWithThreshold(threshold uint64) *GC {
	if threshold == 0 {
		threshold = initialGCThreshold
	}
	return &GC{threshold: threshold}
}

// Track registers a freshly allocated object in the sweep chain and charges
// its estimated size against bytes_allocated. Every NewXxx constructor in
// object.go/string.go that calls newObject must route the result through
// Track before handing it to user-visible code.
func (gc *GC) Track(obj *Object) *Object {
	obj.Next = gc.allocChain
	gc.allocChain = obj
	gc.bytesAllocated += estimateSize(obj)
	return obj
}

// Paused reports whether GC_PAUSE is currently in effect.
func (gc *GC) Paused() bool { return gc.paused }

func (gc *GC) Pause()  { gc.paused = true }
func (gc *GC) Resume() { gc.paused = false }

// ShouldCollect reports whether bytes_allocated has crossed the threshold
// and GC isn't paused.
func (gc *GC) ShouldCollect() bool {
	return !gc.paused && gc.bytesAllocated > gc.threshold
}

// Collect runs one full mark-sweep cycle. Callers (the dispatch loop, at a
// safepoint opcode or a backward jump) must reconcile any dirty
// typed-register mirror into its boxed register before calling Collect,
// since the mark phase only walks boxed Values.
func (gc *GC) Collect(roots GCRootProvider) GCStats {
	if gc.paused {
		return GCStats{Skipped: true, BytesAllocated: gc.bytesAllocated, NextThreshold: gc.threshold}
	}

	marked := gc.mark(roots.GCRoots())
	freed := gc.sweep(roots.InternTable())

	if gc.threshold < gc.bytesAllocated*2 {
		gc.threshold = gc.bytesAllocated * 2
	}
	gc.cycles++

	return GCStats{
		CycleID:        uuid.New().String(),
		ObjectsMarked:  marked,
		ObjectsFreed:   freed,
		BytesAllocated: gc.bytesAllocated,
		NextThreshold:  gc.threshold,
	}
}

func (gc *GC) mark(roots []*Object) int {
	var stack []*Object
	marked := 0
	for _, r := range roots {
		if r != nil && !r.Mark {
			r.Mark = true
			marked++
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children() {
			if child != nil && !child.Mark {
				child.Mark = true
				marked++
				stack = append(stack, child)
			}
		}
	}
	return marked
}

func (gc *GC) sweep(interned *InternTable) int {
	var prev *Object
	cur := gc.allocChain
	freed := 0
	for cur != nil {
		next := cur.Next
		if !cur.Mark {
			gc.release(cur, interned)
			freed++
			gc.bytesAllocated -= estimateSize(cur)
			if prev == nil {
				gc.allocChain = next
			} else {
				prev.Next = next
			}
		} else {
			cur.Mark = false
			prev = cur
		}
		cur = next
	}
	return freed
}

// release frees a dead object's native resources and intern-table entry.
func (gc *GC) release(obj *Object, interned *InternTable) {
	switch d := obj.Data.(type) {
	case *FileObject:
		if d.OwnsHandle && !d.Closed {
			if closer, ok := d.Handle.(io.Closer); ok {
				closer.Close()
			}
			d.Closed = true
		}
	case *StringObject:
		if d.Interned && interned != nil {
			interned.Remove(d.Flatten())
		}
	}
}

// estimateSize is a rough per-kind allocation cost used only to decide when
// to collect; exact byte accounting isn't needed for that.
func estimateSize(obj *Object) uint64 {
	const headerSize = 32
	switch d := obj.Data.(type) {
	case *StringObject:
		return headerSize + uint64(d.Len())
	case *BytesObject:
		return headerSize + uint64(len(d.Bytes))
	case *ArrayObject:
		return headerSize + uint64(len(d.Elements))*16
	case *EnumInstanceObject:
		return headerSize + uint64(len(d.Payload))*16
	default:
		return headerSize
	}
}

// BytesAllocated and Threshold expose the collector's bookkeeping for
// tests and profiling exporters.
func (gc *GC) BytesAllocated() uint64 { return gc.bytesAllocated }
func (gc *GC) Threshold() uint64      { return gc.threshold }
func (gc *GC) Cycles() uint64         { return gc.cycles }
