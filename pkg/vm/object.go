package vm

import "fmt"

// ObjectKind tags the payload carried by a heap Object.
type ObjectKind uint8

const (
	ObjStringKind ObjectKind = iota
	ObjBytesKind
	ObjArrayKind
	ObjErrorKind
	ObjEnumInstanceKind
	ObjFileKind
	ObjFunctionKind
	ObjClosureKind
	ObjUpvalueKind
	ObjRangeIteratorKind
	ObjArrayIteratorKind
)

// Object is the heap object header every collection type begins with:
// {type-tag, gc-mark, next-in-allocation-chain}. Orus values carry no
// prototype chain, so the header is just that triple plus the payload.
type Object struct {
	Kind ObjectKind
	Mark bool
	Next *Object // next object in the VM's allocation chain, for GC sweep
	Data ObjectData
}

// ObjectData is implemented by every concrete heap payload. Children
// returns this object's out-edges for the GC mark phase.
type ObjectData interface {
	Children() []*Object
	String() string
	Equal(other ObjectData) bool
}

func (o *Object) String() string {
	if o == nil || o.Data == nil {
		return "<nil>"
	}
	return o.Data.String()
}

func (o *Object) Equal(other *Object) bool {
	if o == other {
		return true
	}
	if o == nil || other == nil {
		return false
	}
	if o.Kind != other.Kind {
		return false
	}
	return o.Data.Equal(other.Data)
}

func newObject(kind ObjectKind, data ObjectData) *Object {
	return &Object{Kind: kind, Data: data}
}

// --- Bytes ---

// BytesObject is a mutable byte buffer.
type BytesObject struct {
	Bytes []byte
}

func (b *BytesObject) Children() []*Object { return nil }
func (b *BytesObject) String() string      { return fmt.Sprintf("bytes(%d)", len(b.Bytes)) }
func (b *BytesObject) Equal(other ObjectData) bool {
	o, ok := other.(*BytesObject)
	if !ok || len(o.Bytes) != len(b.Bytes) {
		return false
	}
	for i := range b.Bytes {
		if b.Bytes[i] != o.Bytes[i] {
			return false
		}
	}
	return true
}

func NewBytes(b []byte) Value {
	return fromObject(TypeBytes, newObject(ObjBytesKind, &BytesObject{Bytes: b}))
}

// --- Array ---

// ArrayObject is a growable Value slice.
type ArrayObject struct {
	Elements []Value
}

func (a *ArrayObject) Children() []*Object {
	var kids []*Object
	for _, v := range a.Elements {
		if v.IsHeap() && v.Object() != nil {
			kids = append(kids, v.Object())
		}
	}
	return kids
}
func (a *ArrayObject) String() string {
	return fmt.Sprintf("array(len=%d)", len(a.Elements))
}
func (a *ArrayObject) Equal(other ObjectData) bool {
	o, ok := other.(*ArrayObject)
	if !ok || len(o.Elements) != len(a.Elements) {
		return false
	}
	for i := range a.Elements {
		if !Equal(a.Elements[i], o.Elements[i]) {
			return false
		}
	}
	return true
}

func NewArray(elems []Value) Value {
	return fromObject(TypeArray, newObject(ObjArrayKind, &ArrayObject{Elements: elems}))
}

// --- Error ---

// ErrorObject is the first-class runtime error heap object: {kind,
// message string, source location}.
type ErrorObject struct {
	KindName string
	Message  string
	File     string
	Line     int
	Column   int
}

func (e *ErrorObject) Children() []*Object { return nil }
func (e *ErrorObject) String() string {
	return fmt.Sprintf("%s: %s", e.KindName, e.Message)
}
func (e *ErrorObject) Equal(other ObjectData) bool {
	o, ok := other.(*ErrorObject)
	return ok && o.KindName == e.KindName && o.Message == e.Message
}

func NewError(kindName, message string, file string, line, column int) Value {
	return fromObject(TypeError, newObject(ObjErrorKind, &ErrorObject{
		KindName: kindName, Message: message, File: file, Line: line, Column: column,
	}))
}

// --- Enum instance ---

// EnumInstanceObject carries {type name, variant name, variant index,
// optional payload array}.
type EnumInstanceObject struct {
	TypeName    string
	VariantName string
	VariantIdx  int
	Payload     []Value // nil if the variant carries no data
}

func (e *EnumInstanceObject) Children() []*Object {
	var kids []*Object
	for _, v := range e.Payload {
		if v.IsHeap() && v.Object() != nil {
			kids = append(kids, v.Object())
		}
	}
	return kids
}
func (e *EnumInstanceObject) String() string {
	return fmt.Sprintf("%s::%s", e.TypeName, e.VariantName)
}
func (e *EnumInstanceObject) Equal(other ObjectData) bool {
	o, ok := other.(*EnumInstanceObject)
	if !ok || o.TypeName != e.TypeName || o.VariantIdx != e.VariantIdx || len(o.Payload) != len(e.Payload) {
		return false
	}
	for i := range e.Payload {
		if !Equal(e.Payload[i], o.Payload[i]) {
			return false
		}
	}
	return true
}

func NewEnumInstance(typeName, variantName string, variantIdx int, payload []Value) Value {
	return fromObject(TypeEnumInstance, newObject(ObjEnumInstanceKind, &EnumInstanceObject{
		TypeName: typeName, VariantName: variantName, VariantIdx: variantIdx, Payload: payload,
	}))
}

// --- File ---

// FileObject wraps a native handle plus path/ownership bookkeeping.
type FileObject struct {
	Path       string
	OwnsHandle bool
	Closed     bool
	Handle     any // the native *os.File or equivalent; opaque to the core
}

func (f *FileObject) Children() []*Object { return nil }
func (f *FileObject) String() string      { return fmt.Sprintf("file(%s)", f.Path) }
func (f *FileObject) Equal(other ObjectData) bool {
	o, ok := other.(*FileObject)
	return ok && o.Path == f.Path && o.Handle == f.Handle
}

func NewFile(path string, ownsHandle bool, handle any) Value {
	return fromObject(TypeFile, newObject(ObjFileKind, &FileObject{Path: path, OwnsHandle: ownsHandle, Handle: handle}))
}

// --- Function / Closure / Upvalue ---

// FunctionObject is a compiled function prototype.
type FunctionObject struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	RegisterSize int // number of frame registers this function needs

	// gcObj is the canonical heap Object wrapping this prototype, set the
	// one time it's tracked through NewFunction. A function prototype
	// built as a bare struct literal (the compiler collaborator's
	// entry-point function, never placed in a constant pool) is never
	// tracked and leaves this nil; Children() below still walks its
	// constants directly in that case, since there is no GC bookkeeping
	// to protect.
	gcObj *Object
}

func (f *FunctionObject) Children() []*Object {
	if f.Chunk == nil {
		return nil
	}
	var kids []*Object
	for _, c := range f.Chunk.Constants {
		if c.IsHeap() && c.Object() != nil {
			kids = append(kids, c.Object())
		}
	}
	return kids
}
func (f *FunctionObject) String() string { return fmt.Sprintf("<fn %s/%d>", f.Name, f.Arity) }
func (f *FunctionObject) Equal(other ObjectData) bool {
	o, ok := other.(*FunctionObject)
	return ok && o == f
}

func NewFunction(fn *FunctionObject) Value {
	obj := newObject(ObjFunctionKind, fn)
	fn.gcObj = obj
	return fromObject(TypeFunction, obj)
}

// gcRoot returns the object a reference to data must report to the
// collector: the data's own tracked heap Object if it has one, or nil if
// it was never tracked (so the caller should fall back to walking its
// children directly instead of fabricating a throwaway wrapper that the
// mark phase would set a mark bit on without protecting anything real).
func (f *FunctionObject) gcRoot() *Object { return f.gcObj }

// UpvalueObject is open (aliasing a live register slot identified by a
// stable frame-index/slot-index descriptor, never a bare pointer that
// could dangle under frame deallocation) or closed (Closed holds its own
// value).
type UpvalueObject struct {
	// Open state: describes the slot this upvalue currently aliases.
	IsOpen   bool
	FrameIdx int // index into the VM's frame stack
	SlotID   int // logical register ID within that frame's window

	// Closed state: the upvalue's own value, valid when IsOpen == false.
	Closed Value

	// gcObj is the canonical heap Object wrapping this upvalue, set the one
	// time it's tracked (captureUpvalue, in call.go). Every open upvalue
	// goes through that path, so this is non-nil whenever the upvalue is
	// reachable at all.
	gcObj *Object
}

func (u *UpvalueObject) Children() []*Object {
	if !u.IsOpen && u.Closed.IsHeap() && u.Closed.Object() != nil {
		return []*Object{u.Closed.Object()}
	}
	return nil
}
func (u *UpvalueObject) String() string {
	if u.IsOpen {
		return fmt.Sprintf("<upvalue open frame=%d slot=%d>", u.FrameIdx, u.SlotID)
	}
	return fmt.Sprintf("<upvalue closed %s>", u.Closed.String())
}
func (u *UpvalueObject) Equal(other ObjectData) bool {
	o, ok := other.(*UpvalueObject)
	return ok && o == u
}

// gcRoot mirrors FunctionObject.gcRoot: the real tracked Object if this
// upvalue has one, else nil.
func (u *UpvalueObject) gcRoot() *Object { return u.gcObj }

// ClosureObject bundles a function with its captured upvalues.
type ClosureObject struct {
	Fn       *FunctionObject
	Upvalues []*UpvalueObject

	// gcObj is the canonical heap Object wrapping this closure, set the one
	// time it's tracked through NewClosure. A closure built as a bare
	// struct literal for the outermost script activation (vm.go's
	// Interpret) is never tracked and leaves this nil.
	gcObj *Object
}

// gcRoot mirrors FunctionObject.gcRoot.
func (c *ClosureObject) gcRoot() *Object { return c.gcObj }

// Children reports this closure's out-edges for the mark phase: one entry
// for its function prototype, one per captured upvalue. Critically, when a
// child has already been tracked (Fn.gcObj / uv.gcObj set by NewFunction /
// captureUpvalue), Children() must hand the collector that SAME *Object
// pointer rather than fabricating a fresh wrapper around the same data: a
// fresh wrapper would get its own Mark bit set while the real tracked
// Object for that function or upvalue stays unmarked and is swept out from
// under a still-live closure. A child that was never tracked (e.g. a bare
// struct literal with no heap identity of its own) has nothing to protect,
// so a throwaway wrapper is harmless there; mark() still recurses into it
// via its own Children().
func (c *ClosureObject) Children() []*Object {
	var kids []*Object
	if c.Fn != nil {
		if obj := c.Fn.gcRoot(); obj != nil {
			kids = append(kids, obj)
		} else {
			kids = append(kids, newObject(ObjFunctionKind, c.Fn))
		}
	}
	for _, uv := range c.Upvalues {
		if uv == nil {
			continue
		}
		if obj := uv.gcRoot(); obj != nil {
			kids = append(kids, obj)
		} else {
			kids = append(kids, newObject(ObjUpvalueKind, uv))
		}
	}
	return kids
}
func (c *ClosureObject) String() string {
	if c.Fn == nil {
		return "<closure>"
	}
	return fmt.Sprintf("<closure %s>", c.Fn.Name)
}
func (c *ClosureObject) Equal(other ObjectData) bool {
	o, ok := other.(*ClosureObject)
	return ok && o == c
}

func NewClosure(fn *FunctionObject, upvalues []*UpvalueObject) Value {
	co := &ClosureObject{Fn: fn, Upvalues: upvalues}
	obj := newObject(ObjClosureKind, co)
	co.gcObj = obj
	return fromObject(TypeClosure, obj)
}

// --- Iterators ---

// RangeIteratorObject walks an integer range without materializing an
// array.
type RangeIteratorObject struct {
	Current, End int64
	Step         int64
	Done         bool
}

func (r *RangeIteratorObject) Children() []*Object { return nil }
func (r *RangeIteratorObject) String() string {
	return fmt.Sprintf("range_iterator(%d..%d step %d)", r.Current, r.End, r.Step)
}
func (r *RangeIteratorObject) Equal(other ObjectData) bool {
	o, ok := other.(*RangeIteratorObject)
	return ok && o == r
}

func NewRangeIterator(start, end, step int64) Value {
	return fromObject(TypeRangeIterator, newObject(ObjRangeIteratorKind, &RangeIteratorObject{
		Current: start, End: end, Step: step,
	}))
}

// Next advances the range iterator in place, returning (value, ok).
func (r *RangeIteratorObject) Next() (Value, bool) {
	if r.Done {
		return Value{}, false
	}
	if r.Step > 0 && r.Current >= r.End {
		r.Done = true
		return Value{}, false
	}
	if r.Step < 0 && r.Current <= r.End {
		r.Done = true
		return Value{}, false
	}
	v := I64(r.Current)
	r.Current += r.Step
	return v, true
}

// ArrayIteratorObject walks an ArrayObject by index. Invalidated by any structural mutation of the
// backing array during iteration.
type ArrayIteratorObject struct {
	// ArrayVal holds the backing array by Value rather than by raw
	// *ArrayObject, so Children() below can hand the collector the exact
	// *Object already threaded through gc.allocChain instead of fabricating
	// a second wrapper around the same data (the same hazard NewClosure's
	// gcObj back-pointer guards against for functions and upvalues).
	ArrayVal Value
	Index    int
	Invalid  bool
}

func (a *ArrayIteratorObject) array() *ArrayObject {
	if !a.ArrayVal.IsHeap() || a.ArrayVal.Object() == nil {
		return nil
	}
	arr, _ := a.ArrayVal.Object().Data.(*ArrayObject)
	return arr
}

func (a *ArrayIteratorObject) Children() []*Object {
	if !a.ArrayVal.IsHeap() || a.ArrayVal.Object() == nil {
		return nil
	}
	return []*Object{a.ArrayVal.Object()}
}
func (a *ArrayIteratorObject) String() string {
	return fmt.Sprintf("array_iterator(idx=%d)", a.Index)
}
func (a *ArrayIteratorObject) Equal(other ObjectData) bool {
	o, ok := other.(*ArrayIteratorObject)
	return ok && o == a
}

// NewArrayIterator wraps an array Value for OP_MAKE_ARRAY_ITERATOR.
func NewArrayIterator(arrVal Value) Value {
	return fromObject(TypeArrayIterator, newObject(ObjArrayIteratorKind, &ArrayIteratorObject{ArrayVal: arrVal}))
}

// Next advances the array iterator, returning (value, ok).
func (a *ArrayIteratorObject) Next() (Value, bool) {
	arr := a.array()
	if a.Invalid || arr == nil || a.Index >= len(arr.Elements) {
		return Value{}, false
	}
	v := arr.Elements[a.Index]
	a.Index++
	return v, true
}
