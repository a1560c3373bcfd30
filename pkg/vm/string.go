package vm

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// StringObject is Orus's string heap object, with an optional rope form
// and an interned flag. A leaf node holds a flat Go string; a rope node
// holds Left/Right children and flattens lazily on first read, caching the
// result, so repeated concatenation stays cheap without quadratic copying.
type StringObject struct {
	Left, Right *StringObject // non-nil together: this is a rope concat node
	leaf        string        // valid when Left == nil
	Interned    bool

	flat  string
	cached bool
}

func (s *StringObject) Children() []*Object { return nil }

func (s *StringObject) String() string { return s.Flatten() }

func (s *StringObject) Equal(other ObjectData) bool {
	o, ok := other.(*StringObject)
	return ok && o.Flatten() == s.Flatten()
}

// Flatten walks the rope and returns (and caches) the concatenated string.
func (s *StringObject) Flatten() string {
	if s.Left == nil {
		return s.leaf
	}
	if s.cached {
		return s.flat
	}
	var b strings.Builder
	s.flattenInto(&b)
	s.flat = b.String()
	s.cached = true
	return s.flat
}

func (s *StringObject) flattenInto(b *strings.Builder) {
	if s.Left == nil {
		b.WriteString(s.leaf)
		return
	}
	s.Left.flattenInto(b)
	s.Right.flattenInto(b)
}

// Len reports the flattened string's byte length.
func (s *StringObject) Len() int { return len(s.Flatten()) }

// NewLeafString creates a leaf string object from a flat Go string.
func NewLeafString(s string) *StringObject {
	return &StringObject{leaf: s, flat: s, cached: true}
}

// NewString constructs an Orus string value from a flat Go string.
func NewString(s string) Value {
	return fromObject(TypeString, newObject(ObjStringKind, NewLeafString(s)))
}

// ConcatRope builds a new rope node joining a and b without flattening
// either side eagerly. This is the fast path the string-operations
// component exists for.
func ConcatRope(a, b *StringObject) *StringObject {
	return &StringObject{Left: a, Right: b}
}

// StringBuilder accumulates pieces and normalizes the final result to NFC
// so the intern table compares canonical forms.
type StringBuilder struct {
	parts []string
}

func (b *StringBuilder) WriteString(s string) { b.parts = append(b.parts, s) }

func (b *StringBuilder) Build() string {
	joined := strings.Join(b.parts, "")
	return norm.NFC.String(joined)
}

// InternTable deduplicates string heap objects by canonical content so
// equal strings share one allocation. The GC is responsible for evicting
// an interned string's entry when it sweeps the string; this table only
// ever adds or looks up.
type InternTable struct {
	entries map[string]*Object
	gc      *GC
}

// NewInternTable ties the table to the VM's collector so a freshly interned
// string is tracked in the sweep chain exactly once, at the moment it's
// created; Intern on a cache hit must never re-track the existing object.
func NewInternTable(gc *GC) *InternTable {
	return &InternTable{entries: make(map[string]*Object), gc: gc}
}

// Intern returns the canonical *Object for s, creating and registering a
// new leaf StringObject if this is the first time s has been seen.
func (t *InternTable) Intern(s string) *Object {
	canon := norm.NFC.String(s)
	if obj, ok := t.entries[canon]; ok {
		return obj
	}
	strObj := NewLeafString(canon)
	strObj.Interned = true
	obj := newObject(ObjStringKind, strObj)
	if t.gc != nil {
		t.gc.Track(obj)
	}
	t.entries[canon] = obj
	return obj
}

// Remove evicts a swept string's entry, called by the GC sweep phase.
func (t *InternTable) Remove(s string) {
	delete(t.entries, s)
}

// Len reports how many distinct strings are currently interned.
func (t *InternTable) Len() int { return len(t.entries) }

// Keys returns the canonical strings currently interned, for GC root
// scanning over the table's entries.
func (t *InternTable) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

// Get returns the interned object for a canonical key, if present.
func (t *InternTable) Get(key string) (*Object, bool) {
	obj, ok := t.entries[key]
	return obj, ok
}
