package vm

import "testing"

func TestStringObjectLeafFlatten(t *testing.T) {
	s := NewLeafString("hello")
	if s.Flatten() != "hello" {
		t.Fatalf("Flatten() = %q", s.Flatten())
	}
	if s.Len() != 5 {
		t.Fatalf("Len() = %d", s.Len())
	}
}

func TestConcatRopeFlattensLazily(t *testing.T) {
	a := NewLeafString("foo")
	b := NewLeafString("bar")
	rope := ConcatRope(a, b)
	if rope.cached {
		t.Fatalf("a freshly built rope must not be pre-flattened")
	}
	if got := rope.Flatten(); got != "foobar" {
		t.Fatalf("Flatten() = %q", got)
	}
	if !rope.cached {
		t.Fatalf("Flatten() should cache its result")
	}
	if got := rope.Flatten(); got != "foobar" {
		t.Fatalf("cached Flatten() = %q", got)
	}
}

func TestConcatRopeNested(t *testing.T) {
	rope := ConcatRope(ConcatRope(NewLeafString("a"), NewLeafString("b")), NewLeafString("c"))
	if got := rope.Flatten(); got != "abc" {
		t.Fatalf("Flatten() = %q, want abc", got)
	}
}

func TestStringObjectEqual(t *testing.T) {
	a := NewLeafString("x")
	b := ConcatRope(NewLeafString(""), NewLeafString("x"))
	if !a.Equal(b) {
		t.Fatalf("strings with equal flattened content should compare equal regardless of rope shape")
	}
	c := NewLeafString("y")
	if a.Equal(c) {
		t.Fatalf("different content should not compare equal")
	}
}

func TestStringBuilderNormalizesToNFC(t *testing.T) {
	var b StringBuilder
	b.WriteString("e")
	b.WriteString("́") // combining acute accent: e + combining -> NFC é (e-acute)
	got := b.Build()
	want := "é"
	if got != want {
		t.Fatalf("Build() = %q (% x), want %q (% x)", got, []byte(got), want, []byte(want))
	}
}

func TestStringBuilderJoinsParts(t *testing.T) {
	var b StringBuilder
	b.WriteString("a")
	b.WriteString("b")
	b.WriteString("c")
	if got := b.Build(); got != "abc" {
		t.Fatalf("Build() = %q", got)
	}
}

func TestInternTableDedupesByCanonicalForm(t *testing.T) {
	gc := NewGC()
	it := NewInternTable(gc)
	o1 := it.Intern("é")
	o2 := it.Intern("é")
	if o1 != o2 {
		t.Fatalf("NFC-equivalent strings must share the same interned object")
	}
	if it.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", it.Len())
	}
}

func TestInternTableGetAndKeys(t *testing.T) {
	it := NewInternTable(nil)
	it.Intern("a")
	it.Intern("b")
	if obj, ok := it.Get("a"); !ok || obj == nil {
		t.Fatalf("Get(a) = (%v,%v)", obj, ok)
	}
	if _, ok := it.Get("missing"); ok {
		t.Fatalf("Get of an absent key should report ok=false")
	}
	keys := it.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 entries", keys)
	}
}

func TestInternTableRemove(t *testing.T) {
	it := NewInternTable(nil)
	it.Intern("gone")
	it.Remove("gone")
	if it.Len() != 0 {
		t.Fatalf("Len() after Remove() = %d", it.Len())
	}
}

func TestInternTableTracksWithGCOnlyOnce(t *testing.T) {
	gc := NewGC()
	it := NewInternTable(gc)
	it.Intern("dup")
	before := gc.BytesAllocated()
	it.Intern("dup") // cache hit: must not track (and charge bytes for) a second time
	if gc.BytesAllocated() != before {
		t.Fatalf("a cache-hit Intern() must not charge additional bytes_allocated")
	}
}
