package vm

import lru "github.com/hashicorp/golang-lru"

// SpillManager backs the spill register bank (logical IDs 256 and up,
// starting where the 256-slot primary window ends), built on
// github.com/hashicorp/golang-lru.
//
// A plain LRU cache would drop the coldest entry on overflow, which is fine
// for a content cache but wrong for a register file: a spilled value is
// still live and must never silently disappear. So eviction here demotes a
// slot to an unbounded overflow map rather than discarding it; the slot is
// promoted back into the hot cache on next access. Recency-ordered eviction
// governs which slots stay hot, not which slots survive.
type SpillManager struct {
	cache    *lru.Cache
	overflow map[int]Value
}

// defaultSpillCacheSize bounds the hot LRU tier; spill usage beyond it
// degrades to overflow-map lookups rather than failing.
const defaultSpillCacheSize = 1024

func NewSpillManager() *SpillManager {
	sm := &SpillManager{overflow: make(map[int]Value)}
	cache, err := lru.NewWithEvict(defaultSpillCacheSize, sm.onEvict)
	if err != nil {
		// Only returns an error for a non-positive size, which never happens
		// with the constant above.
		panic(err)
	}
	sm.cache = cache
	return sm
}

func (sm *SpillManager) onEvict(key, value interface{}) {
	sm.overflow[key.(int)] = value.(Value)
}

// Get returns the value at spill id, or the zero Value if the slot was
// never written.
func (sm *SpillManager) Get(id int) Value {
	if v, ok := sm.cache.Get(id); ok {
		return v.(Value)
	}
	if v, ok := sm.overflow[id]; ok {
		delete(sm.overflow, id)
		sm.cache.Add(id, v)
		return v
	}
	return Value{}
}

// Set writes the value at spill id, promoting it into the hot LRU tier.
func (sm *SpillManager) Set(id int, v Value) {
	delete(sm.overflow, id)
	sm.cache.Add(id, v)
}

// Len reports how many spill slots currently hold a value, across both
// tiers.
func (sm *SpillManager) Len() int {
	return sm.cache.Len() + len(sm.overflow)
}

// Reset clears every spill slot (used when resetting the VM without
// tearing down the process).
func (sm *SpillManager) Reset() {
	sm.cache.Purge()
	sm.overflow = make(map[int]Value)
}

// Values returns every currently live spill-slot value across both tiers,
// for the GC root scanner.
func (sm *SpillManager) Values() []Value {
	values := make([]Value, 0, sm.Len())
	for _, k := range sm.cache.Keys() {
		if v, ok := sm.cache.Peek(k); ok {
			values = append(values, v.(Value))
		}
	}
	for _, v := range sm.overflow {
		values = append(values, v)
	}
	return values
}
