package vm

import (
	"math"
	"reflect"
	"sync"
)

// ---------------------------------------------------------------------------
// Array: fixed-length sequence
// ---------------------------------------------------------------------------

// Array is a fixed-length sequence of values. Element access is guarded so
// arrays reachable from a shared scope can be used from several contexts.
type Array struct {
	mu    sync.RWMutex
	items []Value
}

// NewArray creates an array holding items.
func NewArray(items ...Value) *Array {
	return &Array{items: append([]Value(nil), items...)}
}

func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// Get returns the element at i.
func (a *Array) Get(i int) (Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.items) {
		return Null, indexError(i, len(a.items))
	}
	return a.items[i], nil
}

// Set replaces the element at i.
func (a *Array) Set(i int, v Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.items) {
		return indexError(i, len(a.items))
	}
	a.items[i] = v
	return nil
}

// Items returns a copy of the elements.
func (a *Array) Items() []Value {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Value(nil), a.items...)
}

// ---------------------------------------------------------------------------
// Vector: growable sequence with stack operations at the end
// ---------------------------------------------------------------------------

// Vector is an indexable sequence that also behaves as a stack.
type Vector struct {
	mu    sync.RWMutex
	items []Value
}

// NewVector creates a vector holding items.
func NewVector(items ...Value) *Vector {
	return &Vector{items: append([]Value(nil), items...)}
}

func (v *Vector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

func (v *Vector) Get(i int) (Value, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if i < 0 || i >= len(v.items) {
		return Null, indexError(i, len(v.items))
	}
	return v.items[i], nil
}

func (v *Vector) Set(i int, val Value) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.items) {
		return indexError(i, len(v.items))
	}
	v.items[i] = val
	return nil
}

// Push appends values at the end.
func (v *Vector) Push(vals ...Value) {
	v.mu.Lock()
	v.items = append(v.items, vals...)
	v.mu.Unlock()
}

// Pop removes and returns the last element.
func (v *Vector) Pop() (Value, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.items)
	if n == 0 {
		return Null, NewError(IndexError, "pop from empty vector")
	}
	top := v.items[n-1]
	v.items[n-1] = Null
	v.items = v.items[:n-1]
	return top, nil
}

// Top returns the last element without removing it.
func (v *Vector) Top() (Value, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.items) == 0 {
		return Null, NewError(IndexError, "top of empty vector")
	}
	return v.items[len(v.items)-1], nil
}

// Insert places val before position i. i may equal Len.
func (v *Vector) Insert(i int, val Value) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i > len(v.items) {
		return indexError(i, len(v.items))
	}
	v.items = append(v.items, Null)
	copy(v.items[i+1:], v.items[i:])
	v.items[i] = val
	return nil
}

// Delete removes the element at i.
func (v *Vector) Delete(i int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.items) {
		return indexError(i, len(v.items))
	}
	v.items = append(v.items[:i], v.items[i+1:]...)
	return nil
}

// IndexOf returns the position of the first element equal to val, or -1.
func (v *Vector) IndexOf(val Value) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for i, it := range v.items {
		if Equal(it, val) {
			return i
		}
	}
	return -1
}

func (v *Vector) Items() []Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Value(nil), v.items...)
}

// ---------------------------------------------------------------------------
// Map: insertion-ordered, equality-keyed
// ---------------------------------------------------------------------------

type mapEntry struct {
	key, val Value
}

// Map preserves insertion order for iteration while looking keys up by
// equality. Numeric keys are normalized so 1, 1L and 1.0 address the same
// entry, matching Equal.
type Map struct {
	mu      sync.RWMutex
	entries []mapEntry
	index   map[any]int
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{index: make(map[any]int)}
}

type (
	nullKey    struct{}
	intKey     int64
	floatKey   float64
	boolKey    bool
	strKey     string
	classKey   string
	foreignKey struct{ x any }
)

// mapKey normalizes v into a comparable Go map key.
func mapKey(v Value) (any, error) {
	switch v.kind {
	case KindNull:
		return nullKey{}, nil
	case KindByte, KindChar, KindShort, KindInt, KindLong:
		return intKey(v.Int()), nil
	case KindFloat, KindDouble:
		f := v.Float()
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return intKey(int64(f)), nil
		}
		return floatKey(f), nil
	case KindBool:
		return boolKey(v.Bool()), nil
	case KindStr:
		return strKey(v.str), nil
	case KindClass:
		return classKey(v.Class().Name), nil
	case KindForeign:
		if !reflect.TypeOf(v.ref).Comparable() {
			return nil, NewError(TypeError, "%T cannot be used as a map key", v.ref)
		}
		return foreignKey{v.ref}, nil
	}
	return v.ref, nil
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Put adds or replaces the entry for k. Replacing keeps the original position.
func (m *Map) Put(k, v Value) error {
	key, err := mapKey(k)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[key]; ok {
		m.entries[i].val = v
		return nil
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, mapEntry{key: k, val: v})
	return nil
}

// Get looks up k.
func (m *Map) Get(k Value) (Value, bool, error) {
	key, err := mapKey(k)
	if err != nil {
		return Null, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[key]
	if !ok {
		return Null, false, nil
	}
	return m.entries[i].val, true, nil
}

// Delete removes k and reports whether it was present.
func (m *Map) Delete(k Value) (bool, error) {
	key, err := mapKey(k)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[key]
	if !ok {
		return false, nil
	}
	delete(m.index, key)
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	for j := i; j < len(m.entries); j++ {
		nk, _ := mapKey(m.entries[j].key)
		m.index[nk] = j
	}
	return true, nil
}

// Locate returns the key of the first entry whose value equals v.
func (m *Map) Locate(v Value) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if Equal(e.val, v) {
			return e.key, true
		}
	}
	return Null, false
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(i int, k, v Value) bool) {
	m.mu.RLock()
	entries := append([]mapEntry(nil), m.entries...)
	m.mu.RUnlock()
	for i, e := range entries {
		if !fn(i, e.key, e.val) {
			return
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Value, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

func indexError(i, n int) *Error {
	return NewError(IndexError, "index %d out of range [0, %d)", i, n)
}
