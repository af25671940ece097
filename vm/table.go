package vm

// Table is the hybrid array/map container. The array part holds dense
// 1-based integer keys; the map part holds every other non-nil, non-NaN key.
// A key is never present in both parts at once.
//
// Tables are shared by handle: every Value wrapping the same *Table sees the
// same contents.
type Table struct {
	array   []Value
	buckets map[uint64][]tableEntry
	count   int
}

type tableEntry struct {
	key   Value
	value Value
}

// NewTable creates a table with room for narray array entries and nmap map
// entries.
func NewTable(narray, nmap int) *Table {
	return &Table{
		array:   make([]Value, 0, narray),
		buckets: make(map[uint64][]tableEntry, nmap),
	}
}

// ArrayLen returns the number of entries in the array part.
func (t *Table) ArrayLen() int { return len(t.array) }

// MapLen returns the number of entries in the map part.
func (t *Table) MapLen() int { return t.count }

// Array returns a copy of the array part.
func (t *Table) Array() []Value {
	return append([]Value(nil), t.array...)
}

// Get returns the value stored under key, or Nil.
func (t *Table) Get(key Value) Value {
	if key.IsNil() {
		return Nil
	}
	if i, ok := t.arrayIndex(key); ok {
		return t.array[i]
	}
	for _, e := range t.buckets[key.Hash()] {
		if e.key.Equal(key) {
			return e.value
		}
	}
	return Nil
}

// Set stores value under key. In-range integer keys write the array part;
// the key just past the end extends it. Everything else goes to the map.
// A nil or NaN key is a runtime error.
func (t *Table) Set(key, value Value) {
	checkKey(key)
	if key.kind == KindInteger {
		i, n := key.Int(), int64(len(t.array))
		if i >= 1 && i <= n {
			t.array[i-1] = value
			return
		}
		if i == n+1 {
			t.remove(key)
			t.array = append(t.array, value)
			t.migrate()
			return
		}
	}
	t.insert(key, value)
}

// Append moves values onto the end of the array part in one step.
func (t *Table) Append(values ...Value) {
	for _, v := range values {
		t.remove(FromInt(int64(len(t.array) + 1)))
		t.array = append(t.array, v)
	}
	t.migrate()
}

// Range calls fn for every entry, array part first in key order, then the
// map part in no particular order. Stops when fn returns false.
func (t *Table) Range(fn func(key, value Value) bool) {
	for i, v := range t.array {
		if !fn(FromInt(int64(i+1)), v) {
			return
		}
	}
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

func checkKey(key Value) {
	switch {
	case key.IsNil():
		runtimeError("table index is nil")
	case key.IsNaN():
		runtimeError("table index is NaN")
	}
}

func (t *Table) arrayIndex(key Value) (int, bool) {
	if key.kind != KindInteger {
		return 0, false
	}
	i := key.Int()
	if i >= 1 && i <= int64(len(t.array)) {
		return int(i - 1), true
	}
	return 0, false
}

// insert writes the map part unconditionally.
func (t *Table) insert(key, value Value) {
	h := key.Hash()
	bucket := t.buckets[h]
	for i := range bucket {
		if bucket[i].key.Equal(key) {
			bucket[i].value = value
			return
		}
	}
	t.buckets[h] = append(bucket, tableEntry{key: key, value: value})
	t.count++
}

// remove deletes key from the map part, if present.
func (t *Table) remove(key Value) (Value, bool) {
	if t.count == 0 {
		return Nil, false
	}
	h := key.Hash()
	bucket := t.buckets[h]
	for i := range bucket {
		if bucket[i].key.Equal(key) {
			v := bucket[i].value
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(t.buckets, h)
			} else {
				t.buckets[h] = bucket
			}
			t.count--
			return v, true
		}
	}
	return Nil, false
}

// migrate pulls integer keys that now continue the array part out of the map.
func (t *Table) migrate() {
	for t.count > 0 {
		v, ok := t.remove(FromInt(int64(len(t.array) + 1)))
		if !ok {
			return
		}
		t.array = append(t.array, v)
	}
}
