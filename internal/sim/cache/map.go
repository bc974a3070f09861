package cache

// Entry is one key/value pair of a Map.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Map is a keyed aggregate. Key order is first-seen order during the walk, so
// iteration never depends on Go map ordering.
type Map[K comparable, V any] struct {
	owner      Node
	dir        Direction
	extract    func(Node) []Entry[K, V]
	onModified func()

	local      []Entry[K, V]
	localIndex map[K]int

	keys  []K
	vals  map[K]V
	dirty bool
}

func NewMap[K comparable, V any](m *Manager, dir Direction, extract func(Node) []Entry[K, V]) *Map[K, V] {
	mp := NewMapWith(m.Owner(), dir, extract, onModifiedFor(m, dir))
	m.Register(mp.Invalidate)
	return mp
}

func NewMapWith[K comparable, V any](owner Node, dir Direction, extract func(Node) []Entry[K, V], onModified func()) *Map[K, V] {
	return &Map[K, V]{
		owner:      owner,
		dir:        dir,
		extract:    extract,
		onModified: onModified,
		localIndex: map[K]int{},
		dirty:      true,
	}
}

// Set writes a local entry.
func (m *Map[K, V]) Set(k K, v V) {
	if i, ok := m.localIndex[k]; ok {
		m.local[i].Value = v
	} else {
		m.localIndex[k] = len(m.local)
		m.local = append(m.local, Entry[K, V]{Key: k, Value: v})
	}
	m.modified()
}

// Delete removes a local entry.
func (m *Map[K, V]) Delete(k K) bool {
	i, ok := m.localIndex[k]
	if !ok {
		return false
	}
	m.local = append(m.local[:i:i], m.local[i+1:]...)
	delete(m.localIndex, k)
	for j := i; j < len(m.local); j++ {
		m.localIndex[m.local[j].Key] = j
	}
	m.modified()
	return true
}

func (m *Map[K, V]) Clear() {
	if len(m.local) == 0 {
		return
	}
	m.local = nil
	m.localIndex = map[K]int{}
	m.modified()
}

// Local returns the owner's own entries in insertion order.
func (m *Map[K, V]) Local() []Entry[K, V] { return m.local }

func (m *Map[K, V]) Get(k K) (V, bool) {
	m.ensure()
	v, ok := m.vals[k]
	return v, ok
}

// Keys returns the aggregated keys. Callers must not modify the slice.
func (m *Map[K, V]) Keys() []K {
	m.ensure()
	return m.keys
}

func (m *Map[K, V]) Len() int {
	m.ensure()
	return len(m.keys)
}

func (m *Map[K, V]) Invalidate() { m.dirty = true }

func (m *Map[K, V]) ensure() {
	if !m.dirty {
		return
	}
	keys := make([]K, 0, len(m.keys))
	vals := make(map[K]V, len(m.keys))
	walk(m.owner, m.dir, func(n Node) bool {
		for _, e := range m.extract(n) {
			_, seen := vals[e.Key]
			if !seen {
				keys = append(keys, e.Key)
				vals[e.Key] = e.Value
				continue
			}
			if m.dir == DownToLeaves {
				vals[e.Key] = e.Value
			}
		}
		return true
	})
	m.keys = keys
	m.vals = vals
	m.dirty = false
}

func (m *Map[K, V]) modified() {
	m.dirty = true
	if m.onModified != nil {
		m.onModified()
	}
}
