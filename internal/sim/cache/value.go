package cache

// Value resolves to the first node in walk order whose extraction reports a
// value.
type Value[T any] struct {
	owner   Node
	dir     Direction
	extract func(Node) (T, bool)

	v     T
	ok    bool
	dirty bool
}

func NewValue[T any](m *Manager, dir Direction, extract func(Node) (T, bool)) *Value[T] {
	v := &Value[T]{owner: m.Owner(), dir: dir, extract: extract, dirty: true}
	m.Register(v.Invalidate)
	return v
}

func (v *Value[T]) Get() (T, bool) {
	if v.dirty {
		var zero T
		v.v, v.ok = zero, false
		walk(v.owner, v.dir, func(n Node) bool {
			if x, ok := v.extract(n); ok {
				v.v, v.ok = x, true
				return false
			}
			return true
		})
		v.dirty = false
	}
	return v.v, v.ok
}

func (v *Value[T]) Invalidate() { v.dirty = true }
