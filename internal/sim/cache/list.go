package cache

// List is an ordered aggregate: the owner's extracted items followed by every
// visited node's items in walk order.
type List[T comparable] struct {
	owner      Node
	dir        Direction
	extract    func(Node) []T
	onModified func()

	local []T
	items []T
	dirty bool
}

// NewList binds a list to m. extract must return a node's local items; for
// the owner it is usually backed by Local.
func NewList[T comparable](m *Manager, dir Direction, extract func(Node) []T) *List[T] {
	l := NewListWith(m.Owner(), dir, extract, onModifiedFor(m, dir))
	m.Register(l.Invalidate)
	return l
}

// NewListWith builds a list that is not registered with any manager.
func NewListWith[T comparable](owner Node, dir Direction, extract func(Node) []T, onModified func()) *List[T] {
	return &List[T]{
		owner:      owner,
		dir:        dir,
		extract:    extract,
		onModified: onModified,
		dirty:      true,
	}
}

func (l *List[T]) Direction() Direction { return l.dir }

// Add appends v to the local items.
func (l *List[T]) Add(v T) {
	l.local = append(l.local, v)
	l.modified()
}

// Remove drops the first local occurrence of v.
func (l *List[T]) Remove(v T) bool {
	for i, x := range l.local {
		if x == v {
			l.local = append(l.local[:i:i], l.local[i+1:]...)
			l.modified()
			return true
		}
	}
	return false
}

func (l *List[T]) Clear() {
	if len(l.local) == 0 {
		return
	}
	l.local = nil
	l.modified()
}

// Local returns the owner's own items. Callers must not modify the slice.
func (l *List[T]) Local() []T { return l.local }

// Items returns the aggregated view. Callers must not modify the slice.
func (l *List[T]) Items() []T {
	if l.dirty {
		l.recompute()
	}
	return l.items
}

func (l *List[T]) Len() int { return len(l.Items()) }

func (l *List[T]) At(i int) T { return l.Items()[i] }

func (l *List[T]) Invalidate() { l.dirty = true }

func (l *List[T]) IsDirty() bool { return l.dirty }

func (l *List[T]) recompute() {
	var out []T
	walk(l.owner, l.dir, func(n Node) bool {
		out = append(out, l.extract(n)...)
		return true
	})
	l.items = out
	l.dirty = false
}

func (l *List[T]) modified() {
	l.dirty = true
	if l.onModified != nil {
		l.onModified()
	}
}
