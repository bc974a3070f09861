// Package cache keeps lazily recomputed aggregate views over a node tree.
//
// Every node owns a Manager. Views minted on a manager register with it so a
// single InvalidateAll marks all of them dirty; InvalidateAllRecursive cascades
// the signal through the owned subtree. Views never recompute eagerly: a dirty
// view is rebuilt on the next read.
package cache

// Node is the tree shape the cache layer walks. CacheParent returns nil for a
// root.
type Node interface {
	CacheParent() Node
	CacheChildren() []Node
	CacheManager() *Manager
}

// Direction selects which part of the tree a view aggregates.
type Direction uint8

const (
	// UpToRoot merges the owner with its ancestors, nearest first. Ancestor
	// entries only fill gaps the owner does not already have.
	UpToRoot Direction = iota
	// DownToLeaves merges the owner with its whole subtree in pre-order.
	// Deeper and later entries override earlier ones.
	DownToLeaves
)

func (d Direction) String() string {
	switch d {
	case UpToRoot:
		return "up_to_root"
	case DownToLeaves:
		return "down_to_leaves"
	default:
		return "unknown"
	}
}

// Manager tracks every view bound to one node.
type Manager struct {
	owner   Node
	entries []func()
}

func NewManager(owner Node) *Manager {
	return &Manager{owner: owner}
}

func (m *Manager) Owner() Node { return m.owner }

// Register adds an invalidation callback. Callbacks live as long as the
// manager.
func (m *Manager) Register(invalidate func()) {
	if invalidate == nil {
		return
	}
	m.entries = append(m.entries, invalidate)
}

func (m *Manager) InvalidateAll() {
	for _, inv := range m.entries {
		inv()
	}
}

// InvalidateAllRecursive invalidates this manager and every descendant's
// manager.
func (m *Manager) InvalidateAllRecursive() {
	m.InvalidateAll()
	if m.owner == nil {
		return
	}
	for _, c := range m.owner.CacheChildren() {
		if cm := c.CacheManager(); cm != nil {
			cm.InvalidateAllRecursive()
		}
	}
}

// InvalidateAncestors invalidates every manager on the ownership path above
// the owner.
func (m *Manager) InvalidateAncestors() {
	if m.owner == nil {
		return
	}
	for p := m.owner.CacheParent(); p != nil; p = p.CacheParent() {
		if pm := p.CacheManager(); pm != nil {
			pm.InvalidateAll()
		}
	}
}

// walk visits the owner first and then the configured direction.
func walk(owner Node, dir Direction, visit func(Node) bool) {
	if owner == nil {
		return
	}
	if !visit(owner) {
		return
	}
	switch dir {
	case UpToRoot:
		for p := owner.CacheParent(); p != nil; p = p.CacheParent() {
			if !visit(p) {
				return
			}
		}
	case DownToLeaves:
		var rec func(n Node) bool
		rec = func(n Node) bool {
			for _, c := range n.CacheChildren() {
				if !visit(c) {
					return false
				}
				if !rec(c) {
					return false
				}
			}
			return true
		}
		rec(owner)
	}
}

// onModifiedFor is the callback a tree-bound view fires after a local edit.
func onModifiedFor(m *Manager, dir Direction) func() {
	return func() {
		m.InvalidateAllRecursive()
		if dir == DownToLeaves {
			m.InvalidateAncestors()
		}
	}
}
