// Package core implements the domain tree and the five-phase action pipeline.
//
// A domain is any struct embedding Leaf or Branch and initialized with Init.
// Parents own their children; children keep a plain back-pointer. All
// mutation of one tree happens on a single goroutine (see package loop).
package core

import (
	"fmt"
	"reflect"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/cache"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/trace"
)

// Domain is implemented by embedding Leaf or Branch.
type Domain interface {
	ID() int
	SetID(id int)
	TypeName() string
	Parent() Domain
	Children() []Domain
	IsDisposed() bool
	OnDispose(fn func())
	base() *Base
}

type compositeMarker interface {
	isComposite()
}

// Leaf is a terminal domain.
type Leaf struct {
	Base
}

// Branch is a domain with an ordered list of owned children.
type Branch struct {
	Base
}

func (*Branch) isComposite() {}

// Base carries the tree bookkeeping shared by every domain.
type Base struct {
	self      Domain
	id        int
	typeName  string
	parent    *Base
	children  []*Base
	composite bool
	disposed  bool
	cleanups  []func()

	cache  *cache.Manager
	hooks  [phaseCount]*cache.List[*Hook]
	root   *cache.Value[*Base]
	tracer *trace.Logger
}

func (b *Base) base() *Base { return b }

// Init wires d into the tree machinery and attaches it to parent when parent
// is non-nil. It must be called once, from d's constructor.
func Init(d Domain, parent Domain) {
	b := d.base()
	if b.self != nil {
		panic(fmt.Sprintf("core: %s initialized twice", b.typeName))
	}
	b.self = d
	b.typeName = TypeName(d)
	_, b.composite = d.(compositeMarker)
	b.cache = cache.NewManager(b)
	for p := range b.hooks {
		phase := Phase(p)
		b.hooks[p] = cache.NewList(b.cache, cache.UpToRoot, func(n cache.Node) []*Hook {
			return n.(*Base).hooks[phase].Local()
		})
	}
	b.root = cache.NewValue(b.cache, cache.UpToRoot, func(n cache.Node) (*Base, bool) {
		nb := n.(*Base)
		return nb, nb.parent == nil
	})
	if parent != nil {
		Attach(d, parent)
	}
}

// TypeName returns the bare Go type name of v, dereferencing pointers.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func (b *Base) ID() int { return b.id }

// SetID changes the node identity and invalidates views keyed by it.
func (b *Base) SetID(id int) {
	if b.id == id {
		return
	}
	b.id = id
	if b.cache != nil {
		b.cache.InvalidateAll()
		b.cache.InvalidateAncestors()
	}
}

func (b *Base) TypeName() string { return b.typeName }

// Self returns the outer domain value that embeds this Base.
func (b *Base) Self() Domain { return b.self }

func (b *Base) Parent() Domain {
	if b.parent == nil {
		return nil
	}
	return b.parent.self
}

func (b *Base) Children() []Domain {
	out := make([]Domain, 0, len(b.children))
	for _, c := range b.children {
		out = append(out, c.self)
	}
	return out
}

func (b *Base) ChildCount() int { return len(b.children) }

func (b *Base) IsComposite() bool { return b.composite }

func (b *Base) IsAttached() bool { return b.parent != nil }

func (b *Base) IsDisposed() bool { return b.disposed }

func (b *Base) Cache() *cache.Manager { return b.cache }

// CacheOf returns the cache manager owned by d.
func CacheOf(d Domain) *cache.Manager { return d.base().cache }

// OnDispose registers fn to run when the node is detached. Callbacks run in
// reverse registration order.
func (b *Base) OnDispose(fn func()) {
	if fn == nil {
		return
	}
	if b.disposed {
		fn()
		return
	}
	b.cleanups = append(b.cleanups, fn)
}

func (b *Base) CacheParent() cache.Node {
	if b.parent == nil {
		return nil
	}
	return b.parent
}

func (b *Base) CacheChildren() []cache.Node {
	out := make([]cache.Node, len(b.children))
	for i, c := range b.children {
		out[i] = c
	}
	return out
}

func (b *Base) CacheManager() *cache.Manager { return b.cache }

func (b *Base) String() string {
	return fmt.Sprintf("%s[%d]", b.typeName, b.id)
}

func mustInit(b *Base) {
	if b.self == nil {
		panic("core: domain used before Init")
	}
}

// Attach appends child to parent's children and runs AddChild on parent.
// Attaching an already attached node panics; attaching to or from a disposed
// node does nothing.
func Attach(child, parent Domain) {
	c, p := child.base(), parent.base()
	mustInit(c)
	mustInit(p)
	if c.parent != nil {
		panic(fmt.Sprintf("core: %s is already attached to %s", c, c.parent))
	}
	if c.disposed || p.disposed {
		return
	}
	if !p.composite {
		panic(fmt.Sprintf("core: %s cannot own children", p))
	}
	for x := p; x != nil; x = x.parent {
		if x == c {
			panic(fmt.Sprintf("core: attaching %s under %s would create a cycle", c, p))
		}
	}
	p.children = append(p.children, c)
	c.parent = p
	p.cache.InvalidateAllRecursive()
	p.cache.InvalidateAncestors()
	Execute(p.self, &AddChild{Parent: p.self, Child: c.self})
}

// Detach removes d from its parent, disposes its descendants over a snapshot
// of the child list and releases everything registered with OnDispose.
func Detach(d Domain) {
	b := d.base()
	if b.disposed || b.self == nil {
		return
	}
	b.disposed = true
	children := append([]*Base(nil), b.children...)
	for _, c := range children {
		Detach(c.self)
	}
	removeFromParent(b)
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		b.cleanups[i]()
	}
	b.cleanups = nil
}

// Move relocates d under newParent without disposing it.
func Move(d, newParent Domain) {
	b := d.base()
	if b.disposed || newParent.base().disposed {
		return
	}
	removeFromParent(b)
	Attach(d, newParent)
}

func removeFromParent(b *Base) {
	p := b.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == b {
			p.children = append(p.children[:i:i], p.children[i+1:]...)
			break
		}
	}
	b.parent = nil
	b.cache.InvalidateAllRecursive()
	p.cache.InvalidateAllRecursive()
	p.cache.InvalidateAncestors()
	if !p.disposed {
		Execute(p.self, &RemoveChild{Parent: p.self, Child: b.self})
	}
}
