package observable

import (
	"errors"
	"math/rand"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

// ErrNoRandom is raised by a Shuffle that ran outside any random provider.
var ErrNoRandom = errors.New("observable: shuffle without a random provider")

type Kind uint8

const (
	Added Kind = iota + 1
	Inserted
	Removed
	Replaced
	Cleared
	Reordered
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	case Replaced:
		return "replaced"
	case Cleared:
		return "cleared"
	case Reordered:
		return "reordered"
	default:
		return "unknown"
	}
}

// Change describes one applied list mutation. Old is set for Replaced;
// Dropped holds the items a Clear removed.
type Change[T comparable] struct {
	Kind    Kind
	Index   int
	Item    T
	Old     T
	Dropped []T
}

// Mutation is implemented by every list action.
type Mutation[T comparable] interface {
	core.Action
	// Change reports what the action did, and false when it did nothing.
	Change() (Change[T], bool)
}

// List is an ordered observable collection.
type List[T comparable] struct {
	core.Leaf
	Items []T `json:"items"`
}

func NewList[T comparable](parent core.Domain, items ...T) *List[T] {
	l := &List[T]{Items: append([]T{}, items...)}
	core.Init(l, parent)
	return l
}

func (l *List[T]) Len() int { return len(l.Items) }

func (l *List[T]) At(i int) T { return l.Items[i] }

// Values returns a copy of the items.
func (l *List[T]) Values() []T { return append([]T(nil), l.Items...) }

func (l *List[T]) Index(x T) int {
	for i, v := range l.Items {
		if v == x {
			return i
		}
	}
	return -1
}

func (l *List[T]) Contains(x T) bool { return l.Index(x) >= 0 }

// Add appends each item with its own action.
func (l *List[T]) Add(items ...T) {
	for _, x := range items {
		core.Execute(l, &Add[T]{Item: x})
	}
}

func (l *List[T]) Insert(i int, x T) bool { return core.Execute(l, &Insert[T]{Index: i, Item: x}) }

func (l *List[T]) RemoveAt(i int) bool { return core.Execute(l, &RemoveAt[T]{Index: i}) }

// Remove drops the first occurrence of x.
func (l *List[T]) Remove(x T) bool {
	i := l.Index(x)
	if i < 0 {
		return false
	}
	return l.RemoveAt(i)
}

// SetAt replaces item i. Replacing with an equal item notifies nobody.
func (l *List[T]) SetAt(i int, x T) bool { return core.Execute(l, &SetAt[T]{Index: i, Item: x}) }

func (l *List[T]) Clear() bool { return core.Execute(l, &Clear[T]{}) }

// Shuffle reorders the list with the generator of the nearest random
// provider above it.
func (l *List[T]) Shuffle() bool { return core.Execute(l, &Shuffle[T]{}) }

// Observe calls fn after every applied mutation of l until observer is
// detached or the returned reaction is disposed.
func (l *List[T]) Observe(observer core.Domain, fn func(Change[T])) *core.Reaction[*List[T], Mutation[T]] {
	r := core.NewReaction[*List[T], Mutation[T]]("ObserveList").
		After(func(_ *List[T], a Mutation[T]) {
			if c, ok := a.Change(); ok {
				fn(c)
			}
		}).
		AddTo(l)
	observer.OnDispose(r.Dispose)
	return r
}

// ObserveBeforeRemove calls fn while the item at the index is still present.
func (l *List[T]) ObserveBeforeRemove(observer core.Domain, fn func(Change[T])) *core.Reaction[*List[T], *RemoveAt[T]] {
	r := core.NewReaction[*List[T], *RemoveAt[T]]("ObserveBeforeRemove").
		Before(func(l *List[T], a *RemoveAt[T]) {
			fn(Change[T]{Kind: Removed, Index: a.Index, Item: l.Items[a.Index]})
		}).
		AddTo(l)
	observer.OnDispose(r.Dispose)
	return r
}

// ObservePresence fires onAdded when item enters l and onRemoved when it
// leaves. Either callback may be nil.
func (l *List[T]) ObservePresence(observer core.Domain, item T, onAdded, onRemoved func()) *core.Reaction[*List[T], Mutation[T]] {
	call := func(fn func()) {
		if fn != nil {
			fn()
		}
	}
	return l.Observe(observer, func(c Change[T]) {
		switch c.Kind {
		case Added, Inserted:
			if c.Item == item {
				call(onAdded)
			}
		case Removed:
			if c.Item == item {
				call(onRemoved)
			}
		case Replaced:
			if c.Old == item {
				call(onRemoved)
			}
			if c.Item == item {
				call(onAdded)
			}
		case Cleared:
			for _, x := range c.Dropped {
				if x == item {
					call(onRemoved)
					break
				}
			}
		}
	})
}

type Add[T comparable] struct {
	core.On[*List[T]]
	Item T `json:"item"`

	index int
}

func (a *Add[T]) Apply(t core.Domain) {
	l := t.(*List[T])
	l.Items = append(l.Items, a.Item)
	a.index = len(l.Items) - 1
}

func (a *Add[T]) Change() (Change[T], bool) {
	return Change[T]{Kind: Added, Index: a.index, Item: a.Item}, true
}

type Insert[T comparable] struct {
	core.On[*List[T]]
	Index int `json:"index"`
	Item  T   `json:"item"`
}

func (a *Insert[T]) CanExecute(t core.Domain) bool {
	return a.Index >= 0 && a.Index <= t.(*List[T]).Len()
}

func (a *Insert[T]) Apply(t core.Domain) {
	l := t.(*List[T])
	var zero T
	l.Items = append(l.Items, zero)
	copy(l.Items[a.Index+1:], l.Items[a.Index:])
	l.Items[a.Index] = a.Item
}

func (a *Insert[T]) Change() (Change[T], bool) {
	return Change[T]{Kind: Inserted, Index: a.Index, Item: a.Item}, true
}

type RemoveAt[T comparable] struct {
	core.On[*List[T]]
	Index int `json:"index"`

	item T
}

func (a *RemoveAt[T]) CanExecute(t core.Domain) bool {
	return a.Index >= 0 && a.Index < t.(*List[T]).Len()
}

func (a *RemoveAt[T]) Apply(t core.Domain) {
	l := t.(*List[T])
	a.item = l.Items[a.Index]
	l.Items = append(l.Items[:a.Index], l.Items[a.Index+1:]...)
}

func (a *RemoveAt[T]) Change() (Change[T], bool) {
	return Change[T]{Kind: Removed, Index: a.Index, Item: a.item}, true
}

type SetAt[T comparable] struct {
	core.On[*List[T]]
	Index int `json:"index"`
	Item  T   `json:"item"`

	old     T
	changed bool
}

func (a *SetAt[T]) CanExecute(t core.Domain) bool {
	return a.Index >= 0 && a.Index < t.(*List[T]).Len()
}

func (a *SetAt[T]) Apply(t core.Domain) {
	l := t.(*List[T])
	if l.Items[a.Index] == a.Item {
		return
	}
	a.old, l.Items[a.Index], a.changed = l.Items[a.Index], a.Item, true
}

func (a *SetAt[T]) Change() (Change[T], bool) {
	return Change[T]{Kind: Replaced, Index: a.Index, Item: a.Item, Old: a.old}, a.changed
}

type Clear[T comparable] struct {
	core.On[*List[T]]

	dropped []T
}

func (a *Clear[T]) Apply(t core.Domain) {
	l := t.(*List[T])
	a.dropped = l.Items
	l.Items = []T{}
}

func (a *Clear[T]) Change() (Change[T], bool) {
	return Change[T]{Kind: Cleared, Dropped: a.dropped}, true
}

// Shuffle reorders the list in place. The generator is injected by the
// match's random provider, so every replica produces the same order.
type Shuffle[T comparable] struct {
	core.On[*List[T]]

	rng *rand.Rand
}

func (a *Shuffle[T]) SetRandom(r *rand.Rand) { a.rng = r }

func (a *Shuffle[T]) Apply(t core.Domain) {
	if a.rng == nil {
		panic(ErrNoRandom)
	}
	l := t.(*List[T])
	for i := len(l.Items) - 1; i > 0; i-- {
		j := a.rng.Intn(i + 1)
		l.Items[i], l.Items[j] = l.Items[j], l.Items[i]
	}
}

func (a *Shuffle[T]) Change() (Change[T], bool) {
	return Change[T]{Kind: Reordered}, true
}
