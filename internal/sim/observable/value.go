// Package observable holds tree nodes whose mutations run as actions. An
// observer is an ordinary reaction on the node, so it fires inside the
// action pipeline, shows up in traces and is released with its owner.
package observable

import (
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

// Value is a single observable field.
type Value[T comparable] struct {
	core.Leaf
	V T `json:"value"`
}

func NewValue[T comparable](parent core.Domain, initial T) *Value[T] {
	v := &Value[T]{V: initial}
	core.Init(v, parent)
	return v
}

func (v *Value[T]) Get() T { return v.V }

// Set executes a SetValue action on v and reports whether the value changed.
func (v *Value[T]) Set(x T) bool {
	a := &SetValue[T]{V: x}
	core.Execute(v, a)
	return a.changed
}

// Observe calls fn with each new value of v until observer is detached or
// the returned reaction is disposed. With now set, fn also sees the current
// value right away.
func (v *Value[T]) Observe(observer core.Domain, now bool, fn func(T)) *core.Reaction[*Value[T], *SetValue[T]] {
	r := core.NewReaction[*Value[T], *SetValue[T]]("ObserveValue").
		After(func(v *Value[T], a *SetValue[T]) {
			if a.changed {
				fn(v.V)
			}
		}).
		AddTo(v)
	observer.OnDispose(r.Dispose)
	if now {
		fn(v.V)
	}
	return r
}

// SetValue replaces the value. Setting an equal value notifies nobody.
type SetValue[T comparable] struct {
	core.On[*Value[T]]
	V T `json:"value"`

	old     T
	changed bool
}

func (a *SetValue[T]) Apply(t core.Domain) {
	v := t.(*Value[T])
	if v.V == a.V {
		return
	}
	a.old, v.V, a.changed = v.V, a.V, true
}

// Old is the value before the action ran.
func (a *SetValue[T]) Old() T { return a.old }

func (a *SetValue[T]) Changed() bool { return a.changed }
