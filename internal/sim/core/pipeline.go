package core

import (
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/trace"
)

// Execute runs a through Prepare, Abort, Before, Apply and After at the
// target resolved from from. It returns false when no target exists or the
// action was vetoed. Panics raised by hooks or Apply propagate to the caller.
func Execute(from Domain, a Action) bool {
	target := a.Target(from)
	if target == nil {
		return false
	}
	tb := target.base()
	if tb.disposed {
		return false
	}
	rec := recorderFor(tb, a)

	for _, h := range Collect(target, a, PhasePrepare) {
		rec.hook(trace.Prepare, h)
		h.run(target, a)
	}
	for _, h := range Collect(target, a, PhaseAbort) {
		rec.hook(trace.Abort, h)
		if h.run(target, a) {
			return false
		}
	}
	if g, ok := a.(Guarded); ok && !g.CanExecute(target) {
		return false
	}

	rec.action(trace.ActionStart)
	before := Collect(target, a, PhaseBefore)
	after := Collect(target, a, PhaseAfter)
	for _, h := range before {
		rec.hook(trace.Before, h)
		h.run(target, a)
	}
	rec.action(trace.Execute)
	a.Apply(target)
	for _, h := range after {
		rec.hook(trace.After, h)
		h.run(target, a)
	}
	rec.action(trace.ActionEnd)
	return true
}

// Revert re-resolves the target and undoes a when it supports it.
func Revert(from Domain, a Action) bool {
	r, ok := a.(Revertible)
	if !ok {
		return false
	}
	target := a.Target(from)
	if target == nil || !r.CanRevert(target) {
		return false
	}
	r.Revert(target)
	return true
}

// Collect returns the hooks of one phase that apply to a at target: target's
// own hooks first, then each ancestor's, root last.
func Collect(target Domain, a Action, phase Phase) []*Hook {
	all := target.base().hooks[phase].Items()
	var out []*Hook
	for _, h := range all {
		if h.applies(target, a) {
			out = append(out, h)
		}
	}
	return out
}

// BeginTrace starts a fresh trace scoped to d's subtree. Events are recorded
// for actions targeting nodes inside the scope; hook events only for hooks
// registered inside it.
func BeginTrace(d Domain) *trace.Logger {
	l := trace.NewLogger()
	d.base().tracer = l
	return l
}

// EndTrace stops tracing at d and returns the finished logger, if any.
func EndTrace(d Domain) *trace.Logger {
	b := d.base()
	l := b.tracer
	b.tracer = nil
	return l
}

// ActiveTrace returns the logger recording actions that target d.
func ActiveTrace(d Domain) *trace.Logger {
	l, _ := scopeOf(d.base())
	return l
}

func scopeOf(b *Base) (*trace.Logger, *Base) {
	for x := b; x != nil; x = x.parent {
		if x.tracer != nil {
			return x.tracer, x
		}
	}
	return nil, nil
}

type recorder struct {
	log    *trace.Logger
	scope  *Base
	target *Base
	name   string
}

func recorderFor(target *Base, a Action) recorder {
	l, scope := scopeOf(target)
	if l == nil {
		return recorder{}
	}
	return recorder{log: l, scope: scope, target: target, name: ActionName(a)}
}

func (r recorder) action(kind trace.Kind) {
	if r.log == nil {
		return
	}
	r.log.Record(kind, r.name, "", r.target.id, r.target.typeName)
}

func (r recorder) hook(kind trace.Kind, h *Hook) {
	if r.log == nil || !within(h.host, r.scope) {
		return
	}
	r.log.Record(kind, r.name, h.name, r.target.id, r.target.typeName)
}

func within(b, scope *Base) bool {
	for x := b; x != nil; x = x.parent {
		if x == scope {
			return true
		}
	}
	return false
}
