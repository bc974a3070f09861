package core

import "fmt"

// Phase is one of the hook phases of the pipeline.
type Phase uint8

const (
	PhasePrepare Phase = iota
	PhaseAbort
	PhaseBefore
	PhaseAfter
	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "Prepare"
	case PhaseAbort:
		return "Abort"
	case PhaseBefore:
		return "Before"
	case PhaseAfter:
		return "After"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Hook is one registered phase handler on one host node.
type Hook struct {
	name  string
	phase Phase
	host  *Base
	match func(Domain, Action) bool
	run   func(Domain, Action) bool
}

func (h *Hook) Name() string { return h.name }

func (h *Hook) Phase() Phase { return h.phase }

// Host returns the node the hook is registered on.
func (h *Hook) Host() Domain { return h.host.self }

func (h *Hook) applies(target Domain, a Action) bool { return h.match(target, a) }

type hookSpec struct {
	phase Phase
	run   func(Domain, Action) bool
}

// Reaction groups phase handlers that apply to actions of type A whose target
// is of type D. Either type may be an interface.
//
// A reaction does nothing until added to a host with AddTo. It then applies
// to every action executing at the host or below it, and is released when
// the host is detached or Dispose is called.
type Reaction[D any, A any] struct {
	name     string
	specs    []hookSpec
	hosts    []*Base
	hooks    []*Hook
	disposed bool
}

func NewReaction[D any, A any](name string) *Reaction[D, A] {
	return &Reaction[D, A]{name: name}
}

func (r *Reaction[D, A]) Name() string { return r.name }

// Prepare may adjust the action before the abort check.
func (r *Reaction[D, A]) Prepare(fn func(D, A)) *Reaction[D, A] {
	return r.add(PhasePrepare, func(t Domain, a Action) bool {
		fn(t.(D), a.(A))
		return false
	})
}

// Abort vetoes execution when fn returns true.
func (r *Reaction[D, A]) Abort(fn func(D, A) bool) *Reaction[D, A] {
	return r.add(PhaseAbort, func(t Domain, a Action) bool {
		return fn(t.(D), a.(A))
	})
}

func (r *Reaction[D, A]) Before(fn func(D, A)) *Reaction[D, A] {
	return r.add(PhaseBefore, func(t Domain, a Action) bool {
		fn(t.(D), a.(A))
		return false
	})
}

func (r *Reaction[D, A]) After(fn func(D, A)) *Reaction[D, A] {
	return r.add(PhaseAfter, func(t Domain, a Action) bool {
		fn(t.(D), a.(A))
		return false
	})
}

func (r *Reaction[D, A]) add(phase Phase, run func(Domain, Action) bool) *Reaction[D, A] {
	spec := hookSpec{phase: phase, run: run}
	r.specs = append(r.specs, spec)
	for _, h := range r.hosts {
		r.install(h, spec)
	}
	return r
}

// AddTo registers the reaction's handlers on host.
func (r *Reaction[D, A]) AddTo(host Domain) *Reaction[D, A] {
	if r.disposed {
		return r
	}
	b := host.base()
	mustInit(b)
	if b.disposed {
		return r
	}
	r.hosts = append(r.hosts, b)
	for _, s := range r.specs {
		r.install(b, s)
	}
	b.OnDispose(r.Dispose)
	return r
}

func (r *Reaction[D, A]) install(b *Base, s hookSpec) {
	h := &Hook{
		name:  r.name,
		phase: s.phase,
		host:  b,
		match: func(t Domain, a Action) bool {
			if _, ok := t.(D); !ok {
				return false
			}
			_, ok := a.(A)
			return ok
		},
		run: s.run,
	}
	r.hooks = append(r.hooks, h)
	b.hooks[s.phase].Add(h)
}

// Dispose unregisters every handler. It is idempotent.
func (r *Reaction[D, A]) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	for _, h := range r.hooks {
		h.host.hooks[h.phase].Remove(h)
	}
	r.hooks = nil
	r.hosts = nil
}
