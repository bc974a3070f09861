package core

// Action is a command applied to a target domain through Execute.
type Action interface {
	// Target resolves the domain the action applies to, starting at from.
	// A nil result means the action is not executable.
	Target(from Domain) Domain
	// Apply runs the action's own effect exactly once.
	Apply(target Domain)
}

// Named overrides the type name used in traces.
type Named interface {
	ActionName() string
}

// Guarded actions get a final say after the abort hooks.
type Guarded interface {
	CanExecute(target Domain) bool
}

// Revertible actions expose a symmetric undo used for rollback of local
// predictions.
type Revertible interface {
	CanRevert(target Domain) bool
	Revert(target Domain)
}

// On resolves the target as the first domain of type T, starting with from
// itself. Embed it in action structs.
type On[T Domain] struct{}

func (On[T]) Target(from Domain) Domain {
	t, ok := First[T](from, true)
	if !ok {
		return nil
	}
	return t
}

func ActionName(a Action) string {
	if n, ok := a.(Named); ok {
		return n.ActionName()
	}
	return TypeName(a)
}

// AddChild runs on a parent right after a child was attached to it.
type AddChild struct {
	Parent Domain
	Child  Domain
}

func (a *AddChild) Target(Domain) Domain { return a.Parent }

func (a *AddChild) Apply(Domain) {}

// RemoveChild runs on the former parent right after a child was detached.
type RemoveChild struct {
	Parent Domain
	Child  Domain
}

func (a *RemoveChild) Target(Domain) Domain { return a.Parent }

func (a *RemoveChild) Apply(Domain) {}
