package core

// First returns the first node of type T: self when includeSelf, then the
// direct children in insertion order, then each child's subtree in turn.
func First[T any](d Domain, includeSelf bool) (T, bool) {
	b := d.base()
	if includeSelf {
		if t, ok := b.self.(T); ok {
			return t, true
		}
	}
	for _, c := range b.children {
		if t, ok := c.self.(T); ok {
			return t, true
		}
	}
	for _, c := range b.children {
		if t, ok := First[T](c.self, false); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// All returns matching direct children, then self when includeSelf, then the
// matches of each child's subtree when recursive.
func All[T any](d Domain, includeSelf, recursive bool) []T {
	var out []T
	collectAll(d.base(), includeSelf, recursive, &out)
	return out
}

func collectAll[T any](b *Base, includeSelf, recursive bool, out *[]T) {
	for _, c := range b.children {
		if t, ok := c.self.(T); ok {
			*out = append(*out, t)
		}
	}
	if includeSelf {
		if t, ok := b.self.(T); ok {
			*out = append(*out, t)
		}
	}
	if !recursive {
		return
	}
	for _, c := range b.children {
		collectAll(c, false, true, out)
	}
}

// InParent returns the nearest ancestor of type T.
func InParent[T any](d Domain, includeSelf bool) (T, bool) {
	b := d.base()
	if !includeSelf {
		b = b.parent
	}
	for ; b != nil; b = b.parent {
		if t, ok := b.self.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Root returns the top of d's tree.
func Root(d Domain) Domain {
	r, ok := d.base().root.Get()
	if !ok {
		return d
	}
	return r.self
}

// Walk visits d and its subtree in pre-order until visit returns false.
func Walk(d Domain, visit func(Domain) bool) {
	walk(d.base(), visit)
}

func walk(b *Base, visit func(Domain) bool) bool {
	if !visit(b.self) {
		return false
	}
	for _, c := range b.children {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}
