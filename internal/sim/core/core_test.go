package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/trace"
)

type world struct {
	core.Branch
}

func newWorld(parent core.Domain) *world {
	w := &world{}
	core.Init(w, parent)
	return w
}

type counter struct {
	core.Leaf
	Value int `json:"value"`
}

func newCounter(parent core.Domain) *counter {
	c := &counter{}
	core.Init(c, parent)
	return c
}

type increment struct {
	core.On[*counter]
	Amount int
}

func (a *increment) Apply(t core.Domain) { t.(*counter).Value += a.Amount }

func (a *increment) CanRevert(core.Domain) bool { return true }

func (a *increment) Revert(t core.Domain) { t.(*counter).Value -= a.Amount }

type reset struct {
	core.On[*counter]
}

func (reset) ActionName() string { return "ResetCounter" }

func (reset) Apply(t core.Domain) { t.(*counter).Value = 0 }

func TestCounterScenario(t *testing.T) {
	root := newWorld(nil)
	c := newCounter(root)

	log := core.BeginTrace(root)
	for _, n := range []int{1, 5, 10} {
		require.True(t, core.Execute(root, &increment{Amount: n}))
	}
	core.EndTrace(root)

	require.Equal(t, 16, c.Value)
	ev := log.Events()
	require.Equal(t, 3, trace.Count(ev, trace.Execute))
	require.Equal(t, 0, trace.Count(ev, trace.Abort))
	require.Equal(t, "[1] Action.Execute: increment on counter[0]", ev[1].String())
}

func TestAbortShortCircuits(t *testing.T) {
	root := newWorld(nil)
	c := newCounter(root)

	var ran []string
	core.NewReaction[*counter, *increment]("Cap").
		Abort(func(c *counter, a *increment) bool { return c.Value+a.Amount > 10 }).
		Before(func(*counter, *increment) { ran = append(ran, "before") }).
		After(func(*counter, *increment) { ran = append(ran, "after") }).
		AddTo(root)

	require.True(t, core.Execute(root, &increment{Amount: 4}))
	require.Equal(t, []string{"before", "after"}, ran)

	ran = nil
	log := core.BeginTrace(root)
	require.False(t, core.Execute(root, &increment{Amount: 20}))
	core.EndTrace(root)

	assert.Empty(t, ran)
	assert.Equal(t, 4, c.Value)
	ev := log.Events()
	assert.Equal(t, 0, trace.Count(ev, trace.Execute))
	assert.Equal(t, 0, trace.Count(ev, trace.Before))
	assert.Equal(t, 1, trace.Count(ev, trace.Abort))
}

func TestPrepareMayRewriteAction(t *testing.T) {
	root := newWorld(nil)
	c := newCounter(root)
	core.NewReaction[*counter, *increment]("Double").
		Prepare(func(_ *counter, a *increment) { a.Amount *= 2 }).
		AddTo(c)

	core.Execute(root, &increment{Amount: 3})
	require.Equal(t, 6, c.Value)
}

func TestHookOrderSelfThenAncestors(t *testing.T) {
	root := newWorld(nil)
	mid := newWorld(root)
	c := newCounter(mid)

	var order []string
	add := func(name string, host core.Domain) {
		core.NewReaction[*counter, *increment](name).
			Before(func(*counter, *increment) { order = append(order, name) }).
			AddTo(host)
	}
	add("root-1", root)
	add("mid", mid)
	add("self", c)
	add("root-2", root)

	core.Execute(root, &increment{Amount: 1})
	require.Equal(t, []string{"self", "mid", "root-1", "root-2"}, order)

	a := core.Collect(c, &increment{}, core.PhaseBefore)
	b := core.Collect(c, &increment{}, core.PhaseBefore)
	require.Equal(t, a, b)
	require.Len(t, a, 4)
}

func TestReactionFiltersByTypes(t *testing.T) {
	root := newWorld(nil)
	c := newCounter(root)

	var anyCount, incOnly int
	core.NewReaction[core.Domain, core.Action]("Any").
		After(func(core.Domain, core.Action) { anyCount++ }).
		AddTo(root)
	core.NewReaction[*world, *increment]("WorldOnly").
		After(func(*world, *increment) { incOnly++ }).
		AddTo(root)

	core.Execute(c, &increment{Amount: 1})
	core.Execute(c, reset{})
	assert.Equal(t, 2, anyCount)
	assert.Equal(t, 0, incOnly)
}

func TestReactionDisposeAndDetachRelease(t *testing.T) {
	root := newWorld(nil)
	holder := newWorld(root)
	c := newCounter(holder)

	fired := 0
	r := core.NewReaction[*counter, *increment]("Count").
		After(func(*counter, *increment) { fired++ }).
		AddTo(root)
	core.Execute(root, &increment{Amount: 1})
	r.Dispose()
	r.Dispose()
	core.Execute(root, &increment{Amount: 1})
	require.Equal(t, 1, fired)

	core.NewReaction[*counter, *increment]("Holder").
		After(func(*counter, *increment) { fired++ }).
		AddTo(holder)
	core.Detach(holder)
	require.True(t, c.IsDisposed())
	require.Nil(t, holder.Parent())
	require.Zero(t, root.ChildCount())
	require.False(t, core.Execute(root, &increment{Amount: 1}))

	core.Detach(holder)
	require.Equal(t, 1, fired)
}

func TestFindOrder(t *testing.T) {
	root := newWorld(nil)
	a := newWorld(root)
	c1 := newCounter(a)
	c2 := newCounter(root)
	c3 := newCounter(a)

	first, ok := core.First[*counter](root, true)
	require.True(t, ok)
	require.Same(t, c2, first)

	self, ok := core.First[*world](root, true)
	require.True(t, ok)
	require.Same(t, root, self)
	child, ok := core.First[*world](root, false)
	require.True(t, ok)
	require.Same(t, a, child)

	all := core.All[*counter](root, true, true)
	require.Equal(t, []*counter{c2, c1, c3}, all)

	worlds := core.All[*world](root, true, false)
	require.Equal(t, []*world{a, root}, worlds)

	p, ok := core.InParent[*world](c1, false)
	require.True(t, ok)
	require.Same(t, a, p)
	require.Equal(t, core.Domain(root), core.Root(c3))
}

func TestRootFollowsMoves(t *testing.T) {
	r1 := newWorld(nil)
	r2 := newWorld(nil)
	c := newCounter(r1)
	require.Equal(t, core.Domain(r1), core.Root(c))

	core.Move(c, r2)
	require.Equal(t, core.Domain(r2), core.Root(c))
	require.Zero(t, r1.ChildCount())
	require.Equal(t, 1, r2.ChildCount())
}

func TestAttachAttachedPanics(t *testing.T) {
	r1 := newWorld(nil)
	r2 := newWorld(nil)
	c := newCounter(r1)
	require.Panics(t, func() { core.Attach(c, r2) })
	require.Panics(t, func() { core.Attach(r1, newWorld(r1)) })
}

func TestLeafCannotOwnChildren(t *testing.T) {
	c := newCounter(nil)
	require.Panics(t, func() { newCounter(c) })
}

func TestStructuralActionsRunOnParent(t *testing.T) {
	root := newWorld(nil)
	var added, removed []string
	core.NewReaction[*world, *core.AddChild]("Added").
		After(func(_ *world, a *core.AddChild) { added = append(added, core.TypeName(a.Child)) }).
		AddTo(root)
	core.NewReaction[*world, *core.RemoveChild]("Removed").
		After(func(_ *world, a *core.RemoveChild) { removed = append(removed, core.TypeName(a.Child)) }).
		AddTo(root)

	c := newCounter(root)
	core.Detach(c)
	require.Equal(t, []string{"counter"}, added)
	require.Equal(t, []string{"counter"}, removed)
}

func TestRevert(t *testing.T) {
	root := newWorld(nil)
	c := newCounter(root)
	a := &increment{Amount: 7}
	core.Execute(root, a)
	require.True(t, core.Revert(root, a))
	require.Zero(t, c.Value)
	require.False(t, core.Revert(root, reset{}))
}

func TestTraceScopeIgnoresOuterHooks(t *testing.T) {
	host := newWorld(nil)
	match := newWorld(host)
	newCounter(match)

	core.NewReaction[*counter, *increment]("HostHook").
		Before(func(*counter, *increment) {}).
		AddTo(host)
	core.NewReaction[*counter, *increment]("MatchHook").
		Before(func(*counter, *increment) {}).
		AddTo(match)

	log := core.BeginTrace(match)
	require.Nil(t, core.ActiveTrace(host))
	require.Same(t, log, core.ActiveTrace(match.Children()[0]))
	core.Execute(match, &increment{Amount: 1})
	core.EndTrace(match)

	var hooks []string
	for _, e := range log.Events() {
		if e.Hook != "" {
			hooks = append(hooks, e.Hook)
		}
	}
	require.Equal(t, []string{"MatchHook"}, hooks)
	require.Nil(t, core.ActiveTrace(match))
}

func TestNoTargetIsNotExecutable(t *testing.T) {
	root := newWorld(nil)
	require.False(t, core.Execute(root, &increment{Amount: 1}))
}

func TestDigestTracksState(t *testing.T) {
	build := func(v int) *world {
		r := newWorld(nil)
		c := newCounter(r)
		c.Value = v
		return r
	}
	d1, err := core.Digest(build(3))
	require.NoError(t, err)
	d2, err := core.Digest(build(3))
	require.NoError(t, err)
	d3, err := core.Digest(build(4))
	require.NoError(t, err)
	require.Equal(t, d1, d2)
	require.NotEqual(t, d1, d3)
}
