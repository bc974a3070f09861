package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

type root struct{ core.Branch }

func newRoot() *root {
	r := &root{}
	core.Init(r, nil)
	return r
}

type ticker struct {
	core.Leaf
	name    string
	order   int
	calls   *[]string
	enabled int
	disable int
}

func newTicker(parent core.Domain, name string, order int, calls *[]string) *ticker {
	t := &ticker{name: name, order: order, calls: calls}
	core.Init(t, parent)
	return t
}

func (t *ticker) Process(time.Duration) { *t.calls = append(*t.calls, t.name) }
func (t *ticker) ProcessOrder() int     { return t.order }
func (t *ticker) OnProcessEnable()      { t.enabled++ }
func (t *ticker) OnProcessDisable()     { t.disable++ }

type bomb struct{ core.Leaf }

func (bomb) Process(time.Duration) { panic("processor exploded") }

func TestTickOrderAndIsolation(t *testing.T) {
	r := newRoot()
	var calls []string
	var panics []string
	l := New(r, WithPanicObserver(func(stage string, _ any) { panics = append(panics, stage) }))

	newTicker(r, "late", 10, &calls)
	b := &bomb{}
	core.Init(b, r)
	newTicker(r, "early", -1, &calls)
	newTicker(r, "mid", 0, &calls)

	l.Schedule(func() { calls = append(calls, "scheduled-1") })
	l.Schedule(func() { panic("bad action") })
	l.Schedule(func() { calls = append(calls, "scheduled-2") })
	l.OnUpdate(func(time.Duration) { calls = append(calls, "update") })

	l.Tick(time.Millisecond)
	require.Equal(t, []string{"scheduled-1", "scheduled-2", "update", "early", "mid", "late"}, calls)
	require.Equal(t, []string{"scheduled", "processor"}, panics)
	require.Equal(t, uint64(1), l.Frame())
	require.Zero(t, l.Pending())
}

func TestProcessorLifecycle(t *testing.T) {
	r := newRoot()
	var calls []string
	l := New(r)
	p := newTicker(r, "p", 0, &calls)

	l.Tick(0)
	l.Tick(0)
	require.Equal(t, 1, p.enabled)
	require.Zero(t, p.disable)

	core.Detach(p)
	l.Tick(0)
	require.Equal(t, 1, p.disable)
	require.Equal(t, []string{"p", "p"}, calls)
}

func TestDoWaitsForFrame(t *testing.T) {
	r := newRoot()
	l := New(r, WithRate(200))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	ran := false
	require.NoError(t, l.Do(ctx, func() { ran = true }))
	require.True(t, ran)

	err := l.Do(ctx, func() { panic("nope") })
	require.Error(t, err)

	l.Stop()
	require.NoError(t, <-done)
}

func TestRunReturnsContextError(t *testing.T) {
	l := New(newRoot(), WithRate(100))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunRejectsSecondCaller(t *testing.T) {
	l := New(newRoot(), WithRate(100))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, l.IsRunning, time.Second, time.Millisecond)
	require.ErrorIs(t, l.Run(ctx), ErrRunning)
	cancel()
	<-done
}
