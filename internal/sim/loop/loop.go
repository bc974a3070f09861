// Package loop runs the single-writer tick over one domain tree.
//
// Other goroutines never touch the tree directly; they Schedule closures that
// the loop drains at the start of the next frame.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

const DefaultRateHz = 60

var ErrRunning = errors.New("loop: already running")

// Processor is a node that wants a call every frame while it is in the tree.
type Processor interface {
	core.Domain
	Process(delta time.Duration)
}

// Ordered processors run by ascending ProcessOrder; ties keep discovery order.
type Ordered interface {
	ProcessOrder() int
}

// Lifecycle processors are told when they join or leave the active set.
type Lifecycle interface {
	OnProcessEnable()
	OnProcessDisable()
}

type Option func(*Loop)

func WithRate(hz int) Option {
	return func(l *Loop) {
		if hz > 0 {
			l.rateHz = hz
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithFrameObserver reports the wall time each frame took.
func WithFrameObserver(fn func(took time.Duration)) Option {
	return func(l *Loop) { l.onFrame = fn }
}

// WithPanicObserver is called for every isolated failure with its stage.
func WithPanicObserver(fn func(stage string, v any)) Option {
	return func(l *Loop) { l.onPanic = fn }
}

type Loop struct {
	root   core.Domain
	rateHz int
	log    *slog.Logger

	mu    sync.Mutex
	queue []func()

	updates []func(time.Duration)
	active  []Processor
	frame   uint64

	onFrame func(time.Duration)
	onPanic func(string, any)

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func New(root core.Domain, opts ...Option) *Loop {
	l := &Loop{
		root:   root,
		rateHz: DefaultRateHz,
		log:    logging.NewNop(),
		stop:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "loop")
	return l
}

func (l *Loop) Root() core.Domain { return l.root }

func (l *Loop) RateHz() int { return l.rateHz }

func (l *Loop) IsRunning() bool { return l.running.Load() }

// Frame returns the number of completed frames. Only safe on the loop
// goroutine.
func (l *Loop) Frame() uint64 { return l.frame }

// Schedule queues fn for the next frame. Safe from any goroutine.
func (l *Loop) Schedule(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
}

// Do schedules fn and waits for it to run. A panic in fn is returned as an
// error.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan error, 1)
	l.Schedule(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("loop: scheduled call panicked: %v", r)
				panic(r)
			}
		}()
		fn()
		done <- nil
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// OnUpdate registers a per-frame callback run after the queue is drained.
// Register before Run.
func (l *Loop) OnUpdate(fn func(delta time.Duration)) {
	l.updates = append(l.updates, fn)
}

// Run ticks at the configured rate until ctx is done or Stop is called. A
// panic escaping the frame itself ends the loop with an error.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop: fatal: %v", r)
			l.log.Error("loop crashed", "panic", r)
		}
	}()

	interval := time.Second / time.Duration(l.rateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			l.Tick(delta)
		}
	}
}

func (l *Loop) Stop() { l.stopOnce.Do(func() { close(l.stop) }) }

// Tick runs one frame: scheduled work, update callbacks, then processors.
// Run calls it on every tick; tests and replays call it directly.
func (l *Loop) Tick(delta time.Duration) {
	start := time.Now()

	for _, fn := range l.drain() {
		l.isolate("scheduled", fn)
	}
	for _, fn := range l.updates {
		fn := fn
		l.isolate("update", func() { fn(delta) })
	}

	procs := l.discover()
	l.diff(procs)
	for _, p := range procs {
		p := p
		if p.IsDisposed() {
			continue
		}
		l.isolate("processor", func() { p.Process(delta) })
	}

	l.frame++
	if l.onFrame != nil {
		l.onFrame(time.Since(start))
	}
}

func (l *Loop) drain() []func() {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	return q
}

func (l *Loop) discover() []Processor {
	procs := core.All[Processor](l.root, true, true)
	sort.SliceStable(procs, func(i, j int) bool {
		return orderOf(procs[i]) < orderOf(procs[j])
	})
	return procs
}

func orderOf(p Processor) int {
	if o, ok := p.(Ordered); ok {
		return o.ProcessOrder()
	}
	return 0
}

func (l *Loop) diff(next []Processor) {
	in := make(map[Processor]struct{}, len(next))
	for _, p := range next {
		in[p] = struct{}{}
	}
	was := make(map[Processor]struct{}, len(l.active))
	for _, p := range l.active {
		was[p] = struct{}{}
		if _, ok := in[p]; ok {
			continue
		}
		if lc, ok := p.(Lifecycle); ok {
			l.isolate("disable", lc.OnProcessDisable)
		}
	}
	for _, p := range next {
		if _, ok := was[p]; ok {
			continue
		}
		if lc, ok := p.(Lifecycle); ok {
			l.isolate("enable", lc.OnProcessEnable)
		}
	}
	l.active = next
}

func (l *Loop) isolate(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("frame step failed", "stage", stage, "panic", r)
			if l.onPanic != nil {
				l.onPanic(stage, r)
			}
		}
	}()
	fn()
}
