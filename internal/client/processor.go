// Package client is the player side of a match: it queues server batches per
// lane, applies them to a local replica of the game state, and sends the
// player's own actions back through a sync manager.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

var ErrNoLocker = errors.New("client: lane cannot be locked")

// Inbox receives decoded server actions. Safe for concurrent use.
type Inbox interface {
	Enqueue(a network.Action)
}

// Processor applies queued server actions to the local state, one action per
// lane per frame. Only the Main lane can be locked, so gameplay can pause for
// an animation while chat keeps flowing.
type Processor struct {
	core.Leaf

	state network.State
	exec  *network.Executor
	log   *slog.Logger

	mu     sync.Mutex
	queues map[int][]network.Action

	locks    map[int]int
	idLanes  map[int]bool
	onAction map[int][]func(network.Action)
	onDesync []func(a network.Action, local int)
	desyncs  int
}

func NewProcessor(parent core.Domain, state network.State, log *slog.Logger) *Processor {
	p := &Processor{
		state:    state,
		exec:     network.NewExecutor(state),
		log:      logging.OrNop(log).With("component", "processor"),
		queues:   map[int][]network.Action{},
		locks:    map[int]int{network.Main.ID: 0},
		idLanes:  map[int]bool{network.Main.ID: true},
		onAction: map[int][]func(network.Action){},
	}
	core.Init(p, parent)
	return p
}

// Enqueue routes a to its lane queue. Unknown lanes fall back to Main.
func (p *Processor) Enqueue(a network.Action) {
	lane := network.LaneOf(a)
	p.mu.Lock()
	p.queues[lane.ID] = append(p.queues[lane.ID], a)
	p.mu.Unlock()
}

func (p *Processor) Len(lane network.Lane) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[lane.ID])
}

// Lock pauses lane until the returned func is called. Locks nest; the unlock
// func is idempotent.
func (p *Processor) Lock(lane network.Lane) (unlock func(), err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.locks[lane.ID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLocker, lane)
	}
	p.locks[lane.ID]++
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.locks[lane.ID] > 0 {
				p.locks[lane.ID]--
			}
			p.mu.Unlock()
		})
	}, nil
}

func (p *Processor) IsLocked(lane network.Lane) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locks[lane.ID] > 0
}

// OnAction subscribes to actions applied on lane.
func (p *Processor) OnAction(lane network.Lane, fn func(network.Action)) {
	p.onAction[lane.ID] = append(p.onAction[lane.ID], fn)
}

// OnIDDesync is told when an action arrives stamped with an id counter that
// differs from the local one.
func (p *Processor) OnIDDesync(fn func(a network.Action, local int)) {
	p.onDesync = append(p.onDesync, fn)
}

func (p *Processor) IDDesyncs() int { return p.desyncs }

// CheckIDsOn adds lane to the lanes whose actions are checked against the
// local id counter. Only Main is checked by default. Lanes apply out of step
// with each other, so the check holds only when every id-allocating action
// travels on a checked lane and checked lanes are never split apart.
func (p *Processor) CheckIDsOn(lane network.Lane) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idLanes[lane.ID] = true
}

func (p *Processor) Process(time.Duration) { p.Update() }

// Update applies at most one action from every unlocked lane, in lane id
// order.
func (p *Processor) Update() {
	for _, lane := range network.Lanes() {
		a, ok := p.next(lane)
		if !ok {
			continue
		}
		p.apply(lane, a)
	}
}

func (p *Processor) next(lane network.Lane) (network.Action, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queues[lane.ID]
	if len(q) == 0 || p.locks[lane.ID] > 0 {
		return nil, false
	}
	a := q[0]
	q[0] = nil
	p.queues[lane.ID] = q[1:]
	return a, true
}

func (p *Processor) apply(lane network.Lane, a network.Action) {
	p.mu.Lock()
	checked := p.idLanes[lane.ID]
	p.mu.Unlock()
	if want := a.NetHeader().CurrentID; checked && want > 0 {
		if local := p.state.Game().IDs.Current(); local != want {
			p.desyncs++
			p.log.Error("id desync", "action", core.ActionName(a), "sent", want, "local", local)
			for _, fn := range p.onDesync {
				fn(a, local)
			}
		}
	}
	p.exec.Execute(a, nil, func(err error) {
		p.log.Error("apply action", "lane", lane.Name, "err", err)
	})
	for _, fn := range p.onAction[lane.ID] {
		fn(a)
	}
}
