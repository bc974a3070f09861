package demo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

// The games below are deliberately non-deterministic. Each one breaks a
// different rule so the validator and the replay tool have something to
// catch. Construction-time decisions alternate per process so that two
// instances built back to back always disagree.

var instances atomic.Int64

func nextInstance() int64 { return instances.Add(1) }

// Now is the clock TimedGame reads. Tests replace it.
var Now = time.Now

var desyncCodec = sync.OnceValue(func() *network.Codec {
	c := network.NewCodec()
	RegisterActions(c)
	network.Register[Trigger](c, "Trigger")
	network.Register[Toggle](c, "Toggle")
	network.Register[CreateTagged](c, "CreateTagged")
	network.Register[Stamp](c, "Stamp")
	return c
})

// DesyncCodec knows the demo actions plus the desync fixtures.
func DesyncCodec() *network.Codec { return desyncCodec() }

// OrderedGame registers its two After hooks in an order that depends on
// which instance it is.
type OrderedGame struct {
	network.GameState
	Fired []string `json:"fired"`
}

func NewOrderedGame(id uuid.UUID) network.State {
	g := &OrderedGame{}
	network.InitGameState(g, id, network.SeedFor(id), DesyncCodec())
	first, second := "ReactionA", "ReactionB"
	if nextInstance()%2 == 1 {
		first, second = second, first
	}
	for _, name := range []string{first, second} {
		core.NewReaction[*OrderedGame, *Trigger](name).
			After(func(g *OrderedGame, _ *Trigger) { g.Fired = append(g.Fired, name) }).
			AddTo(g)
	}
	return g
}

type Trigger struct {
	core.On[*OrderedGame]
	network.Header
}

func (*Trigger) Apply(core.Domain) {}

// FlaggedGame registers an extra hook only on some instances.
type FlaggedGame struct {
	network.GameState
	Toggles int `json:"toggles"`
}

func NewFlaggedGame(id uuid.UUID) network.State {
	g := &FlaggedGame{}
	network.InitGameState(g, id, network.SeedFor(id), DesyncCodec())
	if nextInstance()%2 == 0 {
		core.NewReaction[*FlaggedGame, *Toggle]("ConditionalReaction").
			After(func(*FlaggedGame, *Toggle) {}).
			AddTo(g)
	}
	return g
}

type Toggle struct {
	core.On[*FlaggedGame]
	network.Header
}

func (*Toggle) Apply(t core.Domain) { t.(*FlaggedGame).Toggles++ }

// TaggedGame creates children carrying a fresh random uuid. Traces agree
// but state does not.
type TaggedGame struct {
	network.GameState
	Seen int `json:"seen"`
}

func NewTaggedGame(id uuid.UUID) network.State {
	g := &TaggedGame{}
	network.InitGameState(g, id, network.SeedFor(id), DesyncCodec())
	core.NewReaction[*TaggedGame, *CreateTagged]("ChildCountReaction").
		After(func(g *TaggedGame, _ *CreateTagged) { g.Seen = len(g.Children()) }).
		AddTo(g)
	return g
}

type Tagged struct {
	core.Leaf
	CustomID uuid.UUID `json:"custom_id"`
}

type CreateTagged struct {
	core.On[*TaggedGame]
	network.Header
}

func (*CreateTagged) Apply(t core.Domain) {
	core.Init(&Tagged{CustomID: uuid.New()}, t)
}

// TimedGame branches on the wall clock.
type TimedGame struct {
	network.GameState
	Counter   int   `json:"counter"`
	Timestamp int64 `json:"timestamp"`
}

func NewTimedGame(id uuid.UUID) network.State {
	g := &TimedGame{}
	network.InitGameState(g, id, network.SeedFor(id), DesyncCodec())
	return g
}

type Stamp struct {
	core.On[*TimedGame]
	network.Header
}

func (*Stamp) Apply(t core.Domain) {
	g := t.(*TimedGame)
	now := Now().UnixNano()
	g.Timestamp = now
	if now%2 == 0 {
		g.Counter++
	} else {
		g.Counter += 2
	}
}
