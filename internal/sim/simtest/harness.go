// Package simtest drives a demo match through a real server root, the way
// the hub does, so tests can stay outside the simulation packages.
package simtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/match"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/validator"
)

// Options configures New. The zero value runs an unvalidated demo match with
// a random id.
type Options struct {
	MatchID    uuid.UUID
	Validate   bool
	Validation validator.Options
	// Frame is the delta passed to each loop tick. Defaults to the sync
	// interval so every Step flushes.
	Frame time.Duration
}

// Flush is one outbound batch seen by the harness.
type Flush struct {
	MatchID uuid.UUID
	Actions []network.Action
}

type Harness struct {
	T          *testing.T
	Server     *network.Server
	Matches    *match.Manager
	Validators *validator.Manager
	Match      *match.Match

	frame   time.Duration
	flushes []Flush
	errs    []error
}

func New(t *testing.T, opts Options) *Harness {
	t.Helper()
	if opts.MatchID == uuid.Nil {
		opts.MatchID = uuid.New()
	}
	srv := network.NewServer(network.ServerOptions{})
	h := &Harness{
		T:       t,
		Server:  srv,
		Matches: match.NewManager(srv, demo.Factory, nil),
		frame:   opts.Frame,
	}
	if h.frame <= 0 {
		h.frame = srv.Sync.Interval()
	}
	if opts.Validate {
		h.Validators = validator.NewManager(demo.Factory, opts.Validation, nil)
		h.Matches.OnCreated(func(mt *match.Match) {
			h.Validators.OnMatchCreated(mt.State)
			h.Validators.Install(mt.Executor)
		})
		h.Matches.OnRemoved(func(mt *match.Match) { h.Validators.OnMatchRemoved(mt.ID) })
	}
	srv.Sync.OnSync(func(id uuid.UUID, as []network.Action) {
		h.flushes = append(h.flushes, Flush{MatchID: id, Actions: as})
	})

	mt, err := h.Matches.Create(opts.MatchID)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	h.Match = mt
	h.Tick()
	return h
}

// Game is the primary demo state.
func (h *Harness) Game() *demo.Game { return h.Match.State.(*demo.Game) }

func (h *Harness) Tick() { h.Server.Loop.Tick(h.frame) }

// Step schedules the actions as sent by player and runs one frame. Actions
// are marked client-visible the way the hub marks them.
func (h *Harness) Step(player uuid.UUID, actions ...network.Action) {
	h.T.Helper()
	for _, a := range actions {
		a.NetHeader().SyncToClient = true
		h.Server.Loop.Schedule(func() {
			h.Match.Executor.Execute(a, &player, func(err error) { h.errs = append(h.errs, err) })
		})
	}
	h.Tick()
}

// Join adds a player through the Join action and returns its id.
func (h *Harness) Join() uuid.UUID {
	h.T.Helper()
	p := uuid.New()
	h.Step(p, &demo.Join{})
	if !h.Game().Lobby.Has(p) {
		h.T.Fatalf("player %s did not join", p)
	}
	return p
}

func (h *Harness) Flushes() []Flush { return h.flushes }

func (h *Harness) Errors() []error { return h.errs }

func (h *Harness) Digest() string {
	h.T.Helper()
	d, err := core.Digest(h.Match.State)
	if err != nil {
		h.T.Fatalf("digest: %v", err)
	}
	return d
}

// History returns the encoded action history of the match.
func (h *Harness) History() []json.RawMessage {
	h.T.Helper()
	raws, err := network.EncodeHistory(h.Match.State)
	if err != nil {
		h.T.Fatalf("encode history: %v", err)
	}
	return raws
}

// LateJoiner builds a fresh instance of the match and brings it up to date
// through a full state sync, the way a reconnecting client does.
func (h *Harness) LateJoiner() *demo.Game {
	h.T.Helper()
	sync, err := network.NewSyncGameState(h.Match.State)
	if err != nil {
		h.T.Fatalf("sync state: %v", err)
	}
	raw, err := demo.Codec().Encode(sync)
	if err != nil {
		h.T.Fatalf("encode sync: %v", err)
	}
	g := demo.New(h.Match.ID)
	a, err := demo.Codec().Decode(raw)
	if err != nil {
		h.T.Fatalf("decode sync: %v", err)
	}
	if !network.NewExecutor(g).Execute(a, nil, func(err error) { h.T.Fatalf("apply sync: %v", err) }) {
		h.T.Fatalf("apply sync failed")
	}
	return g
}
