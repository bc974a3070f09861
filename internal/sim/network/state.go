package network

import (
	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/cache"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/provider"
)

// State is the root node of one match. Game states embed GameState.
type State interface {
	core.Domain
	Game() *GameState
}

// GameState bundles the per-match infrastructure nodes. Embed it in the
// game's root domain and call InitGameState from the constructor before
// creating any game nodes.
type GameState struct {
	core.Branch
	MatchID uuid.UUID `json:"match_id"`

	Scope    *MatchScope              `json:"-"`
	Registry *DomainRegistry          `json:"-"`
	History  *History                 `json:"-"`
	Random   *provider.RandomProvider `json:"-"`
	IDs      *provider.IDProvider     `json:"-"`
	codec    *Codec
}

func (g *GameState) Game() *GameState { return g }

func (g *GameState) Codec() *Codec { return g.codec }

// Lookup resolves a domain id inside the match; 0 is the match root.
func (g *GameState) Lookup(id int) (core.Domain, bool) {
	return g.Registry.Lookup(id)
}

// InitGameState initializes s as a detached match root with its
// infrastructure children. A nil codec gets a fresh one.
func InitGameState(s State, matchID uuid.UUID, seed int64, codec *Codec) {
	if codec == nil {
		codec = NewCodec()
	}
	core.Init(s, nil)
	g := s.Game()
	g.MatchID = matchID
	g.codec = codec
	g.Scope = newMatchScope(s, matchID)
	g.Registry = newDomainRegistry(s)
	g.History = newHistory(s)
	g.Random = provider.NewRandomProvider(s, seed)
	g.IDs = provider.NewIDProvider(s)

	ids := g.IDs
	r := core.NewReaction[core.Domain, Action]("StampCurrentId").
		Prepare(func(_ core.Domain, a Action) { a.NetHeader().CurrentID = ids.Current() })
	r.AddTo(s)
}

// MatchScope stamps the match id on every network action executed inside the
// match.
type MatchScope struct {
	core.Leaf
	MatchID uuid.UUID `json:"match_id"`
}

func newMatchScope(s State, matchID uuid.UUID) *MatchScope {
	m := &MatchScope{MatchID: matchID}
	core.Init(m, s)
	r := core.NewReaction[core.Domain, Action]("StampMatchId").
		Prepare(func(_ core.Domain, a Action) { a.NetHeader().MatchID = m.MatchID }).
		AddTo(s)
	m.OnDispose(r.Dispose)
	return m
}

// DomainRegistry maps ids to nodes across the whole match.
type DomainRegistry struct {
	core.Leaf
	root core.Domain
	byID *cache.Map[int, core.Domain]
}

func newDomainRegistry(s State) *DomainRegistry {
	r := &DomainRegistry{root: s}
	core.Init(r, s)
	r.byID = cache.NewMap(core.CacheOf(s), cache.DownToLeaves, func(n cache.Node) []cache.Entry[int, core.Domain] {
		d := n.(interface{ Self() core.Domain }).Self()
		if d.ID() == 0 {
			return nil
		}
		return []cache.Entry[int, core.Domain]{{Key: d.ID(), Value: d}}
	})
	return r
}

func (r *DomainRegistry) Lookup(id int) (core.Domain, bool) {
	if id == 0 {
		return r.root, true
	}
	d, ok := r.byID.Get(id)
	if !ok || d.IsDisposed() {
		return nil, false
	}
	return d, true
}

// IDs returns every registered id in tree order.
func (r *DomainRegistry) IDs() []int {
	keys := r.byID.Keys()
	out := make([]int, len(keys))
	copy(out, keys)
	return out
}

// History records every network action executed in the match, in order.
type History struct {
	core.Leaf
	actions []Action
}

func newHistory(s State) *History {
	h := &History{}
	core.Init(h, s)
	r := core.NewReaction[core.Domain, Action]("RecordHistory").
		After(func(_ core.Domain, a Action) {
			if _, ok := a.(*SyncGameState); ok {
				return
			}
			h.actions = append(h.actions, a)
		}).
		AddTo(s)
	h.OnDispose(r.Dispose)
	return h
}

func (h *History) Actions() []Action {
	out := make([]Action, len(h.actions))
	copy(out, h.actions)
	return out
}

func (h *History) Len() int { return len(h.actions) }

func (h *History) Clear() { h.actions = nil }
