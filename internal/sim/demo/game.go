// Package demo is a small counter game built on the simulation core. The
// server, bot and replay commands and many tests run it.
package demo

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/collective"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/observable"
)

// DeckSize is the number of cards a new match starts with.
const DeckSize = 52

// Game is the match root.
type Game struct {
	network.GameState

	Counter    *Counter            `json:"-"`
	Lobby      *Lobby              `json:"-"`
	Board      *Board              `json:"-"`
	Chat       *ChatLog            `json:"-"`
	Deck       *Deck               `json:"-"`
	Collective *collective.Manager `json:"-"`
}

// New builds the initial tree of match id. Two calls with the same id build
// identical trees.
func New(id uuid.UUID) *Game {
	g := &Game{}
	network.InitGameState(g, id, network.SeedFor(id), Codec())
	g.Counter = &Counter{}
	core.Init(g.Counter, g)
	g.Lobby = &Lobby{Hands: map[string][]int{}}
	core.Init(g.Lobby, g)
	g.Board = &Board{}
	core.Init(g.Board, g)
	g.Chat = &ChatLog{}
	core.Init(g.Chat, g)
	g.Deck = newDeck(g, DeckSize)
	g.Collective = collective.NewManager(g, g.Lobby.PlayerIDs, nil)
	return g
}

// Factory adapts New to the match and validator factories.
func Factory(id uuid.UUID) network.State { return New(id) }

type Counter struct {
	core.Leaf
	Value    int `json:"value"`
	LastRoll int `json:"last_roll"`
}

// Lobby tracks who joined and the settings they agreed on.
type Lobby struct {
	core.Leaf
	Players    []uuid.UUID      `json:"players"`
	Difficulty string           `json:"difficulty"`
	Round      int              `json:"round"`
	Hands      map[string][]int `json:"hands"`
}

func (l *Lobby) PlayerIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), l.Players...)
}

func (l *Lobby) Has(id uuid.UUID) bool {
	for _, p := range l.Players {
		if p == id {
			return true
		}
	}
	return false
}

// Board owns the spawned markers.
type Board struct {
	core.Branch
}

func (b *Board) Markers() []*Marker {
	return core.All[*Marker](b, false, false)
}

type Marker struct {
	core.Leaf
	Label string `json:"label"`
	Owner string `json:"owner"`
}

// Deck is the shared draw pile. Top follows the first card of Cards through
// a list observer.
type Deck struct {
	core.Branch
	Shuffles int `json:"shuffles"`

	Cards    *observable.List[int]  `json:"-"`
	Discards *observable.List[int]  `json:"-"`
	Top      *observable.Value[int] `json:"-"`
}

func newDeck(parent core.Domain, size int) *Deck {
	d := &Deck{}
	core.Init(d, parent)
	cards := make([]int, size)
	for i := range cards {
		cards[i] = i + 1
	}
	d.Cards = observable.NewList(d, cards...)
	d.Discards = observable.NewList[int](d)
	d.Top = observable.NewValue(d, d.top())
	d.Cards.Observe(d, func(c observable.Change[int]) {
		if c.Kind == observable.Reordered {
			d.Shuffles++
		}
		d.Top.Set(d.top())
	})
	return d
}

// top is the first card, or 0 for an empty deck.
func (d *Deck) top() int {
	if d.Cards.Len() == 0 {
		return 0
	}
	return d.Cards.At(0)
}

type ChatLog struct {
	core.Leaf
	Lines []ChatLine `json:"lines"`
}

type ChatLine struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// Summary is a compact view of a match for HTTP and CLI output.
type Summary struct {
	MatchID    uuid.UUID `json:"match_id"`
	Counter    int       `json:"counter"`
	Players    int       `json:"players"`
	Markers    int       `json:"markers"`
	Difficulty string    `json:"difficulty,omitempty"`
	Round      int       `json:"round"`
	Deck       int       `json:"deck"`
	Top        int       `json:"top"`
	History    int       `json:"history"`
}

func (g *Game) Summary() Summary {
	return Summary{
		MatchID:    g.MatchID,
		Counter:    g.Counter.Value,
		Players:    len(g.Lobby.Players),
		Markers:    len(g.Board.Markers()),
		Difficulty: g.Lobby.Difficulty,
		Round:      g.Lobby.Round,
		Deck:       g.Deck.Cards.Len(),
		Top:        g.Deck.Top.Get(),
		History:    g.History.Len(),
	}
}

// HandOwners lists the players holding cards, sorted.
func (l *Lobby) HandOwners() []string {
	out := make([]string, 0, len(l.Hands))
	for k := range l.Hands {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
