package demo

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/collective"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

var sharedCodec = sync.OnceValue(func() *network.Codec {
	c := network.NewCodec()
	RegisterActions(c)
	return c
})

// Codec is the codec every demo match shares.
func Codec() *network.Codec { return sharedCodec() }

// RegisterActions adds the demo action types to c.
func RegisterActions(c *network.Codec) {
	network.Register[Increment](c, "Increment")
	network.Register[Decrement](c, "Decrement")
	network.Register[RollDice](c, "RollDice")
	network.Register[SpawnMarker](c, "SpawnMarker")
	network.Register[RemoveMarker](c, "RemoveMarker")
	network.Register[SendChat](c, "SendChat")
	network.Register[Join](c, "Join")
	network.Register[VoteDifficulty](c, "VoteDifficulty")
	network.Register[ReadyUp](c, "ReadyUp")
	network.Register[DealCard](c, "DealCard")
	network.Register[ShuffleDeck](c, "ShuffleDeck")
	network.Register[DrawCard](c, "DrawCard")
}

type Increment struct {
	core.On[*Counter]
	network.Header
	Amount int `json:"amount"`
}

func (a *Increment) Apply(t core.Domain) { t.(*Counter).Value += a.Amount }

// Decrement never takes the counter below zero and can be rolled back.
type Decrement struct {
	core.On[*Counter]
	network.Header
	Amount int `json:"amount"`
}

func (a *Decrement) CanExecute(t core.Domain) bool { return t.(*Counter).Value >= a.Amount }

func (a *Decrement) Apply(t core.Domain) { t.(*Counter).Value -= a.Amount }

func (a *Decrement) CanRevert(core.Domain) bool { return true }

func (a *Decrement) Revert(t core.Domain) { t.(*Counter).Value += a.Amount }

// RollDice adds a seeded roll of a Sides-sided die.
type RollDice struct {
	core.On[*Counter]
	network.Header
	Sides int `json:"sides"`

	rng *rand.Rand
}

func (a *RollDice) SetRandom(r *rand.Rand) { a.rng = r }

func (a *RollDice) Apply(t core.Domain) {
	sides := a.Sides
	if sides <= 0 {
		sides = 6
	}
	roll := a.rng.Intn(sides) + 1
	c := t.(*Counter)
	c.LastRoll = roll
	c.Value += roll
}

type SpawnMarker struct {
	core.On[*Board]
	network.Header
	Label string `json:"label"`
}

func (a *SpawnMarker) Apply(t core.Domain) {
	m := &Marker{Label: a.Label, Owner: a.Executor().String()}
	core.Init(m, t)
}

// RemoveMarker targets the marker through its domain id.
type RemoveMarker struct {
	core.On[*Marker]
	network.Header
}

func (a *RemoveMarker) Apply(t core.Domain) { core.Detach(t) }

type SendChat struct {
	core.On[*ChatLog]
	network.Header
	Text string `json:"text"`
}

func (*SendChat) Lane() network.Lane { return network.Chat }

func (a *SendChat) Apply(t core.Domain) {
	log := t.(*ChatLog)
	log.Lines = append(log.Lines, ChatLine{From: a.Executor().String(), Text: a.Text})
}

// Join adds the executor to the lobby once.
type Join struct {
	core.On[*Lobby]
	network.Header
}

func (a *Join) CanExecute(t core.Domain) bool {
	return a.ExecutorID != nil && !t.(*Lobby).Has(*a.ExecutorID)
}

func (a *Join) Apply(t core.Domain) {
	l := t.(*Lobby)
	l.Players = append(l.Players, *a.ExecutorID)
}

// VoteDifficulty sets the lobby difficulty once every player voted.
type VoteDifficulty struct {
	core.On[*Lobby]
	network.Header
	collective.VoteAction
	Option string `json:"option"`
}

func (*VoteDifficulty) CollectiveKey() string { return "difficulty" }
func (a *VoteDifficulty) VoteOption() string  { return a.Option }

func (a *VoteDifficulty) Apply(t core.Domain) {
	a.Cast(a, t, func(t core.Domain, _ map[string]int) {
		t.(*Lobby).Difficulty = a.Option
	})
}

// ReadyUp starts the next round once every player is ready.
type ReadyUp struct {
	core.On[*Lobby]
	network.Header
	collective.WaitAction
}

func (*ReadyUp) CollectiveKey() string { return "ready" }

func (a *ReadyUp) Apply(t core.Domain) {
	if a.Submit(a) {
		t.(*Lobby).Round++
	}
}

// DealCard hands a card to a player. It runs on the server only and is never
// broadcast.
type DealCard struct {
	core.On[*Lobby]
	network.Header
	Player uuid.UUID `json:"player"`
	Card   int       `json:"card"`
}

func (*DealCard) ServerSecret() bool { return true }

func (a *DealCard) Apply(t core.Domain) {
	l := t.(*Lobby)
	k := a.Player.String()
	l.Hands[k] = append(l.Hands[k], a.Card)
}

// ShuffleDeck reorders the deck with the match generator.
type ShuffleDeck struct {
	core.On[*Deck]
	network.Header
}

func (a *ShuffleDeck) Apply(t core.Domain) { t.(*Deck).Cards.Shuffle() }

// DrawCard moves the top card onto the discard pile.
type DrawCard struct {
	core.On[*Deck]
	network.Header
}

func (a *DrawCard) CanExecute(t core.Domain) bool { return t.(*Deck).Cards.Len() > 0 }

func (a *DrawCard) Apply(t core.Domain) {
	d := t.(*Deck)
	card := d.Cards.At(0)
	d.Cards.RemoveAt(0)
	d.Discards.Add(card)
}
