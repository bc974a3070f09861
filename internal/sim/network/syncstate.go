package network

import (
	"encoding/json"
	"fmt"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/trace"
)

// SyncGameState brings a fresh match instance to the current state: it
// resets the random sequence and replays the full history.
type SyncGameState struct {
	core.On[State]
	Header
	History []json.RawMessage `json:"history"`
	Seed    int64             `json:"seed"`
}

// NewSyncGameState captures the history and seed of s.
func NewSyncGameState(s State) (*SyncGameState, error) {
	return newSyncGameState(s, nil)
}

// NewPublicSyncGameState is NewSyncGameState without server secrets; it is
// what a client receives on connect.
func NewPublicSyncGameState(s State) (*SyncGameState, error) {
	return newSyncGameState(s, func(a Action) bool { return !IsSecret(a) })
}

func newSyncGameState(s State, keep func(Action) bool) (*SyncGameState, error) {
	g := s.Game()
	history, err := encodeHistory(s, keep)
	if err != nil {
		return nil, fmt.Errorf("sync %w", err)
	}
	a := &SyncGameState{Seed: g.Random.Seed, History: history}
	a.MatchID = g.MatchID
	return a, nil
}

// EncodeHistory returns the envelopes of every action in s's history.
func EncodeHistory(s State) ([]json.RawMessage, error) {
	return encodeHistory(s, nil)
}

func encodeHistory(s State, keep func(Action) bool) ([]json.RawMessage, error) {
	g := s.Game()
	actions := g.History.Actions()
	out := make([]json.RawMessage, 0, len(actions))
	for i, h := range actions {
		if keep != nil && !keep(h) {
			continue
		}
		b, err := g.Codec().Encode(h)
		if err != nil {
			return nil, fmt.Errorf("history[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (a *SyncGameState) Lane() Lane { return Main }

func (a *SyncGameState) Apply(t core.Domain) {
	s := t.(State)
	s.Game().Random.Reset(a.Seed)
	for i, raw := range a.History {
		if err := replayOne(s, raw); err != nil {
			panic(fmt.Errorf("sync history[%d]: %w", i, err))
		}
	}
}

// ReplayTrace executes history on s under a trace and returns the events.
// Entries that fail to decode stop the replay.
func ReplayTrace(s State, history []json.RawMessage) ([]trace.Event, error) {
	l := core.BeginTrace(s)
	defer core.EndTrace(s)
	for i, raw := range history {
		if err := replayOne(s, raw); err != nil {
			return l.Events(), fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	return l.Events(), nil
}

// replayOne decodes raw and executes it at the domain it names, falling back
// to the match root when that domain no longer exists.
func replayOne(s State, raw json.RawMessage) error {
	g := s.Game()
	act, err := g.Codec().Decode(raw)
	if err != nil {
		return err
	}
	target, ok := g.Lookup(act.NetHeader().DomainID)
	if !ok {
		target = s
	}
	core.Execute(target, act)
	return nil
}
