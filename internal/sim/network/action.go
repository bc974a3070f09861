// Package network adapts the core pipeline to matches played over a wire:
// addressed actions, the envelope codec, per-match bookkeeping nodes,
// dispatch, and outbound batching.
package network

import (
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

// Header is the routing data every network action carries. Embed it next to
// core.On in action structs.
type Header struct {
	ExecutorID   *uuid.UUID `json:"executor_id"`
	MatchID      uuid.UUID  `json:"match_id"`
	DomainID     int        `json:"domain_id"`
	IsServer     bool       `json:"is_server"`
	SyncToClient bool       `json:"sync_to_client"`
	Thread       int        `json:"thread"`
	CurrentID    int        `json:"current_id"`
}

func (h *Header) NetHeader() *Header { return h }

// Executor returns the executor id or uuid.Nil.
func (h *Header) Executor() uuid.UUID {
	if h.ExecutorID == nil {
		return uuid.Nil
	}
	return *h.ExecutorID
}

// Action is a core action addressed through a Header.
type Action interface {
	core.Action
	NetHeader() *Header
}

// Laned actions choose their delivery lane.
type Laned interface {
	Lane() Lane
}

// Secret actions execute on the server but are never sent to clients.
type Secret interface {
	ServerSecret() bool
}

// LaneOf returns the action's declared lane, else the lane named by its
// header, else Main.
func LaneOf(a Action) Lane {
	if l, ok := a.(Laned); ok {
		return l.Lane()
	}
	return ResolveLane(a.NetHeader().Thread)
}

func IsSecret(a Action) bool {
	s, ok := a.(Secret)
	return ok && s.ServerSecret()
}

// SeedFor derives the random seed of a match from its id, so every instance
// of the match starts from the same sequence.
func SeedFor(matchID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(matchID[:])
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }
