// Package collective coordinates actions that only take effect once every
// expected participant has submitted or voted.
package collective

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

// Action is submitted under a shared key.
type Action interface {
	network.Action
	CollectiveKey() string
}

// Wait actions complete once all expected participants submitted.
type Wait interface {
	Action
	waitSubmission()
}

// Vote actions carry a choice; the winning submission gets TriggerWinning.
type Vote interface {
	Action
	VoteOption() string
	TriggerWinning(counts map[string]int)
}

// NeedsManager actions get the nearest Manager injected at Prepare.
type NeedsManager interface {
	core.Action
	SetCollectiveManager(*Manager)
}

type waitRound struct {
	first     Wait
	required  map[uuid.UUID]struct{}
	submitted map[uuid.UUID]struct{}
}

type voteRound struct {
	required map[uuid.UUID]struct{}
	options  []string
	voters   map[string]map[uuid.UUID]struct{}
	actions  map[string]Vote
}

// Manager holds the open rounds of one match. It must live under the node
// whose actions it coordinates.
type Manager struct {
	core.Leaf

	players func() []uuid.UUID
	log     *slog.Logger

	waits map[string]*waitRound
	votes map[string]*voteRound

	onReady []func(Wait)
	onVote  []func(Vote, map[string]int)
}

// NewManager attaches a manager under parent. players is read when the first
// submission of a round arrives.
func NewManager(parent core.Domain, players func() []uuid.UUID, log *slog.Logger) *Manager {
	m := &Manager{
		players: players,
		log:     logging.OrNop(log).With("component", "collective"),
		waits:   map[string]*waitRound{},
		votes:   map[string]*voteRound{},
	}
	core.Init(m, parent)
	r := core.NewReaction[core.Domain, NeedsManager]("InjectCollectiveManager").
		Prepare(func(_ core.Domain, a NeedsManager) { a.SetCollectiveManager(m) }).
		AddTo(parent)
	m.OnDispose(r.Dispose)
	return m
}

// OnReady is told about the first submission of each completed wait round.
func (m *Manager) OnReady(fn func(Wait)) { m.onReady = append(m.onReady, fn) }

// OnVoteResolved is told about the winning submission and the final tally.
func (m *Manager) OnVoteResolved(fn func(Vote, map[string]int)) {
	m.onVote = append(m.onVote, fn)
}

func (m *Manager) requiredSet() map[uuid.UUID]struct{} {
	out := map[uuid.UUID]struct{}{}
	if m.players == nil {
		return out
	}
	for _, id := range m.players() {
		out[id] = struct{}{}
	}
	return out
}

// SubmitWait records a's executor under its key. It returns true exactly once
// per round, on the submission that completes it.
func (m *Manager) SubmitWait(a Wait) bool {
	h := a.NetHeader()
	if h.ExecutorID == nil {
		return false
	}
	player := *h.ExecutorID
	key := a.CollectiveKey()

	r, ok := m.waits[key]
	if !ok {
		r = &waitRound{first: a, required: m.requiredSet(), submitted: map[uuid.UUID]struct{}{}}
		m.waits[key] = r
	}
	if _, ok := r.required[player]; !ok {
		m.log.Warn("submission from unexpected player", "key", key, "player", player)
		return false
	}
	r.submitted[player] = struct{}{}
	for id := range r.required {
		if _, ok := r.submitted[id]; !ok {
			return false
		}
	}

	delete(m.waits, key)
	for _, fn := range m.onReady {
		fn(r.first)
	}
	return true
}

// SubmitVote records a's choice, replacing any earlier vote by the same
// player. When every expected player has voted the option with the most
// votes wins; ties go to the option that was voted for first.
func (m *Manager) SubmitVote(a Vote) bool {
	h := a.NetHeader()
	if h.ExecutorID == nil {
		return false
	}
	player := *h.ExecutorID
	key := a.CollectiveKey()
	option := a.VoteOption()

	r, ok := m.votes[key]
	if !ok {
		r = &voteRound{
			required: m.requiredSet(),
			voters:   map[string]map[uuid.UUID]struct{}{},
			actions:  map[string]Vote{},
		}
		m.votes[key] = r
	}
	if _, ok := r.required[player]; !ok {
		m.log.Warn("vote from unexpected player", "key", key, "player", player)
		return false
	}

	for _, set := range r.voters {
		delete(set, player)
	}
	if _, ok := r.voters[option]; !ok {
		r.options = append(r.options, option)
		r.voters[option] = map[uuid.UUID]struct{}{}
		r.actions[option] = a
	}
	r.voters[option][player] = struct{}{}

	for id := range r.required {
		if !r.hasVoted(id) {
			return false
		}
	}

	counts := r.counts()
	winner := r.options[0]
	for _, opt := range r.options[1:] {
		if counts[opt] > counts[winner] {
			winner = opt
		}
	}
	delete(m.votes, key)

	won := r.actions[winner]
	won.TriggerWinning(counts)
	for _, fn := range m.onVote {
		fn(won, counts)
	}
	return true
}

func (r *voteRound) hasVoted(id uuid.UUID) bool {
	for _, set := range r.voters {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func (r *voteRound) counts() map[string]int {
	out := make(map[string]int, len(r.voters))
	for opt, set := range r.voters {
		out[opt] = len(set)
	}
	return out
}

// WaitStatus reports how many players submitted under key and how many are
// expected. With no open round the total is the current player count.
func (m *Manager) WaitStatus(key string) (submitted, total int) {
	r, ok := m.waits[key]
	if !ok {
		return 0, len(m.requiredSet())
	}
	return len(r.submitted), len(r.required)
}

// VoteCounts is the running tally of an open vote, or an empty map.
func (m *Manager) VoteCounts(key string) map[string]int {
	r, ok := m.votes[key]
	if !ok {
		return map[string]int{}
	}
	return r.counts()
}

// VoteOptions lists an open vote's options in the order they were first
// chosen.
func (m *Manager) VoteOptions(key string) []string {
	r, ok := m.votes[key]
	if !ok {
		return nil
	}
	return append([]string(nil), r.options...)
}

func (m *Manager) HasSubmitted(key string, player uuid.UUID) bool {
	r, ok := m.waits[key]
	if !ok {
		return false
	}
	_, ok = r.submitted[player]
	return ok
}

func (m *Manager) HasVoted(key string, player uuid.UUID) bool {
	r, ok := m.votes[key]
	return ok && r.hasVoted(player)
}

// Cancel drops any open wait or vote round under key.
func (m *Manager) Cancel(key string) {
	delete(m.waits, key)
	delete(m.votes, key)
}

// Open lists the keys of every open round, sorted.
func (m *Manager) Open() []string {
	seen := map[string]struct{}{}
	for k := range m.waits {
		seen[k] = struct{}{}
	}
	for k := range m.votes {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
