package validator

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

// Factory builds a fresh, detached match state for matchID. It must produce
// the same initial tree every time it is called with the same id.
type Factory func(matchID uuid.UUID) network.State

// Summary is a point-in-time view of one validator.
type Summary struct {
	MatchID uuid.UUID `json:"match_id"`
	Actions int       `json:"actions"`
	Failed  bool      `json:"failed"`
	Failure *Failure  `json:"failure,omitempty"`
}

// Manager keeps one shadow validator per live match.
type Manager struct {
	factory Factory
	opts    Options
	log     *slog.Logger

	mu         sync.Mutex
	validators map[uuid.UUID]*Validator
	onFailure  []func(Failure)
}

func NewManager(factory Factory, opts Options, log *slog.Logger) *Manager {
	return &Manager{
		factory:    factory,
		opts:       opts,
		log:        logging.OrNop(log),
		validators: map[uuid.UUID]*Validator{},
	}
}

// OnFailure subscribes to failures from every validator created afterwards.
func (m *Manager) OnFailure(fn func(Failure)) {
	m.mu.Lock()
	m.onFailure = append(m.onFailure, fn)
	m.mu.Unlock()
}

// OnMatchCreated builds the shadow for primary and starts validating it. It
// replaces any validator already registered for the same match.
func (m *Manager) OnMatchCreated(primary network.State) *Validator {
	id := primary.Game().MatchID
	shadow := m.factory(id)
	v := New(primary, shadow, m.opts, m.log)

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.validators[id]; ok {
		core.Detach(old.shadow)
	}
	for _, fn := range m.onFailure {
		v.OnFailure(fn)
	}
	m.validators[id] = v
	return v
}

// Install routes every action dispatched by exec through the validator of
// its match. Full-state syncs are not validated.
func (m *Manager) Install(exec *network.Executor) {
	id := exec.State().Game().MatchID
	exec.Validate = func(a network.Action, primary func()) bool {
		if _, ok := a.(*network.SyncGameState); ok {
			primary()
			return true
		}
		v := m.Validator(id)
		if v == nil {
			primary()
			return true
		}
		return v.Validate(a, primary)
	}
}

func (m *Manager) Validator(matchID uuid.UUID) *Validator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validators[matchID]
}

// OnMatchRemoved disposes the shadow of matchID. Unknown ids are ignored.
func (m *Manager) OnMatchRemoved(matchID uuid.UUID) {
	m.mu.Lock()
	v, ok := m.validators[matchID]
	delete(m.validators, matchID)
	m.mu.Unlock()
	if ok {
		core.Detach(v.shadow)
	}
}

// Summaries lists every validator ordered by match id.
func (m *Manager) Summaries() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.validators))
	for id, v := range m.validators {
		s := Summary{MatchID: id, Actions: v.count, Failed: v.failed}
		if f, ok := v.Failure(); ok {
			s.Failure = &f
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID.String() < out[j].MatchID.String() })
	return out
}
