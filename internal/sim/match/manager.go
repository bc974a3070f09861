// Package match owns the set of live matches attached under a server root.
package match

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

var ErrMatchExists = errors.New("match: already exists")

// Factory builds a fresh, detached match state. It must be deterministic in
// matchID.
type Factory func(matchID uuid.UUID) network.State

// Match is one live simulation instance and the executor that feeds it.
type Match struct {
	ID        uuid.UUID
	State     network.State
	Executor  *network.Executor
	CreatedAt time.Time
}

// Manager is safe for concurrent use. Tree mutations it triggers are
// scheduled on the server loop.
type Manager struct {
	server  *network.Server
	factory Factory
	log     *slog.Logger

	mu        sync.RWMutex
	matches   map[uuid.UUID]*Match
	onCreated []func(*Match)
	onRemoved []func(*Match)
}

func NewManager(server *network.Server, factory Factory, log *slog.Logger) *Manager {
	return &Manager{
		server:  server,
		factory: factory,
		log:     logging.OrNop(log).With("component", "match"),
		matches: map[uuid.UUID]*Match{},
	}
}

// OnCreated subscribers run on the calling goroutine right after Create
// registers a match, before it is attached to the server tree.
func (m *Manager) OnCreated(fn func(*Match)) {
	m.mu.Lock()
	m.onCreated = append(m.onCreated, fn)
	m.mu.Unlock()
}

// OnRemoved subscribers run on the loop goroutine just before the match is
// detached, so they still see its final state.
func (m *Manager) OnRemoved(fn func(*Match)) {
	m.mu.Lock()
	m.onRemoved = append(m.onRemoved, fn)
	m.mu.Unlock()
}

// Create builds the match for id and schedules its attachment under the
// server.
func (m *Manager) Create(id uuid.UUID) (*Match, error) {
	m.mu.Lock()
	if _, ok := m.matches[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMatchExists, id)
	}
	state := m.factory(id)
	mt := &Match{
		ID:        id,
		State:     state,
		Executor:  network.NewExecutor(state),
		CreatedAt: time.Now().UTC(),
	}
	m.matches[id] = mt
	subs := append([]func(*Match){}, m.onCreated...)
	m.mu.Unlock()

	srv := m.server
	srv.Loop.Schedule(func() { core.Attach(state, srv) })
	for _, fn := range subs {
		fn(mt)
	}
	m.log.Info("match created", "match", id)
	return mt, nil
}

// Get returns nil when id is unknown.
func (m *Manager) Get(id uuid.UUID) *Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matches[id]
}

// Remove forgets id and schedules its disposal behind anything already
// queued. Removing an unknown id is a no-op and returns false.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	mt, ok := m.matches[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.matches, id)
	subs := append([]func(*Match){}, m.onRemoved...)
	m.mu.Unlock()

	m.server.Loop.Schedule(func() {
		for _, fn := range subs {
			fn(mt)
		}
		core.Detach(mt.State)
	})
	m.log.Info("match removed", "match", id)
	return true
}

// IDs lists live match ids in a stable order.
func (m *Manager) IDs() []uuid.UUID {
	m.mu.RLock()
	out := make([]uuid.UUID, 0, len(m.matches))
	for id := range m.matches {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matches)
}
