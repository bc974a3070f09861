package network

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
)

// DefaultSyncInterval flushes at 20 Hz.
const DefaultSyncInterval = 50 * time.Millisecond

// SyncManager buffers client-visible actions per match and hands them to
// OnSync subscribers on a fixed interval. It runs as a loop processor.
type SyncManager struct {
	core.Leaf

	interval time.Duration
	elapsed  time.Duration
	pending  map[uuid.UUID][]Action
	order    []uuid.UUID
	onSync   []func(uuid.UUID, []Action)
}

func NewSyncManager(parent core.Domain, interval time.Duration) *SyncManager {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	s := &SyncManager{interval: interval, pending: map[uuid.UUID][]Action{}}
	core.Init(s, parent)
	return s
}

func (s *SyncManager) Interval() time.Duration { return s.interval }

// OnSync registers a flush subscriber.
func (s *SyncManager) OnSync(fn func(matchID uuid.UUID, actions []Action)) {
	s.onSync = append(s.onSync, fn)
}

// Collect buffers every SyncToClient action that finishes at or below host.
func (s *SyncManager) Collect(host core.Domain) *core.Reaction[core.Domain, Action] {
	r := core.NewReaction[core.Domain, Action]("CollectNetworkActions").
		After(func(target core.Domain, a Action) {
			if !a.NetHeader().SyncToClient {
				return
			}
			s.Push(target, a)
		}).
		AddTo(host)
	s.OnDispose(r.Dispose)
	return r
}

// Push queues a for its match, addressed to target.
func (s *SyncManager) Push(target core.Domain, a Action) {
	h := a.NetHeader()
	h.DomainID = target.ID()
	if _, ok := s.pending[h.MatchID]; !ok {
		s.order = append(s.order, h.MatchID)
	}
	s.pending[h.MatchID] = append(s.pending[h.MatchID], a)
}

func (s *SyncManager) Pending() int {
	n := 0
	for _, as := range s.pending {
		n += len(as)
	}
	return n
}

func (s *SyncManager) Process(delta time.Duration) {
	s.elapsed += delta
	if s.elapsed >= s.interval {
		s.Flush()
	}
}

// Flush swaps the buffer out and notifies subscribers per match in the order
// matches first received an action.
func (s *SyncManager) Flush() {
	pending, order := s.pending, s.order
	s.pending = map[uuid.UUID][]Action{}
	s.order = nil
	s.elapsed = 0
	for _, id := range order {
		actions := pending[id]
		if len(actions) == 0 {
			continue
		}
		for _, fn := range s.onSync {
			fn(id, actions)
		}
	}
}
