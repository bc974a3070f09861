package redisstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
)

// Mirror feeds a Store from the loop goroutine without blocking it. Writes
// are queued and applied in order by one worker; when the queue is full the
// write is dropped and counted.
type Mirror struct {
	store   *Store
	log     *slog.Logger
	timeout time.Duration

	ch      chan func(context.Context) error
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewMirror(store *Store, log *slog.Logger, queue int) *Mirror {
	if queue <= 0 {
		queue = 4096
	}
	m := &Mirror{
		store:   store,
		log:     logging.OrNop(log),
		timeout: 5 * time.Second,
		ch:      make(chan func(context.Context) error, queue),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for fn := range m.ch {
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			if err := fn(ctx); err != nil {
				m.failed.Add(1)
				m.log.Warn("redis mirror write failed", "err", err)
			}
			cancel()
		}
	}()
	return m
}

func (m *Mirror) enqueue(fn func(context.Context) error) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- fn:
	default:
		m.dropped.Add(1)
	}
}

func (m *Mirror) Created(id uuid.UUID, seed int64) {
	at := time.Now()
	m.enqueue(func(ctx context.Context) error { return m.store.Create(ctx, id, seed, at) })
}

func (m *Mirror) Append(id uuid.UUID, actions []json.RawMessage) {
	m.enqueue(func(ctx context.Context) error { return m.store.AppendBatch(ctx, id, actions) })
}

func (m *Mirror) Closed(id uuid.UUID, digest string) {
	at := time.Now()
	m.enqueue(func(ctx context.Context) error { return m.store.Close(ctx, id, digest, at) })
}

// Dropped counts writes lost to a full queue.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Failed counts writes Redis rejected.
func (m *Mirror) Failed() int64 { return m.failed.Load() }

// Close drains the queue and waits for the worker.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.ch)
		m.mu.Unlock()
		m.wg.Wait()
	})
}
