package r2s3

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
)

type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
}

// Uploader is the narrow client surface the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorOptions struct {
	// Prefix is prepended to every object key.
	Prefix   string
	Workers  int
	Queue    int
	Attempts int
	// Backoff is the base retry delay; attempt n waits n*n*Backoff.
	Backoff time.Duration
	// OnResult sees every finished upload.
	OnResult func(ok bool)
	Logger   *slog.Logger
}

// Mirror uploads archive files in the background. Enqueue never blocks; a
// full queue drops the file, which stays on local disk.
type Mirror struct {
	up   Uploader
	opts MirrorOptions
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func NewMirror(up Uploader, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	m := &Mirror{
		up:   up,
		opts: opts,
		log:  logging.OrNop(opts.Logger).With("component", "r2s3"),
		jobs: make(chan string, opts.Queue),
	}
	for range opts.Workers {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Key is the object key for a local archive path.
func (m *Mirror) Key(localPath string) string {
	return path.Join(m.opts.Prefix, filepath.Base(localPath))
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
	default:
		m.dropped.Add(1)
		m.log.Warn("upload queue full", "path", localPath)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Enqueued: m.enqueued.Load(),
		Dropped:  m.dropped.Load(),
		Uploaded: m.uploaded.Load(),
		Failed:   m.failed.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key := m.Key(localPath)
	var err error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			break
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	ok := err == nil
	if ok {
		m.uploaded.Add(1)
		m.log.Debug("archive uploaded", "key", key)
	} else {
		m.failed.Add(1)
		m.log.Error("archive upload failed", "key", key, "attempts", m.opts.Attempts, "err", err)
	}
	if m.opts.OnResult != nil {
		m.opts.OnResult(ok)
	}
}
