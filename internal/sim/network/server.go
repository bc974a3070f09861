package network

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/loop"
)

// ServerOptions configures NewServer. Zero values pick defaults.
type ServerOptions struct {
	ServerID     uuid.UUID
	RateHz       int
	SyncInterval time.Duration
	RelayOnly    bool
	Logger       *slog.Logger
	LoopOptions  []loop.Option
}

// Server is the host root: every match state is attached under it and the
// loop ticks the whole tree.
type Server struct {
	core.Branch
	ServerID  uuid.UUID `json:"server_id"`
	RelayOnly bool      `json:"relay_only"`

	Sync *SyncManager `json:"-"`
	Loop *loop.Loop   `json:"-"`
}

func NewServer(opts ServerOptions) *Server {
	if opts.ServerID == uuid.Nil {
		opts.ServerID = uuid.New()
	}
	s := &Server{ServerID: opts.ServerID, RelayOnly: opts.RelayOnly}
	core.Init(s, nil)
	s.Sync = NewSyncManager(s, opts.SyncInterval)
	s.Sync.Collect(s)

	lopts := []loop.Option{loop.WithRate(opts.RateHz), loop.WithLogger(opts.Logger)}
	s.Loop = loop.New(s, append(lopts, opts.LoopOptions...)...)

	r := core.NewReaction[core.Domain, Action]("ServerAuthority").
		Prepare(func(_ core.Domain, a Action) {
			h := a.NetHeader()
			if h.ExecutorID == nil {
				h.ExecutorID = ptr(s.ServerID)
			}
			h.IsServer = true
		})
	r.AddTo(s)
	return s
}
