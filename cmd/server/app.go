package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Sod3n/Determenistic.GameFramework/internal/config"
	"github.com/Sod3n/Determenistic.GameFramework/internal/metrics"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/indexdb"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/r2s3"
	persistlog "github.com/Sod3n/Determenistic.GameFramework/internal/persistence/log"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/redisstore"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/snapshot"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/loop"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/match"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/validator"
	"github.com/Sod3n/Determenistic.GameFramework/internal/transport/ws"
)

// app is one server process: the loop, the hub and the persistence sinks
// that observe it. None of the sinks feed back into the simulation.
type app struct {
	cfg config.Config
	log *slog.Logger

	metrics    *metrics.Metrics
	server     *network.Server
	matches    *match.Manager
	validators *validator.Manager
	hub        *ws.Hub
	codec      *network.Codec

	syncLog *persistlog.SyncLogger
	divLog  *persistlog.DivergenceLogger
	index   *indexdb.SQLiteIndex
	redis   *redisstore.Store
	mirror  *redisstore.Mirror
	uploads *r2s3.Mirror

	archives sync.WaitGroup
	stopOnce sync.Once
}

func newApp(cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		codec:   demo.Codec(),
		syncLog: persistlog.NewSyncLogger(cfg.DataDir),
		divLog:  persistlog.NewDivergenceLogger(cfg.DataDir),
	}

	if !cfg.IndexDB.Disabled {
		idx, err := indexdb.OpenSQLite(cfg.IndexDB.Path)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		a.index = idx
	}
	if !cfg.Redis.Disabled {
		store := redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redisstore.WithPrefix(cfg.Redis.Prefix), redisstore.WithTTL(cfg.Redis.TTL))
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := store.Ping(ctx)
		cancel()
		if err != nil {
			_ = store.Shutdown()
			a.closeSinks()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		a.redis = store
		a.mirror = redisstore.NewMirror(store, log.With("component", "redis"), 0)
	}

	if !cfg.Upload.Disabled {
		up, err := r2s3.New(r2s3.Credentials{
			Endpoint:  cfg.Upload.Endpoint,
			Bucket:    cfg.Upload.Bucket,
			AccessKey: cfg.Upload.AccessKey,
			SecretKey: cfg.Upload.SecretKey,
			Region:    cfg.Upload.Region,
		})
		if err != nil {
			a.closeSinks()
			return nil, err
		}
		a.uploads = r2s3.NewMirror(up, r2s3.MirrorOptions{
			Prefix:   cfg.Upload.Prefix,
			OnResult: a.metrics.ArchiveUpload,
			Logger:   log,
		})
	}

	a.server = network.NewServer(network.ServerOptions{
		RateHz:       cfg.TickRateHz,
		SyncInterval: cfg.SyncInterval,
		RelayOnly:    cfg.RelayOnly,
		Logger:       log,
		LoopOptions: []loop.Option{
			loop.WithFrameObserver(a.metrics.Tick),
			loop.WithPanicObserver(func(stage string, _ any) { a.metrics.LoopPanic(stage) }),
		},
	})
	a.matches = match.NewManager(a.server, demo.Factory, log)
	if cfg.Validation.Enabled {
		a.validators = validator.NewManager(demo.Factory, validator.Options{
			CheckState: cfg.Validation.CheckState,
			FullState:  cfg.Validation.FullState,
		}, log.With("component", "validator"))
		a.validators.OnFailure(a.onDivergence)
	}
	a.hub = ws.NewHub(a.server, a.matches, ws.Options{
		RemovalDelay:  cfg.MatchRemovalDelay,
		RatePerSecond: cfg.RateLimit.PerSecond,
		Burst:         cfg.RateLimit.Burst,
		Metrics:       a.metrics,
		Logger:        log,
	})

	a.matches.OnCreated(a.onCreated)
	a.matches.OnRemoved(a.onRemoved)
	a.server.Sync.OnSync(a.onFlush)
	return a, nil
}

func (a *app) onCreated(mt *match.Match) {
	if a.validators != nil {
		a.validators.OnMatchCreated(mt.State)
		a.validators.Install(mt.Executor)
	}
	seed := network.SeedFor(mt.ID)
	a.index.RecordMatchCreated(mt.ID, seed)
	a.mirror.Created(mt.ID, seed)
	a.metrics.SetMatches(a.matches.Count())
}

// onFlush runs on the loop goroutine. Secret actions are included: the hub
// filters them for clients, but a replay needs the full stream.
func (a *app) onFlush(matchID uuid.UUID, actions []network.Action) {
	raws := make([]json.RawMessage, 0, len(actions))
	for _, act := range actions {
		b, err := a.codec.Encode(act)
		if err != nil {
			a.log.Warn("encode flushed action", "match", matchID, "err", err)
			continue
		}
		raws = append(raws, b)
	}
	if len(raws) == 0 {
		return
	}
	rec := persistlog.SyncRecord{Time: time.Now().UTC(), MatchID: matchID, Actions: raws}
	if err := a.syncLog.WriteBatch(rec); err != nil {
		a.log.Warn("sync log write failed", "match", matchID, "err", err)
	}
	a.index.RecordFlush(matchID, len(raws))
	a.mirror.Append(matchID, raws)
}

// onRemoved runs on the loop goroutine before the match is detached. The
// archive is captured here and written off the loop.
func (a *app) onRemoved(mt *match.Match) {
	if a.validators != nil {
		a.validators.OnMatchRemoved(mt.ID)
	}
	a.metrics.SetMatches(a.matches.Count())
	a.server.Sync.Flush()

	arch, err := snapshot.Capture(mt.State)
	if err != nil {
		a.log.Error("capture archive", "match", mt.ID, "err", err)
		return
	}
	path := snapshot.PathFor(a.cfg.DataDir, mt.ID)
	a.archives.Add(1)
	go func() {
		defer a.archives.Done()
		if err := snapshot.WriteArchive(path, arch); err != nil {
			a.log.Error("write archive", "match", mt.ID, "err", err)
			path = ""
		}
		a.index.RecordMatchClosed(mt.ID, arch.Header.Actions, arch.Digest, path)
		a.mirror.Closed(mt.ID, arch.Digest)
		if path != "" {
			a.uploads.Enqueue(path)
		}
		a.log.Info("match archived", "match", mt.ID, "actions", arch.Header.Actions, "digest", arch.Digest)
	}()
}

func (a *app) onDivergence(f validator.Failure) {
	a.metrics.Desync(string(f.Kind))
	if err := a.divLog.WriteFailure(persistlog.DivergenceRecord{Time: time.Now().UTC(), Failure: f}); err != nil {
		a.log.Warn("divergence log write failed", "match", f.MatchID, "err", err)
	}
	a.index.RecordDivergence(f)
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/v1/ws", a.hub.Handler())
	r.Get("/v1/matches", a.handleMatches)
	r.Get("/v1/matches/{id}", a.handleMatch)
	r.Mount("/debug", middleware.Profiler())
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"server_id":    a.server.ServerID,
		"loop_running": a.server.Loop.IsRunning(),
		"matches":      a.matches.Count(),
	})
}

func (a *app) handleMatches(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"relay_only": a.server.RelayOnly,
		"live":       a.matches.IDs(),
		"rooms":      a.hub.Rooms(),
	}
	if a.validators != nil {
		// Validators advance on the loop goroutine.
		var sums []validator.Summary
		err := a.server.Loop.Do(r.Context(), func() { sums = a.validators.Summaries() })
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		out["validators"] = sums
	}
	if a.index != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := a.index.Matches(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out["indexed"] = rows
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *app) handleMatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad match id"})
		return
	}
	live := a.matches.Get(id) != nil
	out := map[string]any{"match_id": id, "live": live}
	found := live
	if a.index != nil {
		row, err := a.index.Match(r.Context(), id)
		switch {
		case err == nil:
			found = true
			out["index"] = row
			divs, err := a.index.Divergences(r.Context(), id)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			out["divergences"] = divs
		case !errors.Is(err, indexdb.ErrNotFound):
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "match not found"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// serve runs the loop and the HTTP server on ln until ctx is done or either
// fails, then archives the live matches and closes the sinks.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{Handler: a.routes(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.server.Loop.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.log.Info("listening", "addr", ln.Addr().String(), "tick_rate_hz", a.server.Loop.RateHz())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	err := g.Wait()
	a.shutdown()
	return err
}

// shutdown removes every live match and ticks the stopped loop once so the
// removals, and with them the archives, complete.
func (a *app) shutdown() {
	a.stopOnce.Do(func() {
		for _, id := range a.matches.IDs() {
			a.matches.Remove(id)
		}
		a.server.Loop.Tick(0)
		a.archives.Wait()
		a.closeSinks()
		a.log.Info("server stopped")
	})
}

func (a *app) closeSinks() {
	if err := a.syncLog.Close(); err != nil {
		a.log.Warn("close sync log", "err", err)
	}
	if err := a.divLog.Close(); err != nil {
		a.log.Warn("close divergence log", "err", err)
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.Warn("close index", "err", err)
		}
	}
	if a.mirror != nil {
		a.mirror.Close()
		_ = a.redis.Shutdown()
	}
	a.uploads.Close()
}
