package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Sod3n/Determenistic.GameFramework/internal/config"
	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	persistlog "github.com/Sod3n/Determenistic.GameFramework/internal/persistence/log"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/snapshot"
	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

type running struct {
	app  *app
	base string
	stop func() error
}

func start(t *testing.T, mutate ...func(*config.Config)) *running {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.TickRateHz = 200
	cfg.MatchRemovalDelay = 50 * time.Millisecond
	cfg.Validation.Enabled = true
	cfg.RateLimit.PerSecond = 0
	for _, fn := range mutate {
		fn(&cfg)
	}
	cfg.Normalize()
	require.NoError(t, cfg.Validate())

	a, err := newApp(cfg, logging.NewNop())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.serve(ctx, ln) }()
	stop := sync.OnceValue(func() error {
		cancel()
		return <-errCh
	})
	t.Cleanup(func() { _ = stop() })

	r := &running{app: a, base: ln.Addr().String(), stop: stop}
	require.Eventually(t, a.server.Loop.IsRunning, 3*time.Second, 5*time.Millisecond)
	return r
}

func (r *running) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get("http://" + r.base + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func (r *running) dial(t *testing.T, matchID, playerID uuid.UUID) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial("ws://"+r.base+"/v1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		MatchID:         matchID.String(),
		PlayerID:        playerID.String(),
	}))
	readType(t, c, protocol.TypeWelcome)
	readType(t, c, protocol.TypeSyncActions)
	return c
}

func readType(t *testing.T, c *websocket.Conn, typ string) []byte {
	t.Helper()
	for {
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, b, err := c.ReadMessage()
		require.NoError(t, err)
		base, err := protocol.DecodeBase(b)
		require.NoError(t, err)
		if base.Type == typ {
			return b
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r := start(t)

	code, body := r.get(t, "/healthz")
	require.Equal(t, http.StatusOK, code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	require.Equal(t, true, health["ok"])
	require.Equal(t, true, health["loop_running"])

	code, body = r.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "gameframework_loop_tick_duration_seconds")

	code, _ = r.get(t, "/v1/matches/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = r.get(t, "/v1/matches/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, code)
}

func TestMatchIsRecordedAndReplayable(t *testing.T) {
	r := start(t)
	matchID, player := uuid.New(), uuid.New()
	c := r.dial(t, matchID, player)

	payload, err := demo.Codec().EncodeBatch([]network.Action{
		&demo.Join{},
		&demo.Increment{Amount: 4},
		&demo.RollDice{Sides: 6},
		&demo.DealCard{Player: player, Card: 9},
	})
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(protocol.SyncActionsMsg{Type: protocol.TypeSyncActions, Payload: string(payload)}))
	readType(t, c, protocol.TypeSyncActions)

	code, body := r.get(t, "/v1/matches")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), matchID.String())

	// Leaving empties the room; the match is removed and archived.
	require.NoError(t, c.Close())
	path := snapshot.PathFor(r.app.cfg.DataDir, matchID)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil && r.app.matches.Get(matchID) == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		row, err := r.app.index.Match(context.Background(), matchID)
		return err == nil && row.ClosedAt != nil
	}, 5*time.Second, 10*time.Millisecond)
	row, err := r.app.index.Match(context.Background(), matchID)
	require.NoError(t, err)
	require.Equal(t, 4, row.Actions)
	require.Equal(t, 4, row.Flushed)
	require.Equal(t, path, row.ArchivePath)
	require.Zero(t, row.Divergences)

	arch, err := snapshot.ReadArchive(path)
	require.NoError(t, err)
	g := demo.New(matchID)
	_, err = network.ReplayTrace(g, arch.RawHistory())
	require.NoError(t, err)
	d, err := core.Digest(g)
	require.NoError(t, err)
	require.Equal(t, arch.Digest, d)
	require.Equal(t, 1, len(g.Lobby.Hands))

	require.NoError(t, r.stop())
	history, err := persistlog.SyncHistory(filepath.Join(r.app.cfg.DataDir, "sync"), matchID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	replayed := demo.New(matchID)
	_, err = network.ReplayTrace(replayed, history)
	require.NoError(t, err)
	d2, err := core.Digest(replayed)
	require.NoError(t, err)
	require.Equal(t, d, d2)
}

func TestShutdownArchivesLiveMatches(t *testing.T) {
	r := start(t)
	matchID := uuid.New()
	c := r.dial(t, matchID, uuid.New())
	payload, err := demo.Codec().EncodeBatch([]network.Action{&demo.Increment{Amount: 1}})
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(protocol.SyncActionsMsg{Type: protocol.TypeSyncActions, Payload: string(payload)}))
	readType(t, c, protocol.TypeSyncActions)

	require.NoError(t, r.stop())
	h, err := snapshot.ReadHeader(snapshot.PathFor(r.app.cfg.DataDir, matchID))
	require.NoError(t, err)
	require.Equal(t, matchID, h.MatchID)
	require.Equal(t, 1, h.Actions)
}

func TestClosedArchiveIsUploaded(t *testing.T) {
	var mu sync.Mutex
	uploaded := map[string]int{}
	bucket := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") {
			http.Error(w, "unsigned", http.StatusForbidden)
			return
		}
		mu.Lock()
		uploaded[r.URL.Path] = len(body)
		mu.Unlock()
	}))
	t.Cleanup(bucket.Close)

	r := start(t, func(c *config.Config) {
		c.Upload = config.Upload{Endpoint: bucket.URL, Bucket: "games", AccessKey: "a", SecretKey: "s", Prefix: "archives"}
	})
	matchID := uuid.New()
	c := r.dial(t, matchID, uuid.New())
	payload, err := demo.Codec().EncodeBatch([]network.Action{&demo.Increment{Amount: 2}})
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(protocol.SyncActionsMsg{Type: protocol.TypeSyncActions, Payload: string(payload)}))
	readType(t, c, protocol.TypeSyncActions)
	require.NoError(t, r.stop())

	key := "/games/archives/" + filepath.Base(snapshot.PathFor(r.app.cfg.DataDir, matchID))
	mu.Lock()
	defer mu.Unlock()
	require.Positive(t, uploaded[key], "uploaded: %v", uploaded)
}
