package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/metrics"
	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/match"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

var errMatchGone = errors.New("ws: match removed during join")

const (
	DefaultRemovalDelay = 2 * time.Second
	DefaultQueueSize    = 64

	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
)

type Options struct {
	// RemovalDelay is how long an empty match survives before removal.
	RemovalDelay time.Duration
	// RatePerSecond limits inbound messages per connection. Zero disables
	// limiting.
	RatePerSecond float64
	Burst         int
	QueueSize     int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Hub serves match websockets: it routes inbound batches into the server
// loop and fans sync flushes out to every connection of a match.
type Hub struct {
	server  *network.Server
	matches *match.Manager
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

type room struct {
	conns   map[*conn]struct{}
	players map[uuid.UUID]int
	removal *time.Timer
}

// RoomInfo describes one match as seen by the hub.
type RoomInfo struct {
	MatchID     uuid.UUID `json:"match_id"`
	Connections int       `json:"connections"`
	Players     int       `json:"players"`
}

func NewHub(server *network.Server, matches *match.Manager, opts Options) *Hub {
	if opts.RemovalDelay <= 0 {
		opts.RemovalDelay = DefaultRemovalDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	h := &Hub{
		server:  server,
		matches: matches,
		opts:    opts,
		log:     logging.OrNop(opts.Logger).With("component", "ws"),
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		rooms: map[uuid.UUID]*room{},
	}
	server.Sync.OnSync(h.broadcast)
	return h
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := h.handshake(r.Context(), ws)
		if c == nil {
			return
		}
		h.metrics.ConnOpened()
		defer h.metrics.ConnClosed()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.done:
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "send queue full"),
						time.Now().Add(time.Second))
					_ = ws.Close()
					return
				case b := <-c.out:
					_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = ws.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				break
			}
			if c.limiter != nil && !c.limiter.Allow() {
				h.metrics.RateLimited()
				c.sendError(protocol.ErrRateLimit, "too many messages")
				continue
			}
			h.handle(c, msg)
		}

		// Cleanup.
		h.leave(c)
	}
}

func (h *Hub) handshake(ctx context.Context, ws *websocket.Conn) *conn {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(ws, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(ws, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}
	if !supportsVersion(hello) {
		reject(ws, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}
	playerID, err := parseOrNew(hello.PlayerID)
	if err != nil {
		reject(ws, protocol.ErrProtoBadRequest, "bad player_id")
		return nil
	}
	matchID, err := parseOrNew(hello.MatchID)
	if err != nil {
		reject(ws, protocol.ErrProtoBadRequest, "bad match_id")
		return nil
	}

	mt, err := h.ensureMatch(matchID)
	if err != nil {
		h.log.Error("create match", "match", matchID, "err", err)
		reject(ws, protocol.ErrInternal, "create match")
		return nil
	}

	c := &conn{
		player:    playerID,
		name:      hello.PlayerName,
		matchID:   matchID,
		spectator: hello.Spectator,
		out:       make(chan []byte, h.opts.QueueSize),
		done:      make(chan struct{}),
	}
	if h.opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.RatePerSecond), h.opts.Burst)
	}

	// Joining runs on the loop so the snapshot and the first broadcast the
	// connection sees line up: anything already buffered is flushed to the
	// existing connections first.
	var (
		snapshot []byte
		snapErr  error
		players  int
		seed     int64
	)
	joinCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	err = h.server.Loop.Do(joinCtx, func() {
		if h.matches.Get(matchID) != mt {
			snapErr = errMatchGone
			return
		}
		h.server.Sync.Flush()
		if !h.server.RelayOnly {
			if snapshot, snapErr = encodeSnapshot(mt.State); snapErr != nil {
				return
			}
		}
		seed = mt.State.Game().Random.Seed
		players = h.join(c)
	})
	if err == nil {
		err = snapErr
	}
	if err != nil {
		h.log.Error("join match", "match", matchID, "player", playerID, "err", err)
		reject(ws, protocol.ErrInternal, "join match")
		h.leave(c)
		return nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ServerID:        h.server.ServerID.String(),
		MatchID:         matchID.String(),
		PlayerID:        playerID.String(),
		Match: protocol.MatchParams{
			TickRateHz:     h.server.Loop.RateHz(),
			SyncIntervalMs: int(h.server.Sync.Interval() / time.Millisecond),
			RelayOnly:      h.server.RelayOnly,
			Seed:           seed,
			Players:        players,
		},
	}
	if err := writeJSON(ws, welcome); err != nil {
		h.leave(c)
		return nil
	}
	if snapshot != nil {
		if err := writeJSON(ws, protocol.SyncActionsMsg{
			Type:    protocol.TypeSyncActions,
			MatchID: matchID.String(),
			Payload: string(snapshot),
		}); err != nil {
			h.leave(c)
			return nil
		}
	}
	h.log.Info("player connected", "match", matchID, "player", playerID, "players", players)
	return c
}

// ensureMatch returns the live match for id, creating it on first connect.
func (h *Hub) ensureMatch(id uuid.UUID) (*match.Match, error) {
	if mt := h.matches.Get(id); mt != nil {
		return mt, nil
	}
	mt, err := h.matches.Create(id)
	if errors.Is(err, match.ErrMatchExists) {
		if mt := h.matches.Get(id); mt != nil {
			return mt, nil
		}
	}
	if err != nil {
		return nil, err
	}
	h.metrics.SetMatches(h.matches.Count())
	return mt, nil
}

// join adds c to its room and returns the number of distinct players.
func (h *Hub) join(c *conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[c.matchID]
	if r == nil {
		r = &room{conns: map[*conn]struct{}{}, players: map[uuid.UUID]int{}}
		h.rooms[c.matchID] = r
	}
	if c.closed {
		return len(r.players)
	}
	if r.removal != nil {
		r.removal.Stop()
		r.removal = nil
	}
	r.conns[c] = struct{}{}
	if !c.spectator {
		r.players[c.player]++
	}
	c.joined = true
	return len(r.players)
}

// leave drops c from its room. The last connection out schedules the match
// for removal after the configured delay, so queued actions still run.
func (h *Hub) leave(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.closed = true
	if !c.joined {
		return
	}
	c.joined = false
	r := h.rooms[c.matchID]
	if r == nil {
		return
	}
	delete(r.conns, c)
	if !c.spectator {
		if r.players[c.player]--; r.players[c.player] <= 0 {
			delete(r.players, c.player)
		}
	}
	h.log.Info("player disconnected", "match", c.matchID, "player", c.player, "remaining", len(r.conns))
	if len(r.conns) > 0 {
		return
	}
	id := c.matchID
	var t *time.Timer
	t = time.AfterFunc(h.opts.RemovalDelay, func() {
		h.mu.Lock()
		cur := h.rooms[id]
		if cur == nil || cur.removal != t || len(cur.conns) > 0 {
			h.mu.Unlock()
			return
		}
		delete(h.rooms, id)
		h.mu.Unlock()
		if h.matches.Remove(id) {
			h.metrics.SetMatches(h.matches.Count())
			h.log.Info("match removed, no players remaining", "match", id)
		}
	})
	r.removal = t
}

func (h *Hub) handle(c *conn, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.sendError(protocol.ErrProtoBadRequest, "bad json")
		return
	}
	switch base.Type {
	case protocol.TypePing:
		var m protocol.PingMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.sendError(protocol.ErrProtoBadRequest, "bad Ping")
			return
		}
		c.sendJSON(protocol.PongMsg{Type: protocol.TypePong, Ticks: m.Ticks})
	case protocol.TypeTimeSync:
		var m protocol.TimeSyncMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.sendError(protocol.ErrProtoBadRequest, "bad TimeSync")
			return
		}
		c.sendJSON(protocol.TimeSyncMsg{
			Type:        protocol.TypeTimeSync,
			ClientTicks: m.ClientTicks,
			ServerTicks: protocol.Ticks(time.Now()),
		})
	case protocol.TypeSyncActions:
		var m protocol.SyncActionsMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.sendError(protocol.ErrProtoBadRequest, "bad SyncActions")
			return
		}
		if c.spectator {
			c.sendError(protocol.ErrBadRequest, "spectators cannot act")
			return
		}
		h.syncActions(c, m.Payload)
	default:
		c.sendError(protocol.ErrProtoBadRequest, "unknown message type")
	}
}

// syncActions schedules an inbound batch on the loop. The sender's player id
// replaces whatever executor the client claimed.
func (h *Hub) syncActions(c *conn, payload string) {
	player := c.player
	if h.server.RelayOnly {
		h.server.Loop.Schedule(func() { h.relay(c.matchID, payload) })
		return
	}
	h.server.Loop.Schedule(func() {
		mt := h.matches.Get(c.matchID)
		if mt == nil {
			c.sendError(protocol.ErrMatchNotFound, c.matchID.String())
			return
		}
		actions, errs, err := mt.State.Game().Codec().DecodeBatch([]byte(payload))
		if err != nil {
			c.sendError(protocol.ErrBadRequest, err.Error())
			return
		}
		onError := func(err error) {
			h.log.Warn("action failed", "match", c.matchID, "player", player, "err", err)
			c.sendError(errorCode(err), err.Error())
		}
		for i, a := range actions {
			if errs[i] != nil {
				h.metrics.Action(false)
				onError(errs[i])
				continue
			}
			a.NetHeader().SyncToClient = true
			h.metrics.Action(mt.Executor.Execute(a, &player, onError))
		}
	})
}

func (h *Hub) relay(matchID uuid.UUID, payload string) {
	b, err := json.Marshal(protocol.SyncActionsMsg{
		Type:    protocol.TypeSyncActions,
		MatchID: matchID.String(),
		Payload: payload,
	})
	if err != nil {
		return
	}
	h.fanOut(matchID, b)
}

// broadcast is the sync flush subscriber. It runs on the loop goroutine.
// Server secrets never leave the server.
func (h *Hub) broadcast(matchID uuid.UUID, actions []network.Action) {
	mt := h.matches.Get(matchID)
	if mt == nil {
		return
	}
	visible := make([]network.Action, 0, len(actions))
	for _, a := range actions {
		if !network.IsSecret(a) {
			visible = append(visible, a)
		}
	}
	if len(visible) == 0 {
		return
	}
	payload, err := mt.State.Game().Codec().EncodeBatch(visible)
	if err != nil {
		h.log.Error("encode sync batch", "match", matchID, "err", err)
		return
	}
	b, err := json.Marshal(protocol.SyncActionsMsg{
		Type:    protocol.TypeSyncActions,
		MatchID: matchID.String(),
		Payload: string(payload),
	})
	if err != nil {
		return
	}
	h.metrics.Flushed(len(visible))
	h.fanOut(matchID, b)
}

func (h *Hub) fanOut(matchID uuid.UUID, b []byte) {
	h.mu.Lock()
	r := h.rooms[matchID]
	var conns []*conn
	if r != nil {
		conns = make([]*conn, 0, len(r.conns))
		for c := range r.conns {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.send(b)
	}
}

// Rooms lists the matches with open connections, ordered by match id.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.Lock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, RoomInfo{MatchID: id, Connections: len(r.conns), Players: len(r.players)})
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID.String() < out[j].MatchID.String() })
	return out
}

// encodeSnapshot is the connect-time state sync. Like broadcast, it leaves
// server secrets out.
func encodeSnapshot(s network.State) ([]byte, error) {
	sync, err := network.NewPublicSyncGameState(s)
	if err != nil {
		return nil, err
	}
	return s.Game().Codec().EncodeBatch([]network.Action{sync})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, network.ErrUnknownType):
		return protocol.ErrUnknownAction
	case errors.Is(err, network.ErrDomainNotFound):
		return protocol.ErrDomainNotFound
	default:
		return protocol.ErrInternal
	}
}

func supportsVersion(hello protocol.HelloMsg) bool {
	if hello.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range hello.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

func parseOrNew(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func reject(ws *websocket.Conn, code, message string) {
	_ = writeJSON(ws, protocol.NewError(code, message))
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(time.Second))
}

func writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, b)
}
