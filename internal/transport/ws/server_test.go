package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Sod3n/Determenistic.GameFramework/internal/metrics"
	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/match"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

type fixture struct {
	server  *network.Server
	matches *match.Manager
	hub     *Hub
	url     string
}

func newFixture(t *testing.T, relay bool, opts Options) *fixture {
	t.Helper()
	srv := network.NewServer(network.ServerOptions{RelayOnly: relay, RateHz: 200})
	matches := match.NewManager(srv, demo.Factory, nil)
	hub := NewHub(srv, matches, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Loop.Run(ctx)
	}()
	ts := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return &fixture{
		server:  srv,
		matches: matches,
		hub:     hub,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (f *fixture) dial(t *testing.T, hello protocol.HelloMsg) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	if hello.Type == "" {
		hello.Type = protocol.TypeHello
	}
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	require.NoError(t, ws.WriteJSON(hello))
	return &client{t: t, ws: ws}
}

func (c *client) read() (protocol.BaseMessage, []byte) {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	base, err := protocol.DecodeBase(b)
	require.NoError(c.t, err)
	return base, b
}

// next skips messages until one of type typ arrives.
func (c *client) next(typ string) []byte {
	c.t.Helper()
	for {
		base, b := c.read()
		if base.Type == typ {
			return b
		}
	}
}

func (c *client) welcome() protocol.WelcomeMsg {
	c.t.Helper()
	var w protocol.WelcomeMsg
	require.NoError(c.t, json.Unmarshal(c.next(protocol.TypeWelcome), &w))
	return w
}

func (c *client) syncActions() []network.Action {
	c.t.Helper()
	var m protocol.SyncActionsMsg
	require.NoError(c.t, json.Unmarshal(c.next(protocol.TypeSyncActions), &m))
	actions, errs, err := demo.Codec().DecodeBatch([]byte(m.Payload))
	require.NoError(c.t, err)
	for _, e := range errs {
		require.NoError(c.t, e)
	}
	return actions
}

func (c *client) send(actions ...network.Action) {
	c.t.Helper()
	payload, err := demo.Codec().EncodeBatch(actions)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(protocol.SyncActionsMsg{Type: protocol.TypeSyncActions, Payload: string(payload)}))
}

func TestHandshakeCreatesMatchAndSyncsState(t *testing.T) {
	f := newFixture(t, false, Options{})
	matchID := uuid.New()
	playerID := uuid.New()

	c := f.dial(t, protocol.HelloMsg{MatchID: matchID.String(), PlayerID: playerID.String()})
	w := c.welcome()
	require.Equal(t, matchID.String(), w.MatchID)
	require.Equal(t, playerID.String(), w.PlayerID)
	require.Equal(t, f.server.ServerID.String(), w.ServerID)
	require.Equal(t, 1, w.Match.Players)
	require.Equal(t, 50, w.Match.SyncIntervalMs)
	require.Equal(t, network.SeedFor(matchID), w.Match.Seed)

	snap := c.syncActions()
	require.Len(t, snap, 1)
	_, ok := snap[0].(*network.SyncGameState)
	require.True(t, ok)

	require.NotNil(t, f.matches.Get(matchID))
	require.Equal(t, []RoomInfo{{MatchID: matchID, Connections: 1, Players: 1}}, f.hub.Rooms())
}

func TestActionsAreBroadcastWithExecutor(t *testing.T) {
	f := newFixture(t, false, Options{})
	matchID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	a := f.dial(t, protocol.HelloMsg{MatchID: matchID.String(), PlayerID: p1.String()})
	a.welcome()
	a.syncActions()
	b := f.dial(t, protocol.HelloMsg{MatchID: matchID.String(), PlayerID: p2.String()})
	require.Equal(t, 2, b.welcome().Match.Players)
	b.syncActions()

	// The claimed executor is replaced by the sender's player id.
	inc := &demo.Increment{Amount: 3}
	forged := uuid.New()
	inc.ExecutorID = &forged
	a.send(inc, &demo.DealCard{Player: p1, Card: 4})

	for _, c := range []*client{a, b} {
		got := c.syncActions()
		require.Len(t, got, 1, "secret deal must not be broadcast")
		require.IsType(t, &demo.Increment{}, got[0])
		require.Equal(t, p1, got[0].NetHeader().Executor())
		require.True(t, got[0].NetHeader().SyncToClient)
	}
}

func TestLateJoinerReceivesHistory(t *testing.T) {
	f := newFixture(t, false, Options{})
	matchID := uuid.New()

	a := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	a.welcome()
	a.syncActions()
	a.send(&demo.Increment{Amount: 2}, &demo.SpawnMarker{Label: "x"})
	a.syncActions()

	b := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	b.welcome()
	snap := b.syncActions()
	require.Len(t, snap, 1)

	g := demo.New(matchID)
	require.True(t, network.NewExecutor(g).Execute(snap[0], nil, func(err error) { t.Fatal(err) }))
	require.Equal(t, 2, g.Counter.Value)
	require.Len(t, g.Board.Markers(), 1)
}

func TestLateJoinerSnapshotOmitsSecrets(t *testing.T) {
	f := newFixture(t, false, Options{})
	matchID := uuid.New()
	p1 := uuid.New()

	a := f.dial(t, protocol.HelloMsg{MatchID: matchID.String(), PlayerID: p1.String()})
	a.welcome()
	a.syncActions()
	a.send(&demo.DealCard{Player: p1, Card: 7}, &demo.Increment{Amount: 1})
	a.syncActions()

	b := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	b.welcome()
	snap := b.syncActions()
	require.Len(t, snap, 1)
	sync, ok := snap[0].(*network.SyncGameState)
	require.True(t, ok)
	require.Len(t, sync.History, 1)
	for _, raw := range sync.History {
		require.NotContains(t, string(raw), "DealCard")
	}

	g := demo.New(matchID)
	require.True(t, network.NewExecutor(g).Execute(sync, nil, func(err error) { t.Fatal(err) }))
	require.Equal(t, 1, g.Counter.Value)
	require.Empty(t, g.Lobby.Hands)
}

func TestPingAndTimeSync(t *testing.T) {
	f := newFixture(t, false, Options{})
	c := f.dial(t, protocol.HelloMsg{})
	c.welcome()

	require.NoError(t, c.ws.WriteJSON(protocol.PingMsg{Type: protocol.TypePing, Ticks: 12345}))
	var pong protocol.PongMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypePong), &pong))
	require.Equal(t, int64(12345), pong.Ticks)

	before := protocol.Ticks(time.Now())
	require.NoError(t, c.ws.WriteJSON(protocol.TimeSyncMsg{Type: protocol.TypeTimeSync, ClientTicks: 7}))
	var ts protocol.TimeSyncMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeTimeSync), &ts))
	require.Equal(t, int64(7), ts.ClientTicks)
	require.GreaterOrEqual(t, ts.ServerTicks, before)
}

func TestRejectsBadHandshake(t *testing.T) {
	f := newFixture(t, false, Options{})

	c := f.dial(t, protocol.HelloMsg{ProtocolVersion: "0.1"})
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrProtoVersion, e.Code)

	c = f.dial(t, protocol.HelloMsg{MatchID: "not-a-uuid"})
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrProtoBadRequest, e.Code)
	require.Zero(t, f.matches.Count())
}

func TestUnknownActionReportsError(t *testing.T) {
	f := newFixture(t, false, Options{})
	c := f.dial(t, protocol.HelloMsg{})
	c.welcome()
	require.NoError(t, c.ws.WriteJSON(protocol.SyncActionsMsg{
		Type:    protocol.TypeSyncActions,
		Payload: `[{"type":"Nope","data":{}}]`,
	}))
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrUnknownAction, e.Code)
}

func TestRelayOnlyEchoesPayload(t *testing.T) {
	f := newFixture(t, true, Options{})
	matchID := uuid.New()
	a := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	require.True(t, a.welcome().Match.RelayOnly)
	b := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	b.welcome()

	payload := `[{"type":"Anything","data":{"x":1}}]`
	require.NoError(t, a.ws.WriteJSON(protocol.SyncActionsMsg{Type: protocol.TypeSyncActions, Payload: payload}))
	for _, c := range []*client{a, b} {
		var m protocol.SyncActionsMsg
		require.NoError(t, json.Unmarshal(c.next(protocol.TypeSyncActions), &m))
		require.Equal(t, payload, m.Payload)
	}
}

func TestRateLimit(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, false, Options{RatePerSecond: 0.001, Burst: 1, Metrics: m})
	c := f.dial(t, protocol.HelloMsg{})
	c.welcome()
	require.NoError(t, c.ws.WriteJSON(protocol.PingMsg{Type: protocol.TypePing, Ticks: 1}))
	require.NoError(t, c.ws.WriteJSON(protocol.PingMsg{Type: protocol.TypePing, Ticks: 2}))
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(c.next(protocol.TypeError), &e))
	require.Equal(t, protocol.ErrRateLimit, e.Code)
}

func TestEmptyMatchIsRemovedAfterDelay(t *testing.T) {
	f := newFixture(t, false, Options{RemovalDelay: 50 * time.Millisecond})
	matchID := uuid.New()
	c := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	c.welcome()
	require.Equal(t, 1, f.matches.Count())

	require.NoError(t, c.ws.Close())
	require.Eventually(t, func() bool { return f.matches.Get(matchID) == nil }, 3*time.Second, 10*time.Millisecond)
	require.Empty(t, f.hub.Rooms())
}

func TestReconnectCancelsRemoval(t *testing.T) {
	f := newFixture(t, false, Options{RemovalDelay: 300 * time.Millisecond})
	matchID := uuid.New()
	c := f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	c.welcome()
	require.NoError(t, c.ws.Close())
	require.Eventually(t, func() bool {
		rooms := f.hub.Rooms()
		return len(rooms) == 1 && rooms[0].Connections == 0
	}, 3*time.Second, 5*time.Millisecond)

	c = f.dial(t, protocol.HelloMsg{MatchID: matchID.String()})
	c.welcome()
	time.Sleep(500 * time.Millisecond)
	require.NotNil(t, f.matches.Get(matchID))
}
