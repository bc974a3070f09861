package client

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/loop"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

// Client is the root of a player's local tree: the replica game state, the
// processor that feeds it, and the sync manager batching outbound actions.
// Unlike the server root it does not collect executed actions; only Send
// queues anything for the wire.
type Client struct {
	core.Branch
	PlayerID uuid.UUID `json:"player_id"`
	MatchID  uuid.UUID `json:"match_id"`

	Game      network.State        `json:"-"`
	Processor *Processor           `json:"-"`
	Sync      *network.SyncManager `json:"-"`
	Loop      *loop.Loop           `json:"-"`

	log *slog.Logger
}

func New(playerID, matchID uuid.UUID, game network.State, log *slog.Logger, opts ...loop.Option) *Client {
	log = logging.OrNop(log)
	c := &Client{PlayerID: playerID, MatchID: matchID, Game: game, log: log}
	core.Init(c, nil)
	c.Sync = network.NewSyncManager(c, 0)
	c.Processor = NewProcessor(c, game, log)
	core.Attach(game, c)
	c.Loop = loop.New(c, append([]loop.Option{loop.WithLogger(log)}, opts...)...)
	return c
}

// Send queues a for the server, addressed to the game root. Safe from any
// goroutine; the action leaves with the next sync flush.
func (c *Client) Send(a network.Action) {
	c.SendTo(c.Game, a)
}

// SendTo queues a addressed to target, which must belong to the game state.
func (c *Client) SendTo(target core.Domain, a network.Action) {
	h := a.NetHeader()
	id := c.PlayerID
	h.ExecutorID = &id
	h.MatchID = c.MatchID
	c.Loop.Schedule(func() { c.Sync.Push(target, a) })
}

// Bind wires c to conn: flushes go out as SyncActions batches.
func (c *Client) Bind(conn *Conn) {
	c.Sync.OnSync(func(_ uuid.UUID, actions []network.Action) {
		if err := conn.Send(actions...); err != nil {
			c.log.Warn("send batch", "err", err)
		}
	})
}
