package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

var (
	ErrRejected = errors.New("client: server rejected handshake")
	ErrClosed   = errors.New("client: connection closed")
)

const writeTimeout = 5 * time.Second

type DialOptions struct {
	URL        string
	PlayerID   uuid.UUID
	MatchID    uuid.UUID
	PlayerName string
	Spectator  bool

	// Codec decodes inbound batches. Required.
	Codec *network.Codec
	// Inbox receives decoded actions. Required.
	Inbox Inbox
	// Clock, when set, is fed TimeSync replies.
	Clock *Clock
	// OnError sees ERROR messages sent by the server.
	OnError func(protocol.ErrorMsg)

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Conn is a handshaken match connection. Inbound messages are read on a
// background goroutine; writes are serialized.
type Conn struct {
	ws      *websocket.Conn
	opts    DialOptions
	log     *slog.Logger
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	rtt      atomic.Int64
	received atomic.Int64

	done    chan struct{}
	errMu   sync.Mutex
	err     error
	closing sync.Once
}

// Dial connects, performs the HELLO/WELCOME handshake and starts reading.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	if opts.Codec == nil || opts.Inbox == nil {
		return nil, errors.New("client: codec and inbox are required")
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	c := &Conn{
		ws:   ws,
		opts: opts,
		log:  logging.OrNop(opts.Logger).With("component", "client"),
		done: make(chan struct{}),
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      opts.PlayerName,
		Spectator:       opts.Spectator,
	}
	if opts.PlayerID != uuid.Nil {
		hello.PlayerID = opts.PlayerID.String()
	}
	if opts.MatchID != uuid.Nil {
		hello.MatchID = opts.MatchID.String()
	}
	if err := c.writeJSON(hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	if err := c.awaitWelcome(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) awaitWelcome(ctx context.Context) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await welcome: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			return fmt.Errorf("await welcome: %w", err)
		}
		switch base.Type {
		case protocol.TypeWelcome:
			if err := json.Unmarshal(msg, &c.welcome); err != nil {
				return fmt.Errorf("decode welcome: %w", err)
			}
			return nil
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return fmt.Errorf("%w: %s: %s", ErrRejected, e.Code, e.Message)
		}
	}
}

func (c *Conn) Welcome() protocol.WelcomeMsg { return c.welcome }

func (c *Conn) PlayerID() uuid.UUID { return uuid.MustParse(c.welcome.PlayerID) }

func (c *Conn) MatchID() uuid.UUID { return uuid.MustParse(c.welcome.MatchID) }

func (c *Conn) readLoop() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.log.Warn("bad message", "err", err)
		return
	}
	switch base.Type {
	case protocol.TypeSyncActions:
		var m protocol.SyncActionsMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.log.Warn("bad SyncActions", "err", err)
			return
		}
		c.received.Add(int64(len(m.Payload)))
		actions, errs, err := c.opts.Codec.DecodeBatch([]byte(m.Payload))
		if err != nil {
			c.log.Error("decode batch", "err", err)
			return
		}
		for i, a := range actions {
			if errs[i] != nil {
				c.log.Error("decode action", "index", i, "err", errs[i])
				continue
			}
			c.opts.Inbox.Enqueue(a)
		}
	case protocol.TypePong:
		var m protocol.PongMsg
		if err := json.Unmarshal(msg, &m); err == nil {
			c.rtt.Store(int64(time.Since(protocol.FromTicks(m.Ticks))))
		}
	case protocol.TypeTimeSync:
		var m protocol.TimeSyncMsg
		if err := json.Unmarshal(msg, &m); err == nil && c.opts.Clock != nil {
			off := c.opts.Clock.Observe(m.ClientTicks, m.ServerTicks)
			c.log.Debug("time synced", "offset", off)
		}
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		c.log.Warn("server error", "code", m.Code, "message", m.Message)
		if c.opts.OnError != nil {
			c.opts.OnError(m)
		}
	}
}

// Send encodes actions as one SyncActions batch.
func (c *Conn) Send(actions ...network.Action) error {
	if len(actions) == 0 {
		return nil
	}
	payload, err := c.opts.Codec.EncodeBatch(actions)
	if err != nil {
		return err
	}
	return c.writeJSON(protocol.SyncActionsMsg{
		Type:    protocol.TypeSyncActions,
		MatchID: c.welcome.MatchID,
		Payload: string(payload),
	})
}

func (c *Conn) Ping() error {
	return c.writeJSON(protocol.PingMsg{Type: protocol.TypePing, Ticks: protocol.Ticks(time.Now())})
}

// RequestTimeSync asks for the server clock. Without a Clock it still
// round-trips, but nothing records the reply.
func (c *Conn) RequestTimeSync() error {
	ticks := protocol.Ticks(time.Now())
	if c.opts.Clock != nil {
		ticks = c.opts.Clock.Request()
	}
	return c.writeJSON(protocol.TimeSyncMsg{Type: protocol.TypeTimeSync, ClientTicks: ticks})
}

// RunTimeSync resyncs the clock now and then every interval until ctx is
// done or the connection closes.
func (c *Conn) RunTimeSync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := c.RequestTimeSync(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.Err()
		case <-t.C:
		}
	}
}

// RTT is the last measured ping round trip.
func (c *Conn) RTT() time.Duration { return time.Duration(c.rtt.Load()) }

// BytesReceived counts SyncActions payload bytes.
func (c *Conn) BytesReceived() int64 { return c.received.Load() }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return c.ws.Close()
}

func (c *Conn) shutdown(err error) {
	c.closing.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *Conn) writeJSON(v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}
