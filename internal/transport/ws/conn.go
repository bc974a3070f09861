package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
)

// conn is one websocket client. The out queue is drained by the writer
// goroutine; a full queue closes the connection, since a client that misses a
// batch can no longer stay in step.
type conn struct {
	player    uuid.UUID
	name      string
	matchID   uuid.UUID
	spectator bool
	limiter   *rate.Limiter

	// joined and closed are guarded by Hub.mu.
	joined bool
	closed bool

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) send(b []byte) {
	select {
	case <-c.done:
	case c.out <- b:
	default:
		c.closeOnce.Do(func() { close(c.done) })
	}
}

func (c *conn) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.send(b)
}

func (c *conn) sendError(code, message string) {
	c.sendJSON(protocol.NewError(code, message))
}
