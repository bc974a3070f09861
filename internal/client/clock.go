package client

import (
	"sync"
	"time"

	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
)

// Clock estimates the server clock from TimeSync round trips, NTP style:
// offset = server - (sent + received) / 2.
type Clock struct {
	now func() time.Time

	mu       sync.Mutex
	offset   time.Duration
	synced   bool
	onSynced []func(offset time.Duration)
}

func NewClock() *Clock { return &Clock{now: time.Now} }

// Request returns the ticks to put in an outgoing TimeSync.
func (c *Clock) Request() int64 { return protocol.Ticks(c.now()) }

// Observe records a TimeSync reply and returns the new offset.
func (c *Clock) Observe(clientTicks, serverTicks int64) time.Duration {
	received := protocol.Ticks(c.now())
	offset := time.Duration(serverTicks - (clientTicks+received)/2)
	c.mu.Lock()
	c.offset = offset
	c.synced = true
	subs := append([]func(time.Duration){}, c.onSynced...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(offset)
	}
	return offset
}

// Now is the estimated server time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	off := c.offset
	c.mu.Unlock()
	return c.now().Add(off).UTC()
}

func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Clock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

func (c *Clock) OnSynced(fn func(offset time.Duration)) {
	c.mu.Lock()
	c.onSynced = append(c.onSynced, fn)
	c.mu.Unlock()
}
