// Package protocol defines the JSON messages exchanged over a match
// websocket. It has no dependencies on the simulation.
package protocol

import (
	"encoding/json"
	"time"
)

const Version = "1.0"

// Message types.
const (
	TypeHello       = "HELLO"
	TypeWelcome     = "WELCOME"
	TypeError       = "ERROR"
	TypeSyncActions = "SyncActions"
	TypePing        = "Ping"
	TypePong        = "Pong"
	TypeTimeSync    = "TimeSync"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Ticks is the wire form of a timestamp: Unix time in nanoseconds.
func Ticks(t time.Time) int64 { return t.UnixNano() }

func FromTicks(ticks int64) time.Time { return time.Unix(0, ticks).UTC() }
