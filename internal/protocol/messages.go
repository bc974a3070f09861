package protocol

// HELLO (client -> server). An empty MatchID asks the server to create a
// match; an unknown one is created on demand.
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	PlayerID          string   `json:"player_id,omitempty"`
	PlayerName        string   `json:"player_name,omitempty"`
	MatchID           string   `json:"match_id,omitempty"`
	Spectator         bool     `json:"spectator,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ServerID        string      `json:"server_id"`
	MatchID         string      `json:"match_id"`
	PlayerID        string      `json:"player_id"`
	Match           MatchParams `json:"match"`
}

type MatchParams struct {
	TickRateHz     int   `json:"tick_rate_hz"`
	SyncIntervalMs int   `json:"sync_interval_ms"`
	RelayOnly      bool  `json:"relay_only,omitempty"`
	Seed           int64 `json:"seed"`
	Players        int   `json:"players"`
}

// SyncActions carries a JSON array of action envelopes as a string, in both
// directions.
type SyncActionsMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id,omitempty"`
	Payload string `json:"payload"`
}

// Ping and Pong measure round trips. Pong echoes the ping's ticks.
type PingMsg struct {
	Type  string `json:"type"`
	Ticks int64  `json:"ticks"`
}

type PongMsg struct {
	Type  string `json:"type"`
	Ticks int64  `json:"ticks"`
}

// TimeSync asks for the server clock. The reply echoes ClientTicks and fills
// ServerTicks.
type TimeSyncMsg struct {
	Type        string `json:"type"`
	ClientTicks int64  `json:"client_ticks"`
	ServerTicks int64  `json:"server_ticks,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
