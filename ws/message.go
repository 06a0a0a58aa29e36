package ws

import (
	"encoding/json"

	"marathon-server/leaderboard"
)

// InboundEnvelope is the generic envelope for all client-to-server messages.
// The Type field is used for routing; Raw holds the full JSON payload.
type InboundEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements custom unmarshaling to capture the raw payload.
func (e *InboundEnvelope) UnmarshalJSON(data []byte) error {
	type typeOnly struct {
		Type string `json:"type"`
	}
	var t typeOnly
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	e.Type = t.Type
	e.Raw = json.RawMessage(data)
	return nil
}

// --- Client-to-Server message payloads ---

// SubscribeMsg asks for live snapshots of one window. Count 0 means the
// configured default.
type SubscribeMsg struct {
	Type   string `json:"type"`
	Window string `json:"window"`
	Count  int    `json:"count"`
}

// UnsubscribeMsg stops snapshots. The client stays connected and may
// subscribe again.
type UnsubscribeMsg struct {
	Type string `json:"type"`
}

// --- Server-to-Client messages ---

// ErrorMsg is sent when a client message is invalid.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// LeaderboardMsg is a snapshot of a window's top entries.
type LeaderboardMsg struct {
	Type    string                    `json:"type"`
	Window  string                    `json:"window"`
	Entries []leaderboard.RankedEntry `json:"entries"`
}
