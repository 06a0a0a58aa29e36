package leaderboard

import (
	"github.com/google/uuid"

	"marathon-server/storage"
)

// RankedEntry is an Entry with its 1-based position, flattened for clients.
type RankedEntry struct {
	Position int       `json:"position"`
	Player   uuid.UUID `json:"player"`
	Score    int32     `json:"score"`
	TimeMS   int64     `json:"time_ms"`
}

// Rank numbers entries from 1 in the order given.
func Rank(entries []storage.Entry) []RankedEntry {
	out := make([]RankedEntry, len(entries))
	for i, e := range entries {
		out[i] = RankedEntry{Position: i + 1, Player: e.Player, Score: e.Highscore.Score, TimeMS: e.Highscore.Time}
	}
	return out
}
