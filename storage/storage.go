package storage

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// TableName is the leaderboard table owned by the relational backends.
const TableName = "marathon"

// Highscore is a player's best (score, completion time) pair for one window.
type Highscore struct {
	Score int32 `json:"score"`
	// Time is the run completion time in milliseconds.
	Time int64 `json:"time_ms"`
}

// RanksAbove reports whether h is ordered before other on a leaderboard:
// higher score first, then the faster time.
func (h Highscore) RanksAbove(other Highscore) bool {
	if h.Score != other.Score {
		return h.Score > other.Score
	}
	return h.Time < other.Time
}

// Entry is a single ranked row returned by GetTopHighscores.
type Entry struct {
	Player    uuid.UUID `json:"player"`
	Highscore Highscore `json:"highscore"`
}

// SortEntries orders entries the way GetTopHighscores does. Entries with an
// identical highscore are ordered by player bytes so results are deterministic.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Highscore != b.Highscore {
			return a.Highscore.RanksAbove(b.Highscore)
		}
		return bytes.Compare(a.Player[:], b.Player[:]) < 0
	})
}

// CheckCount validates the top-N bound.
func CheckCount(op string, count int) error {
	if count <= 0 {
		return &Error{Op: op, Kind: ErrInvalidCount, Err: fmt.Errorf("count %d must be positive", count)}
	}
	return nil
}
