// Package race tracks a player's run and records finished runs on the
// leaderboard.
package race

import (
	"time"

	"github.com/google/uuid"

	"marathon-server/storage"
)

// Racer is the state of one player's session. It is not safe for concurrent
// use.
type Racer struct {
	Player uuid.UUID

	score     int32
	highscore int32
	combo     int32
	started   time.Time
}

// NewRacer starts a session for player at now.
func NewRacer(player uuid.UUID, now time.Time) *Racer {
	return &Racer{Player: player, started: now}
}

func (r *Racer) Score() int32     { return r.score }
func (r *Racer) Highscore() int32 { return r.highscore }
func (r *Racer) Combo() int32     { return r.combo }

// SetScore sets the current score, raising the session highscore if exceeded.
func (r *Racer) SetScore(v int32) {
	if v > r.highscore {
		r.highscore = v
	}
	r.score = v
}

// Advance credits one cleared jump. Quick consecutive jumps build a combo
// that is added on top.
func (r *Racer) Advance(quick bool) {
	if quick {
		r.combo++
	} else {
		r.combo = 0
	}
	r.SetScore(r.score + 1 + r.combo)
}

// Finish returns the run as a Highscore and resets the run, keeping the
// session highscore.
func (r *Racer) Finish(now time.Time) storage.Highscore {
	hs := storage.Highscore{Score: r.score, Time: now.Sub(r.started).Milliseconds()}
	r.score = 0
	r.combo = 0
	r.started = now
	return hs
}
