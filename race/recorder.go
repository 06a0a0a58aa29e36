package race

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marathon-server/leaderboard"
	"marathon-server/storage"
)

// Board is the part of leaderboard.Service the recorder needs.
type Board interface {
	SubmitIfHigher(player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) *leaderboard.Future[leaderboard.Result]
}

// Outcome reports how a run compared with the stored best of one window.
type Outcome struct {
	TimeFrame storage.TimeFrame  `json:"-"`
	Window    string             `json:"window"`
	Previous  *storage.Highscore `json:"previous,omitempty"`
	NewBest   bool               `json:"new_best"`
}

// Recorder submits finished runs to every configured window.
type Recorder struct {
	board   Board
	windows []storage.TimeFrame
}

// NewRecorder records into windows. NoTimeFrame may be listed like any other.
func NewRecorder(board Board, windows []storage.TimeFrame) *Recorder {
	return &Recorder{board: board, windows: windows}
}

// Record submits hs to every window and waits for the outcomes. Each window's
// write worker compares hs with the stored best and writes it only when its
// score is strictly higher. If ctx ends first the writes still complete.
func (r *Recorder) Record(ctx context.Context, player uuid.UUID, hs storage.Highscore) ([]Outcome, error) {
	pending := make([]*leaderboard.Future[leaderboard.Result], len(r.windows))
	for i, tf := range r.windows {
		pending[i] = r.board.SubmitIfHigher(player, hs, tf)
	}

	outcomes := make([]Outcome, len(r.windows))
	for i, tf := range r.windows {
		res, err := pending[i].Await(ctx)
		if err != nil {
			return nil, fmt.Errorf("record %s highscore: %w", tf.Label(), err)
		}
		outcomes[i] = Outcome{TimeFrame: tf, Window: tf.Label(), Previous: res.Previous, NewBest: res.Written}
	}
	return outcomes, nil
}
