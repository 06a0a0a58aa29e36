package leaderboard

import (
	"testing"

	"github.com/google/uuid"

	"marathon-server/storage"
)

func TestRankNumbersFromOne(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := Rank([]storage.Entry{
		{Player: a, Highscore: storage.Highscore{Score: 9, Time: 100}},
		{Player: b, Highscore: storage.Highscore{Score: 4, Time: 50}},
	})
	want := []RankedEntry{
		{Position: 1, Player: a, Score: 9, TimeMS: 100},
		{Position: 2, Player: b, Score: 4, TimeMS: 50},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(Rank(nil)) != 0 {
		t.Error("Rank(nil) should be empty")
	}
}
