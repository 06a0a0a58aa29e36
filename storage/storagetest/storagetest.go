// Package storagetest holds the behavioural test suite every storage.Storage
// implementation must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marathon-server/storage"
)

// Factory returns a fresh, empty Storage for a single subtest.
type Factory func(t *testing.T) storage.Storage

// RowCounter is implemented by backends that can report how many physical rows
// exist for a key. The suite uses it to check the one-row-per-key invariant.
type RowCounter interface {
	CountRows(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (int, error)
}

var (
	playerA = uuid.MustParse("0000000a-0000-4000-8000-000000000000")
	playerB = uuid.MustParse("0000000b-0000-4000-8000-000000000000")
	playerC = uuid.MustParse("0000000c-0000-4000-8000-000000000000")
)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"SetThenGet", testSetThenGet},
		{"MissingPlayerIsNotFound", testMissingPlayer},
		{"SetTwiceIsIdempotent", testIdempotent},
		{"SetReplacesWithoutComparing", testReplace},
		{"ExtremeIdentifiers", testExtremeIdentifiers},
		{"TopOrdering", testTopOrdering},
		{"TopCountBound", testTopCountBound},
		{"TopInvalidCount", testTopInvalidCount},
		{"Placement", testPlacement},
		{"WindowsAreIndependent", testWindowsIndependent},
		{"ClearTimeFrame", testClearTimeFrame},
		{"ConcurrentWritersSameKey", testConcurrentWriters},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(s.Close)
			tc.fn(t, s)
		})
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func assertRows(t *testing.T, s storage.Storage, player uuid.UUID, tf storage.TimeFrame, want int) {
	t.Helper()
	counter, ok := s.(RowCounter)
	if !ok {
		return
	}
	n, err := counter.CountRows(testContext(t), player, tf)
	require.NoError(t, err)
	assert.Equal(t, want, n, "rows for (%v, %q)", player, tf)
}

func testSetThenGet(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	for _, tf := range append([]storage.TimeFrame{storage.NoTimeFrame}, storage.TimeFrames...) {
		hs := storage.Highscore{Score: 42, Time: 123456}
		require.NoError(t, s.SetHighscore(ctx, playerA, hs, tf))

		got, err := s.GetHighscore(ctx, playerA, tf)
		require.NoError(t, err)
		require.NotNil(t, got, "window %q", tf)
		assert.Equal(t, hs, *got)
		assertRows(t, s, playerA, tf, 1)
	}
}

func testMissingPlayer(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 1, Time: 1}, storage.Monthly))

	got, err := s.GetHighscore(ctx, playerB, storage.Monthly)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testIdempotent(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	hs := storage.Highscore{Score: 7, Time: 9000}
	require.NoError(t, s.SetHighscore(ctx, playerA, hs, storage.Weekly))
	require.NoError(t, s.SetHighscore(ctx, playerA, hs, storage.Weekly))

	got, err := s.GetHighscore(ctx, playerA, storage.Weekly)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hs, *got)
	assertRows(t, s, playerA, storage.Weekly, 1)
}

func testReplace(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 50, Time: 10}, storage.NoTimeFrame))
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 20, Time: 99}, storage.NoTimeFrame))

	got, err := s.GetHighscore(ctx, playerA, storage.NoTimeFrame)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.Highscore{Score: 20, Time: 99}, *got)
	assertRows(t, s, playerA, storage.NoTimeFrame, 1)
}

func testExtremeIdentifiers(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	zero := uuid.UUID{}
	ones := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	require.NoError(t, s.SetHighscore(ctx, zero, storage.Highscore{Score: 1, Time: 2}, storage.AllTime))
	require.NoError(t, s.SetHighscore(ctx, ones, storage.Highscore{Score: 3, Time: 4}, storage.AllTime))

	top, err := s.GetTopHighscores(ctx, 10, storage.AllTime)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, ones, top[0].Player)
	assert.Equal(t, zero, top[1].Player)
}

// seedRanking writes {(A,100,500),(B,100,300),(C,90,100)} into tf.
func seedRanking(t *testing.T, s storage.Storage, tf storage.TimeFrame) {
	ctx := testContext(t)
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 100, Time: 500}, tf))
	require.NoError(t, s.SetHighscore(ctx, playerB, storage.Highscore{Score: 100, Time: 300}, tf))
	require.NoError(t, s.SetHighscore(ctx, playerC, storage.Highscore{Score: 90, Time: 100}, tf))
}

func testTopOrdering(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	seedRanking(t, s, storage.Monthly)

	top, err := s.GetTopHighscores(ctx, 2, storage.Monthly)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, playerB, top[0].Player)
	assert.Equal(t, storage.Highscore{Score: 100, Time: 300}, top[0].Highscore)
	assert.Equal(t, playerA, top[1].Player)

	all, err := s.GetTopHighscores(ctx, 10, storage.Monthly)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, playerC, all[2].Player)
}

func testTopCountBound(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	seedRanking(t, s, storage.NoTimeFrame)

	top, err := s.GetTopHighscores(ctx, 1, storage.NoTimeFrame)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, playerB, top[0].Player)

	empty, err := s.GetTopHighscores(ctx, 5, storage.Weekly)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testTopInvalidCount(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	for _, n := range []int{0, -1} {
		_, err := s.GetTopHighscores(ctx, n, storage.NoTimeFrame)
		assert.ErrorIs(t, err, storage.ErrInvalidCount)
	}
}

func testPlacement(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	seedRanking(t, s, storage.Weekly)

	cases := []struct {
		score int32
		want  int
	}{
		{101, 1},
		{100, 1},
		{95, 3}, // A and B are both strictly greater
		{90, 3},
		{0, 4},
	}
	for _, tc := range cases {
		got, err := s.GetPlacement(ctx, tc.score, storage.Weekly)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "placement of %d", tc.score)
	}

	got, err := s.GetPlacement(ctx, 0, storage.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, got, "empty window")
}

func testWindowsIndependent(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 10, Time: 1}, storage.NoTimeFrame))
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 20, Time: 2}, storage.Monthly))
	require.NoError(t, s.SetHighscore(ctx, playerA, storage.Highscore{Score: 30, Time: 3}, storage.NoTimeFrame))

	got, err := s.GetHighscore(ctx, playerA, storage.Monthly)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.Highscore{Score: 20, Time: 2}, *got)

	got, err = s.GetHighscore(ctx, playerA, storage.NoTimeFrame)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, storage.Highscore{Score: 30, Time: 3}, *got)

	placement, err := s.GetPlacement(ctx, 25, storage.NoTimeFrame)
	require.NoError(t, err)
	assert.Equal(t, 2, placement)
	placement, err = s.GetPlacement(ctx, 25, storage.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, placement)
}

func testClearTimeFrame(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	seedRanking(t, s, storage.Monthly)
	seedRanking(t, s, storage.NoTimeFrame)

	require.NoError(t, s.ClearTimeFrame(ctx, storage.Monthly))

	top, err := s.GetTopHighscores(ctx, 10, storage.Monthly)
	require.NoError(t, err)
	assert.Empty(t, top)

	top, err = s.GetTopHighscores(ctx, 10, storage.NoTimeFrame)
	require.NoError(t, err)
	assert.Len(t, top, 3)
}

func testConcurrentWriters(t *testing.T, s storage.Storage) {
	ctx := testContext(t)
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SetHighscore(ctx, playerA, storage.Highscore{Score: int32(100 + i), Time: int64(i)}, storage.Monthly)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetHighscore(ctx, playerA, storage.Monthly)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.GreaterOrEqual(t, got.Score, int32(100))
	assert.Less(t, got.Score, int32(100+writers))
	assert.Equal(t, int64(got.Score-100), got.Time, "score and time must come from the same write")
	assertRows(t, s, playerA, storage.Monthly, 1)

	top, err := s.GetTopHighscores(ctx, writers, storage.Monthly)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}
