// Package memory provides an in-process Storage used by tests and by the
// server when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"marathon-server/playerid"
	"marathon-server/storage"
)

type key struct {
	player playerid.Key
	tf     storage.TimeFrame
}

// Store keeps highscores in a map guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	rows   map[key]storage.Highscore
	closed bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{rows: make(map[key]storage.Highscore)}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap(op, storage.ErrTimeout, err)
	}
	if s.closed {
		return storage.Wrap(op, storage.ErrConnection, storage.ErrClosed)
	}
	return nil
}

// SetHighscore replaces the row for (player, tf).
func (s *Store) SetHighscore(ctx context.Context, player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "set highscore"); err != nil {
		return err
	}
	s.rows[key{playerid.FromUUID(player), tf}] = hs
	return nil
}

// GetHighscore returns (nil, nil) when the player has no row for tf.
func (s *Store) GetHighscore(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (*storage.Highscore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get highscore"); err != nil {
		return nil, err
	}
	hs, ok := s.rows[key{playerid.FromUUID(player), tf}]
	if !ok {
		return nil, nil
	}
	return &hs, nil
}

// GetTopHighscores ranks the window in memory.
func (s *Store) GetTopHighscores(ctx context.Context, count int, tf storage.TimeFrame) ([]storage.Entry, error) {
	if err := storage.CheckCount("get top highscores", count); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get top highscores"); err != nil {
		return nil, err
	}
	entries := make([]storage.Entry, 0, len(s.rows))
	for k, hs := range s.rows {
		if k.tf == tf {
			entries = append(entries, storage.Entry{Player: k.player.UUID(), Highscore: hs})
		}
	}
	storage.SortEntries(entries)
	if len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

// GetPlacement counts players in tf with a strictly greater score.
func (s *Store) GetPlacement(ctx context.Context, score int32, tf storage.TimeFrame) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get placement"); err != nil {
		return 0, err
	}
	placement := 1
	for k, hs := range s.rows {
		if k.tf == tf && hs.Score > score {
			placement++
		}
	}
	return placement, nil
}

// ClearTimeFrame drops every row of tf.
func (s *Store) ClearTimeFrame(ctx context.Context, tf storage.TimeFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "clear time frame"); err != nil {
		return err
	}
	for k := range s.rows {
		if k.tf == tf {
			delete(s.rows, k)
		}
	}
	return nil
}

// CountRows reports 1 when (player, tf) has a row and 0 otherwise.
func (s *Store) CountRows(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "count rows"); err != nil {
		return 0, err
	}
	if _, ok := s.rows[key{playerid.FromUUID(player), tf}]; ok {
		return 1, nil
	}
	return 0, nil
}

// Len returns the number of stored rows across all windows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Close marks the store closed; later calls fail with a connection error.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
