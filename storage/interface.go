package storage

import (
	"context"

	"github.com/google/uuid"
)

// Storage abstracts persistence for marathon highscores.
// Implementations can be swapped for testing (storage/memory) or different backends
// (storage/postgres, storage/sqlite, or the storage/rediscache decorator).
//
// Every operation is partitioned by a TimeFrame; NoTimeFrame is the all-time aggregate.
type Storage interface {
	// SetHighscore records hs as player's current best for tf, replacing any prior row
	// for (player, tf) atomically. It does not compare against the previous value.
	SetHighscore(ctx context.Context, player uuid.UUID, hs Highscore, tf TimeFrame) error

	// GetHighscore returns player's stored highscore for tf, or (nil, nil) when absent.
	GetHighscore(ctx context.Context, player uuid.UUID, tf TimeFrame) (*Highscore, error)

	// GetTopHighscores returns at most count entries ordered by score descending,
	// ties broken by faster time. count must be positive.
	GetTopHighscores(ctx context.Context, count int, tf TimeFrame) ([]Entry, error)

	// GetPlacement returns 1 + the number of distinct players in tf whose score is
	// strictly greater than score.
	GetPlacement(ctx context.Context, score int32, tf TimeFrame) (int, error)

	// ClearTimeFrame removes every row stored for tf.
	ClearTimeFrame(ctx context.Context, tf TimeFrame) error

	// Close releases the backend's resources.
	Close()
}
