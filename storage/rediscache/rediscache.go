// Package rediscache decorates a storage.Storage with a Redis read-through
// cache for the ranking queries that leaderboard displays hit repeatedly.
//
// Cached results are keyed by a per-window version counter. Every write to a
// window increments its counter, so readers never see results computed before
// the write once it has returned; superseded keys simply expire.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marathon-server/storage"
)

// Options configures the cache.
type Options struct {
	// Prefix namespaces every key. Defaults to "marathon".
	Prefix string
	// TTL bounds how long a cached result lives. Defaults to one minute.
	TTL time.Duration
}

// Store caches GetTopHighscores and GetPlacement; other calls pass through.
type Store struct {
	next   storage.Storage
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ storage.Storage = (*Store)(nil)

// New wraps next. The caller keeps ownership of rdb; Close only closes next.
func New(next storage.Storage, rdb *redis.Client, opts Options, logger *slog.Logger) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "marathon"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{next: next, rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL, logger: logger}
}

func windowName(tf storage.TimeFrame) string {
	if !tf.IsSet() {
		return "none"
	}
	return tf.String()
}

func (s *Store) versionKey(tf storage.TimeFrame) string {
	return fmt.Sprintf("%s:ver:%s", s.prefix, windowName(tf))
}

// version returns the window's current version; 0 when never written.
func (s *Store) version(ctx context.Context, tf storage.TimeFrame) (int64, error) {
	v, err := s.rdb.Get(ctx, s.versionKey(tf)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *Store) bump(ctx context.Context, tf storage.TimeFrame) {
	if err := s.rdb.Incr(ctx, s.versionKey(tf)).Err(); err != nil {
		s.logger.Warn("cache invalidation failed; results may be stale until TTL",
			"tag", "cache", "time_frame", windowName(tf), "ttl", s.ttl, "err", err)
	}
}

// cached serves key from Redis or fills it with load. Redis failures degrade
// to calling load directly.
func cached[T any](ctx context.Context, s *Store, tf storage.TimeFrame, suffix string, load func() (T, error)) (T, error) {
	ver, err := s.version(ctx, tf)
	if err != nil {
		s.logger.Warn("cache unavailable", "tag", "cache", "err", err)
		return load()
	}
	key := fmt.Sprintf("%s:%s:v%d:%s", s.prefix, windowName(tf), ver, suffix)

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return v, nil
		}
		s.logger.Warn("discarding undecodable cache entry", "tag", "cache", "key", key)
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("cache read failed", "tag", "cache", "key", key, "err", err)
		return load()
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("cache write failed", "tag", "cache", "key", key, "err", err)
		}
	}
	return v, nil
}

// SetHighscore writes through and invalidates the window.
func (s *Store) SetHighscore(ctx context.Context, player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) error {
	if err := s.next.SetHighscore(ctx, player, hs, tf); err != nil {
		return err
	}
	s.bump(ctx, tf)
	return nil
}

// GetHighscore is not cached.
func (s *Store) GetHighscore(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (*storage.Highscore, error) {
	return s.next.GetHighscore(ctx, player, tf)
}

// GetTopHighscores serves the ranking from cache when possible.
func (s *Store) GetTopHighscores(ctx context.Context, count int, tf storage.TimeFrame) ([]storage.Entry, error) {
	if err := storage.CheckCount("get top highscores", count); err != nil {
		return nil, err
	}
	return cached(ctx, s, tf, "top:"+strconv.Itoa(count), func() ([]storage.Entry, error) {
		return s.next.GetTopHighscores(ctx, count, tf)
	})
}

// GetPlacement serves the placement from cache when possible.
func (s *Store) GetPlacement(ctx context.Context, score int32, tf storage.TimeFrame) (int, error) {
	return cached(ctx, s, tf, "place:"+strconv.FormatInt(int64(score), 10), func() (int, error) {
		return s.next.GetPlacement(ctx, score, tf)
	})
}

// ClearTimeFrame clears the backend and invalidates the window.
func (s *Store) ClearTimeFrame(ctx context.Context, tf storage.TimeFrame) error {
	if err := s.next.ClearTimeFrame(ctx, tf); err != nil {
		return err
	}
	s.bump(ctx, tf)
	return nil
}

// CountRows forwards to the wrapped store when it supports row counting.
func (s *Store) CountRows(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (int, error) {
	counter, ok := s.next.(interface {
		CountRows(context.Context, uuid.UUID, storage.TimeFrame) (int, error)
	})
	if !ok {
		return 0, fmt.Errorf("wrapped store cannot count rows")
	}
	return counter.CountRows(ctx, player, tf)
}

// Close closes the wrapped store.
func (s *Store) Close() {
	s.next.Close()
}
