// Package postgres implements storage.Storage on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marathon-server/playerid"
	"marathon-server/storage"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS marathon (
	player     BYTEA        NOT NULL CHECK (octet_length(player) = 16),
	highscore  INTEGER      NOT NULL,
	"time"     BIGINT       NOT NULL,
	time_frame VARCHAR(127)
);
CREATE UNIQUE INDEX IF NOT EXISTS marathon_player_time_frame_key ON marathon (player, (COALESCE(time_frame, '')));
CREATE INDEX IF NOT EXISTS marathon_ranking_idx ON marathon (time_frame, highscore DESC, "time" ASC);
`

// upsertSQL relies on marathon_player_time_frame_key so a NULL window conflicts with itself.
const upsertSQL = `
INSERT INTO marathon (player, highscore, "time", time_frame)
VALUES ($1, $2, $3, $4)
ON CONFLICT (player, (COALESCE(time_frame, '')))
DO UPDATE SET highscore = EXCLUDED.highscore, "time" = EXCLUDED."time"`

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPool opens and pings a pgx pool. The caller owns it and must Close it.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, classify("open pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	return pool, nil
}

// Store persists highscores in the marathon table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.Storage = (*Store)(nil)

// New ensures the marathon table and its indexes exist. The store takes
// ownership of pool; Close closes it.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres: nil pool")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, classify("create table", err)
	}
	logger.Info("connected to Postgres", "tag", "storage", "table", storage.TableName)
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Drop removes the table and every stored highscore. Administrative use only.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS marathon`)
	return classify("drop table", err)
}

// SetHighscore upserts the (player, tf) row in a single statement.
func (s *Store) SetHighscore(ctx context.Context, player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) error {
	key := playerid.FromUUID(player)
	_, err := s.pool.Exec(ctx, upsertSQL, key.Bytes(), hs.Score, hs.Time, tf.Tag())
	return classify("set highscore", err)
}

// GetHighscore returns (nil, nil) if the player has no row for tf.
func (s *Store) GetHighscore(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (*storage.Highscore, error) {
	where, args := storage.WindowPredicate(tf, "$2")
	args = append([]any{playerid.FromUUID(player).Bytes()}, args...)

	var hs storage.Highscore
	err := s.pool.QueryRow(ctx,
		`SELECT highscore, "time" FROM marathon WHERE player = $1 AND `+where,
		args...).Scan(&hs.Score, &hs.Time)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get highscore", err)
	}
	return &hs, nil
}

// GetTopHighscores returns entries ordered by highscore DESC, time ASC.
func (s *Store) GetTopHighscores(ctx context.Context, count int, tf storage.TimeFrame) ([]storage.Entry, error) {
	if err := storage.CheckCount("get top highscores", count); err != nil {
		return nil, err
	}
	where, args := storage.WindowPredicate(tf, "$2")
	args = append([]any{count}, args...)

	rows, err := s.pool.Query(ctx, `
		SELECT player, highscore, "time"
		FROM marathon
		WHERE `+where+`
		ORDER BY highscore DESC, "time" ASC, player ASC
		LIMIT $1`,
		args...)
	if err != nil {
		return nil, classify("get top highscores", err)
	}
	defer rows.Close()
	out := make([]storage.Entry, 0, count)
	for rows.Next() {
		var raw []byte
		var hs storage.Highscore
		if err := rows.Scan(&raw, &hs.Score, &hs.Time); err != nil {
			return nil, classify("get top highscores", err)
		}
		key, err := playerid.Parse(raw)
		if err != nil {
			return nil, storage.Wrap("get top highscores", storage.ErrQuery, err)
		}
		out = append(out, storage.Entry{Player: key.UUID(), Highscore: hs})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get top highscores", err)
	}
	return out, nil
}

// GetPlacement returns 1 + the number of distinct players scoring strictly more.
func (s *Store) GetPlacement(ctx context.Context, score int32, tf storage.TimeFrame) (int, error) {
	where, args := storage.WindowPredicate(tf, "$2")
	args = append([]any{score}, args...)

	var placement int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT player) + 1 FROM marathon WHERE highscore > $1 AND `+where,
		args...).Scan(&placement)
	if err != nil {
		return 0, classify("get placement", err)
	}
	return placement, nil
}

// ClearTimeFrame deletes every row of tf.
func (s *Store) ClearTimeFrame(ctx context.Context, tf storage.TimeFrame) error {
	where, args := storage.WindowPredicate(tf, "$1")
	tag, err := s.pool.Exec(ctx, `DELETE FROM marathon WHERE `+where, args...)
	if err != nil {
		return classify("clear time frame", err)
	}
	s.logger.Info("cleared time frame", "tag", "storage", "time_frame", tf.String(), "rows", tag.RowsAffected())
	return nil
}

// CountRows reports how many rows exist for (player, tf).
func (s *Store) CountRows(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (int, error) {
	where, args := storage.WindowPredicate(tf, "$2")
	args = append([]any{playerid.FromUUID(player).Bytes()}, args...)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM marathon WHERE player = $1 AND `+where, args...).Scan(&n)
	return n, classify("count rows", err)
}

// classify maps pgx failures onto storage error kinds: server-side errors are
// query failures, everything else means no usable connection.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return storage.Wrap(op, storage.ErrTimeout, err)
	case errors.As(err, &pgErr):
		return storage.Wrap(op, storage.ErrQuery, err)
	default:
		return storage.Wrap(op, storage.ErrConnection, err)
	}
}
