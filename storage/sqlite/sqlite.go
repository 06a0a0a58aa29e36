// Package sqlite provides a SQLite-backed leaderboard storage implementation
// for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"marathon-server/playerid"
	"marathon-server/storage"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS marathon (
	player     BLOB    NOT NULL CHECK (length(player) = 16),
	highscore  INTEGER NOT NULL,
	time       INTEGER NOT NULL,
	time_frame VARCHAR(127)
);
CREATE INDEX IF NOT EXISTS marathon_player_time_frame_idx ON marathon (player, time_frame);
CREATE INDEX IF NOT EXISTS marathon_ranking_idx ON marathon (time_frame, highscore DESC, time ASC);
`

// Options bounds the database/sql connection pool.
type Options struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// Store persists highscores in a SQLite file.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the table exists.
func Open(ctx context.Context, path string, opts Options, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		filepath.Clean(path), busy.Milliseconds())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, classify("ping", err)
	}
	if _, err := sqlDB.ExecContext(ctx, createTableSQL); err != nil {
		_ = sqlDB.Close()
		return nil, classify("create table", err)
	}
	logger.Info("opened SQLite", "tag", "storage", "path", path)
	return &Store{sqlDB: sqlDB, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() {
	if s != nil && s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}

// Drop removes the table and every stored highscore. Administrative use only.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.sqlDB.ExecContext(ctx, `DROP TABLE IF EXISTS marathon`)
	return classify("drop table", err)
}

// SetHighscore deletes the previous (player, tf) row and inserts the new one
// inside a single immediate transaction, so concurrent writers serialize.
func (s *Store) SetHighscore(ctx context.Context, player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) error {
	const op = "set highscore"
	key := playerid.FromUUID(player).Bytes()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback()

	where, args := storage.WindowPredicate(tf, "?")
	if _, err := tx.ExecContext(ctx, `DELETE FROM marathon WHERE player = ? AND `+where, append([]any{key}, args...)...); err != nil {
		return classify(op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO marathon (player, highscore, time, time_frame) VALUES (?, ?, ?, ?)`,
		key, hs.Score, hs.Time, tf.Tag()); err != nil {
		return classify(op, err)
	}
	return classify(op, tx.Commit())
}

// GetHighscore returns (nil, nil) if the player has no row for tf.
func (s *Store) GetHighscore(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (*storage.Highscore, error) {
	where, args := storage.WindowPredicate(tf, "?")
	args = append([]any{playerid.FromUUID(player).Bytes()}, args...)

	var hs storage.Highscore
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT highscore, time FROM marathon WHERE player = ? AND `+where,
		args...).Scan(&hs.Score, &hs.Time)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get highscore", err)
	}
	return &hs, nil
}

// GetTopHighscores returns entries ordered by highscore DESC, time ASC.
func (s *Store) GetTopHighscores(ctx context.Context, count int, tf storage.TimeFrame) ([]storage.Entry, error) {
	const op = "get top highscores"
	if err := storage.CheckCount(op, count); err != nil {
		return nil, err
	}
	where, args := storage.WindowPredicate(tf, "?")
	args = append(args, count)

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT player, highscore, time
		FROM marathon
		WHERE `+where+`
		ORDER BY highscore DESC, time ASC, player ASC
		LIMIT ?`,
		args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make([]storage.Entry, 0, count)
	for rows.Next() {
		var raw []byte
		var hs storage.Highscore
		if err := rows.Scan(&raw, &hs.Score, &hs.Time); err != nil {
			return nil, classify(op, err)
		}
		key, err := playerid.Parse(raw)
		if err != nil {
			return nil, storage.Wrap(op, storage.ErrQuery, err)
		}
		out = append(out, storage.Entry{Player: key.UUID(), Highscore: hs})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// GetPlacement returns 1 + the number of distinct players scoring strictly more.
func (s *Store) GetPlacement(ctx context.Context, score int32, tf storage.TimeFrame) (int, error) {
	where, args := storage.WindowPredicate(tf, "?")
	args = append([]any{score}, args...)

	var placement int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT player) + 1 FROM marathon WHERE highscore > ? AND `+where,
		args...).Scan(&placement)
	if err != nil {
		return 0, classify("get placement", err)
	}
	return placement, nil
}

// ClearTimeFrame deletes every row of tf.
func (s *Store) ClearTimeFrame(ctx context.Context, tf storage.TimeFrame) error {
	where, args := storage.WindowPredicate(tf, "?")
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM marathon WHERE `+where, args...)
	if err != nil {
		return classify("clear time frame", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("cleared time frame", "tag", "storage", "time_frame", tf.String(), "rows", n)
	return nil
}

// CountRows reports how many rows exist for (player, tf).
func (s *Store) CountRows(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) (int, error) {
	where, args := storage.WindowPredicate(tf, "?")
	args = append([]any{playerid.FromUUID(player).Bytes()}, args...)
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM marathon WHERE player = ? AND `+where, args...).Scan(&n)
	return n, classify("count rows", err)
}

// classify maps SQLite failures onto storage error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return storage.Wrap(op, storage.ErrTimeout, err)
	case errors.Is(err, sql.ErrConnDone), strings.Contains(err.Error(), "database is closed"):
		return storage.Wrap(op, storage.ErrConnection, err)
	case errors.As(err, &sqliteErr) && isBusy(sqliteErr):
		return storage.Wrap(op, storage.ErrTimeout, err)
	case errors.As(err, &sqliteErr):
		return storage.Wrap(op, storage.ErrQuery, err)
	default:
		return storage.Wrap(op, storage.ErrConnection, err)
	}
}

// isBusy reports lock contention that outlasted the busy timeout.
func isBusy(err *msqlite.Error) bool {
	code := err.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
