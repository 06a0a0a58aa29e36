package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"marathon-server/storage"
	"marathon-server/storage/storagetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marathon.db")
	s, err := Open(context.Background(), path, Options{MaxOpenConns: 4, BusyTimeout: 10 * time.Second}, nil)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return openTempStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  ", Options{}, nil); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marathon.db")
	ctx := context.Background()
	player := uuid.New()

	s, err := Open(ctx, path, Options{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetHighscore(ctx, player, storage.Highscore{Score: 12, Time: 3400}, storage.Monthly); err != nil {
		t.Fatalf("SetHighscore: %v", err)
	}
	s.Close()

	s, err = Open(ctx, path, Options{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetHighscore(ctx, player, storage.Monthly)
	if err != nil {
		t.Fatalf("GetHighscore: %v", err)
	}
	if got == nil || *got != (storage.Highscore{Score: 12, Time: 3400}) {
		t.Errorf("GetHighscore after reopen = %v, want {12 3400}", got)
	}
}

func TestNullWindowIsStoredAsNull(t *testing.T) {
	s := openTempStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.SetHighscore(ctx, uuid.New(), storage.Highscore{Score: 1, Time: 1}, storage.NoTimeFrame); err != nil {
		t.Fatalf("SetHighscore: %v", err)
	}
	var nulls int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM marathon WHERE time_frame IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("count: %v", err)
	}
	if nulls != 1 {
		t.Errorf("rows with NULL time_frame = %d, want 1", nulls)
	}
}

func TestDropThenQueryIsQueryFailure(t *testing.T) {
	s := openTempStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Drop(ctx); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	_, err := s.GetPlacement(ctx, 10, storage.Weekly)
	if !errors.Is(err, storage.ErrQuery) {
		t.Errorf("GetPlacement after Drop = %v, want ErrQuery", err)
	}
}

func TestClosedStoreIsConnectionFailure(t *testing.T) {
	s := openTempStore(t)
	s.Close()
	err := s.SetHighscore(context.Background(), uuid.New(), storage.Highscore{}, storage.Weekly)
	if !errors.Is(err, storage.ErrConnection) {
		t.Errorf("SetHighscore after Close = %v, want ErrConnection", err)
	}
}

func TestLockContentionIsTimeout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "marathon.db")
	holder, err := Open(ctx, path, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	s, err := Open(ctx, path, Options{BusyTimeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	tx, err := holder.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	err = s.SetHighscore(ctx, uuid.New(), storage.Highscore{Score: 1}, storage.Weekly)
	if !errors.Is(err, storage.ErrTimeout) || !storage.Retryable(err) {
		t.Errorf("SetHighscore under a held write lock = %v, want retryable ErrTimeout", err)
	}
}
