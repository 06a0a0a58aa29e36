package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"marathon-server/api"
	"marathon-server/auth"
	"marathon-server/config"
	"marathon-server/leaderboard"
	"marathon-server/loghandler"
	"marathon-server/race"
	"marathon-server/rollover"
	"marathon-server/storage"
	"marathon-server/storage/memory"
	"marathon-server/storage/postgres"
	"marathon-server/storage/rediscache"
	"marathon-server/storage/sqlite"
	"marathon-server/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file found; using environment variables.")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration: %v", err)
	}

	logger := slog.New(loghandler.NewCompactHandler(os.Stderr, loghandler.ParseLevel(cfg.LogLevel)))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable; ranking reads go to the database until it recovers", "tag", "cache", "addr", cfg.RedisAddr, "err", err)
		}
		store = rediscache.New(store, rdb, rediscache.Options{TTL: cfg.CacheTTL()}, logger)
	}

	var validator api.PlayerIdentifier
	if cfg.AuthBaseURL == "" {
		logger.Warn("AUTH_BASE_URL is not set; POST /api/runs will reject every request", "tag", "auth")
	} else {
		v, err := auth.NewValidator(cfg.AuthBaseURL)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		validator = v
		logger.Info("auth configured", "tag", "auth", "base_url", cfg.AuthBaseURL)
	}

	app, err := newApp(cfg, store, validator, logger)
	if err != nil {
		return err
	}
	go app.hub.Run(ctx)
	go app.rollover.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Marathon server listening", "addr", srv.Addr, "backend", cfg.DBBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "err", err)
	}
	if err := app.board.Close(shutdownCtx); err != nil {
		logger.Warn("pending highscore writes abandoned", "tag", "leaderboard", "err", err)
	}
	return nil
}

// app is the wired server minus its listeners and storage ownership.
type app struct {
	board    *leaderboard.Service
	hub      *ws.Hub
	rollover *rollover.Scheduler
	mux      *http.ServeMux
}

func newApp(cfg *config.Config, store storage.Storage, validator api.PlayerIdentifier, logger *slog.Logger) (*app, error) {
	windows, err := cfg.TimeFrames()
	if err != nil {
		return nil, err
	}

	board := leaderboard.New(store, leaderboard.Options{
		Timeout:    cfg.QueryTimeout(),
		Workers:    cfg.WriteWorkers,
		QueueSize:  cfg.WriteQueueSize,
		MaxRetries: cfg.WriteMaxRetries,
	}, logger)
	hub := ws.NewHub(cfg, board, logger)
	board.OnUpdate(hub.Notify)

	handler := api.NewHandler(cfg, board, race.NewRecorder(board, windows), validator, logger)
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("/ws", hub.ServeWS)

	return &app{
		board:    board,
		hub:      hub,
		rollover: rollover.New(board, windows, cfg.RolloverInterval(), logger),
		mux:      mux,
	}, nil
}

// openStorage opens the configured backend. Postgres connection attempts are
// retried while the failure looks transient.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.DBBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage; highscores are lost on restart", "tag", "storage")
		return memory.New(), nil

	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.Options{
			MaxOpenConns:    cfg.DBMaxConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
			BusyTimeout:     cfg.QueryTimeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendPostgres:
		poolCfg := postgres.PoolConfig{
			URL:             cfg.PostgresURL(),
			MaxConns:        int32(cfg.DBMaxConns),
			MinConns:        int32(cfg.DBMinConns),
			MaxConnLifetime: cfg.ConnMaxLifetime(),
			MaxConnIdleTime: cfg.ConnMaxIdleTime(),
		}
		var store *postgres.Store
		connect := func() error {
			pool, err := postgres.NewPool(ctx, poolCfg)
			if err != nil {
				if storage.Retryable(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			store, err = postgres.New(ctx, pool, logger)
			if err != nil {
				pool.Close()
				return backoff.Permanent(err)
			}
			return nil
		}
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
		err := backoff.RetryNotify(connect, b, func(err error, wait time.Duration) {
			logger.Warn("Postgres not ready, retrying", "tag", "storage", "wait", wait, "err", err)
		})
		if err != nil {
			return nil, fmt.Errorf("connect to Postgres: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown DB_BACKEND %q", cfg.DBBackend)
}
