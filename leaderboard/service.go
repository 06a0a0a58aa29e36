// Package leaderboard runs storage operations off the caller's goroutine.
// Reads return futures; highscore submissions are fire-and-forget and are
// applied by keyed write workers that retry transient failures.
package leaderboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"marathon-server/storage"
)

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds every storage call. Defaults to 5s.
	Timeout time.Duration
	// Workers is the number of write shards. Defaults to 4.
	Workers int
	// QueueSize is the per-shard queue depth. Defaults to 256.
	QueueSize int
	// MaxRetries caps retries of a transient write failure. Defaults to 3;
	// a negative value disables retries.
	MaxRetries int
	// RetryInterval is the first backoff delay. Defaults to 100ms.
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
	return o
}

// Update describes a highscore write that reached storage.
type Update struct {
	Player    uuid.UUID
	Highscore storage.Highscore
	TimeFrame storage.TimeFrame
}

// Service is the asynchronous front of a storage.Storage.
type Service struct {
	store  storage.Storage
	opts   Options
	logger *slog.Logger
	writes *writer

	mu        sync.RWMutex
	listeners []func(Update)
}

// New starts the write workers for store.
func New(store storage.Storage, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With("tag", "leaderboard"),
	}
	s.writes = newWriter(s.opts.Workers, s.opts.QueueSize, s.applyWrite)
	return s
}

// OnUpdate registers fn to run after every successful highscore write. fn
// runs on a write worker and must not block.
func (s *Service) OnUpdate(fn func(Update)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) notify(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.listeners {
		fn(u)
	}
}

// Result reports what a queued write did.
type Result struct {
	// Previous is the stored best seen before writing. It is only loaded by
	// SubmitIfHigher.
	Previous *storage.Highscore
	Written  bool
}

// SubmitHighscore queues a write and returns immediately. Failures are
// logged, never reported to the caller.
func (s *Service) SubmitHighscore(player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) {
	s.enqueue(writeJob{player: player, hs: hs, tf: tf})
}

// SubmitIfHigher queues hs for tf and returns immediately. When the job runs
// it loads the stored best and writes hs only if its score is strictly
// higher. Jobs for one (player, tf) run one at a time in submission order, so
// the stored score never decreases.
func (s *Service) SubmitIfHigher(player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) *Future[Result] {
	f := pending[Result]()
	s.enqueue(writeJob{player: player, hs: hs, tf: tf, ifHigher: true, result: f})
	return f
}

func (s *Service) enqueue(job writeJob) {
	if err := s.writes.submit(job); err != nil {
		s.logger.Error("highscore write dropped",
			"player", job.player, "time_frame", job.tf, "score", job.hs.Score, "err", err)
		if job.result != nil {
			job.result.resolve(Result{}, storage.Wrap("submit highscore", storage.ErrQuery, err))
		}
	}
}

// SetHighscore writes synchronously, bypassing the queue.
func (s *Service) SetHighscore(ctx context.Context, player uuid.UUID, hs storage.Highscore, tf storage.TimeFrame) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.store.SetHighscore(ctx, player, hs, tf); err != nil {
		return storage.Wrap("set highscore", storage.ErrQuery, err)
	}
	s.notify(Update{Player: player, Highscore: hs, TimeFrame: tf})
	return nil
}

// applyWrite runs on a write worker. ctx ends when the service is closed.
func (s *Service) applyWrite(ctx context.Context, job writeJob) {
	res, err := s.write(ctx, job)
	if job.result != nil {
		job.result.resolve(res, err)
	}
	switch {
	case errors.Is(err, storage.ErrClosed):
		s.logger.Warn("highscore write abandoned",
			"player", job.player, "time_frame", job.tf, "score", job.hs.Score)
	case err != nil:
		s.logger.Error("highscore write failed",
			"player", job.player, "time_frame", job.tf, "score", job.hs.Score, "err", err)
	case res.Written:
		s.notify(Update{Player: job.player, Highscore: job.hs, TimeFrame: job.tf})
	}
}

func (s *Service) write(ctx context.Context, job writeJob) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, storage.Wrap("set highscore", storage.ErrClosed, ctx.Err())
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.RetryInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.opts.MaxRetries)), ctx)

	var res Result
	attempt := func() error {
		res = Result{}
		opCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		if job.ifHigher {
			prev, err := s.store.GetHighscore(opCtx, job.player, job.tf)
			if err != nil {
				return retryable(storage.Wrap("get highscore", storage.ErrQuery, err))
			}
			res.Previous = prev
			if prev != nil && job.hs.Score <= prev.Score {
				return nil
			}
		}
		if err := s.store.SetHighscore(opCtx, job.player, job.hs, job.tf); err != nil {
			return retryable(storage.Wrap("set highscore", storage.ErrQuery, err))
		}
		res.Written = true
		return nil
	}
	retries := 0
	err := backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		retries++
		s.logger.Warn("highscore write failed, retrying",
			"player", job.player, "time_frame", job.tf, "retry", retries, "wait", wait, "err", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			err = &storage.Error{Op: "set highscore", Kind: storage.ErrClosed, Err: err}
		}
		return Result{Previous: res.Previous}, err
	}
	return res, nil
}

// retryable marks err permanent unless storage reports it as transient.
func retryable(err error) error {
	if !storage.Retryable(err) {
		return backoff.Permanent(err)
	}
	return err
}

// read runs fn on its own goroutine under the configured timeout.
func read[T any](s *Service, ctx context.Context, op string, fn func(context.Context) (T, error)) *Future[T] {
	return Go(func() (T, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			var zero T
			return zero, storage.Wrap(op, storage.ErrQuery, err)
		}
		return v, nil
	})
}

// HighscoreAsync resolves to the player's highscore in tf, or nil if none.
func (s *Service) HighscoreAsync(ctx context.Context, player uuid.UUID, tf storage.TimeFrame) *Future[*storage.Highscore] {
	return read(s, ctx, "get highscore", func(ctx context.Context) (*storage.Highscore, error) {
		return s.store.GetHighscore(ctx, player, tf)
	})
}

// TopHighscoresAsync resolves to the best count entries of tf.
func (s *Service) TopHighscoresAsync(ctx context.Context, count int, tf storage.TimeFrame) *Future[[]storage.Entry] {
	return read(s, ctx, "get top highscores", func(ctx context.Context) ([]storage.Entry, error) {
		return s.store.GetTopHighscores(ctx, count, tf)
	})
}

// PlacementAsync resolves to the rank score would take in tf.
func (s *Service) PlacementAsync(ctx context.Context, score int32, tf storage.TimeFrame) *Future[int] {
	return read(s, ctx, "get placement", func(ctx context.Context) (int, error) {
		return s.store.GetPlacement(ctx, score, tf)
	})
}

// ClearTimeFrame empties tf synchronously.
func (s *Service) ClearTimeFrame(ctx context.Context, tf storage.TimeFrame) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return storage.Wrap("clear time frame", storage.ErrQuery, s.store.ClearTimeFrame(ctx, tf))
}

// Close drains queued writes. When ctx ends first, in-flight writes are
// interrupted and the rest of the queue is skipped. The underlying store is
// left open.
func (s *Service) Close(ctx context.Context) error {
	return s.writes.close(ctx)
}
