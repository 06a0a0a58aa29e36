package leaderboard

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	"marathon-server/storage"
)

// errQueueFull is reported when a shard cannot accept more writes.
var errQueueFull = errors.New("write queue full")

type writeJob struct {
	player uuid.UUID
	hs     storage.Highscore
	tf     storage.TimeFrame
	// ifHigher makes the job compare against the stored best before writing.
	ifHigher bool
	// result, when set, is resolved once the job finishes or is dropped.
	result *Future[Result]
}

// writer applies fire-and-forget writes on a fixed set of goroutines. Jobs are
// sharded by (player, window), so writes to one key apply in submission order
// while distinct keys proceed in parallel.
type writer struct {
	mu     sync.RWMutex
	closed bool
	shards []chan writeJob
	wg     sync.WaitGroup
	apply  func(context.Context, writeJob)
	ctx    context.Context
	cancel context.CancelFunc
}

func newWriter(workers, queueSize int, apply func(context.Context, writeJob)) *writer {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &writer{
		shards: make([]chan writeJob, workers),
		apply:  apply,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range w.shards {
		w.shards[i] = make(chan writeJob, queueSize)
		w.wg.Add(1)
		go w.loop(w.shards[i])
	}
	return w
}

func (w *writer) loop(jobs <-chan writeJob) {
	defer w.wg.Done()
	for job := range jobs {
		w.apply(w.ctx, job)
	}
}

func shardOf(player uuid.UUID, tf storage.TimeFrame, n int) int {
	h := fnv.New32a()
	h.Write(player[:])
	h.Write([]byte{byte(tf)})
	return int(h.Sum32() % uint32(n))
}

// submit enqueues job without blocking the caller.
func (w *writer) submit(job writeJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return storage.ErrClosed
	}
	select {
	case w.shards[shardOf(job.player, job.tf, len(w.shards))] <- job:
		return nil
	default:
		return errQueueFull
	}
}

// close stops accepting jobs and waits for queued ones to finish. If ctx ends
// first, the worker context is cancelled: in-flight storage calls are
// interrupted, the jobs still queued are skipped, and ctx.Err() is returned.
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		for _, ch := range w.shards {
			close(ch)
		}
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
