// Package rollover clears periodic leaderboard windows when their period ends.
package rollover

import (
	"context"
	"log/slog"
	"time"

	"marathon-server/storage"
)

// Clearer empties one window.
type Clearer interface {
	ClearTimeFrame(ctx context.Context, tf storage.TimeFrame) error
}

// Scheduler watches the wall clock and clears Monthly and Weekly windows when
// a new period starts.
type Scheduler struct {
	clearer  Clearer
	windows  []storage.TimeFrame
	interval time.Duration
	logger   *slog.Logger

	// Now is the clock. Tests replace it.
	Now func() time.Time

	current map[storage.TimeFrame]time.Time
}

// New watches the resetting windows among windows. The period in effect when
// the scheduler is created is taken as current.
func New(clearer Clearer, windows []storage.TimeFrame, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		clearer:  clearer,
		interval: interval,
		logger:   logger.With("tag", "rollover"),
		Now:      time.Now,
		current:  make(map[storage.TimeFrame]time.Time),
	}
	for _, tf := range windows {
		if tf.Resets() {
			s.windows = append(s.windows, tf)
		}
	}
	return s
}

// Windows returns the windows the scheduler resets.
func (s *Scheduler) Windows() []storage.TimeFrame {
	return s.windows
}

// Check clears every window whose period changed since the last check and
// returns the windows it cleared. A window whose clear fails is retried on
// the next check.
func (s *Scheduler) Check(ctx context.Context) []storage.TimeFrame {
	now := s.Now()
	var cleared []storage.TimeFrame
	for _, tf := range s.windows {
		start := tf.PeriodStart(now)
		prev, seen := s.current[tf]
		if !seen {
			s.current[tf] = start
			continue
		}
		if !start.After(prev) {
			continue
		}
		if err := s.clearer.ClearTimeFrame(ctx, tf); err != nil {
			s.logger.Error("failed to reset window", "time_frame", tf, "err", err)
			continue
		}
		s.current[tf] = start
		cleared = append(cleared, tf)
		s.logger.Info("window reset", "time_frame", tf, "period_start", start.Format(time.DateOnly))
	}
	return cleared
}

// Run checks on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}
