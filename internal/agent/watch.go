package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultWatchInterval = 5 * time.Minute

// WatchConfig configures periodic runs.
type WatchConfig struct {
	Interval time.Duration
	// MaxRuns stops the watch after this many runs; zero means unbounded.
	MaxRuns int
	Logger  *zap.Logger
}

// Watch repeats a run on a fixed interval. Runs never overlap: a tick that
// fires while a run is in progress is dropped.
type Watch struct {
	interval time.Duration
	maxRuns  int
	run      func(ctx context.Context)
	logger   *zap.Logger
}

func NewWatch(cfg WatchConfig, run func(ctx context.Context)) *Watch {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWatchInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Watch{
		interval: cfg.Interval,
		maxRuns:  cfg.MaxRuns,
		run:      run,
		logger:   cfg.Logger.Named("watch"),
	}
}

// Start runs once immediately and then on every tick. It blocks until ctx
// is cancelled or MaxRuns is reached, and returns the number of runs.
func (w *Watch) Start(ctx context.Context) int {
	w.logger.Info("watch started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	runs := 0
	defer func() { w.logger.Info("watch stopped", zap.Int("runs", runs)) }()
	for ctx.Err() == nil {
		w.run(ctx)
		runs++
		if w.maxRuns > 0 && runs >= w.maxRuns {
			break
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	return runs
}
