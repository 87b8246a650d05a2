package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BulkRefresher runs one bulk refresh pass.
type BulkRefresher interface {
	RefreshStale(ctx context.Context) ([]Result, error)
}

// Scheduler runs bulk refreshes on a fixed interval.
type Scheduler struct {
	refresher BulkRefresher
	interval  time.Duration
	logger    *zap.Logger
}

// NewScheduler constructs a Scheduler. A non-positive interval disables it.
func NewScheduler(refresher BulkRefresher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{refresher: refresher, interval: interval, logger: logger}
}

// Enabled reports whether Run does anything.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0
}

// Run blocks, refreshing stale items every interval until ctx is done.
// Passes never overlap: a slow pass delays the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	results, err := s.refresher.RefreshStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("scheduled refresh failed", zap.Error(err))
		}
		return
	}
	counts := Summarize(results)
	fields := []zap.Field{
		zap.Int("items", len(results)),
		zap.Duration("duration", time.Since(start)),
	}
	for outcome, n := range counts {
		fields = append(fields, zap.Int(string(outcome), n))
	}
	s.logger.Info("scheduled refresh finished", fields...)
}
