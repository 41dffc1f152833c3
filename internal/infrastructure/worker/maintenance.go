package worker

import (
	"context"
	"time"
)

// Sweeper closes records abandoned in PENDING
type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// SpendRefresher republishes month-to-date spend
type SpendRefresher interface {
	RefreshSpend(ctx context.Context) (int64, error)
}

// SweepConfig tunes the stale-record sweep
type SweepConfig struct {
	Interval  time.Duration
	OlderThan time.Duration
	BatchSize int
}

// DefaultSweepConfig returns default sweep settings
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  5 * time.Minute,
		OlderThan: time.Hour,
		BatchSize: 100,
	}
}

// NewStaleSweepTask returns a task that closes stale PENDING records
func NewStaleSweepTask(s Sweeper, cfg SweepConfig) Task {
	return func(ctx context.Context) error {
		_, err := s.SweepStale(ctx, cfg.OlderThan, cfg.BatchSize)
		return err
	}
}

// NewSpendGaugeTask returns a task that refreshes the month spend gauge
func NewSpendGaugeTask(r SpendRefresher) Task {
	return func(ctx context.Context) error {
		_, err := r.RefreshSpend(ctx)
		return err
	}
}
