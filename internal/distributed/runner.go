package distributed

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Runner drives one Distributed on a fixed interval.
type Runner struct {
	Distributed *Distributed
	Interval    time.Duration
	Logger      *slog.Logger
}

func (r *Runner) Run(ctx context.Context) error {
	if r.Distributed == nil {
		return fmt.Errorf("distributed is required")
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	r.tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// RunOnce pulls a batch and, when anything is queued, runs and flushes it.
func (r *Runner) RunOnce(ctx context.Context) error {
	if err := r.Distributed.PullUpdates(ctx); err != nil {
		return err
	}
	if r.Distributed.PendingQueryCount() == 0 && r.Distributed.CompletedCount() == 0 {
		return nil
	}
	return r.Distributed.RunQueries(ctx)
}

func (r *Runner) tick(ctx context.Context) {
	if err := r.RunOnce(ctx); err != nil && r.Logger != nil {
		r.Logger.ErrorContext(ctx, "distributed cycle failed", slog.Any("error", err))
	}
}
