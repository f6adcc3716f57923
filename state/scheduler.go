package state

import (
	"context"
	"time"
)

// RepeatTask runs fun after delay and then every interval until ctx is done.
// It blocks, so callers run it on its own goroutine.
func RepeatTask(ctx context.Context, fun func(ctx context.Context) error, delay, interval time.Duration) error {
	if err := Sleep(ctx, delay); err != nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fun(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ScheduleTask runs fun once after delay unless ctx is cancelled first.
func ScheduleTask(ctx context.Context, fun func(ctx context.Context) error, delay time.Duration) error {
	if err := Sleep(ctx, delay); err != nil {
		return nil
	}
	return fun(ctx)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
