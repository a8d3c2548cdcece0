package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// SleepFunc waits for d or until ctx ends
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// GroupOptions controls RunGroups
type GroupOptions struct {
	// Size is the number of items run together (default 3)
	Size int
	// Pause is waited between consecutive groups
	Pause time.Duration
	// Sleep overrides the clock, for tests
	Sleep SleepFunc
}

// RunGroups splits items into consecutive groups of opts.Size, runs each
// group concurrently and waits for it before pausing and starting the next.
// fn owns its own error handling; results keep input order. The only error
// returned is ctx ending during a pause, with results filled so far.
func RunGroups[T, R any](ctx context.Context, items []T, opts GroupOptions, fn func(ctx context.Context, item T) R) ([]R, error) {
	size := opts.Size
	if size <= 0 {
		size = 3
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	out := make([]R, len(items))
	for start := 0; start < len(items); start += size {
		if start > 0 && opts.Pause > 0 {
			if err := sleep(ctx, opts.Pause); err != nil {
				return out, err
			}
		}

		end := min(start+size, len(items))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				out[i] = fn(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return out, nil
}
