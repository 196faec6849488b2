package job

import (
	"context"
	"time"
)

// Sleep returns a step that holds the core for ms milliseconds, the way a
// handler stuck on a slow peripheral would. It gives up early when ctx ends
// and reports how much of the wait was left.
func Sleep(ms int64) func(context.Context) (time.Duration, error) {
	total := time.Duration(ms) * time.Millisecond
	return func(ctx context.Context) (time.Duration, error) {
		start := time.Now()
		select {
		case <-ctx.Done():
			remaining := total - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
			return remaining, ctx.Err()
		case <-time.After(total):
			return 0, nil
		}
	}
}
