// Package schedule holds the interval gating shared by every periodic task.
package schedule

import (
	"context"
	"time"
)

// Due reports whether at least interval has elapsed between last and now.
// A zero last time is always due.
func Due(now, last time.Time, interval time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= interval
}

// Every calls fn on each tick until ctx is cancelled.
func Every(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
