package dom

import (
	"context"
	"time"
)

// PollUntil evaluates predicate every interval until it holds or the
// timeout elapses. It is the single wait-for-condition primitive used
// by every interactive write step. Returns false on timeout or context
// cancellation; never panics.
func PollUntil(ctx context.Context, predicate func() bool, interval, timeout time.Duration) bool {
	if predicate() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if predicate() {
				return true
			}
		}
	}
}
