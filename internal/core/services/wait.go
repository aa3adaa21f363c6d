package services

import (
	"context"
	"errors"
	"time"
)

// errStopped is returned by a stage that was told to stop by its owner
// rather than through context cancellation.
var errStopped = errors.New("stage stopped")

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
