package driving

import "context"

// Scheduler runs captures on an interval.
type Scheduler interface {
	// Start blocks, capturing immediately and then every interval, until
	// Stop is called or ctx is done.
	Start(ctx context.Context) error

	// Stop ends the loop and waits for a running capture.
	Stop() error
}
