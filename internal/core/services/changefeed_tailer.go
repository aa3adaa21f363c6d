package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// ChangeFeedTailer subscribes to a container's change feed and forwards
// every delivered document to an emitter. It does not interpret the feed;
// delivery guarantees are those of the database.
type ChangeFeedTailer struct {
	feed  driven.ChangeFeed
	lease string

	mu      sync.Mutex
	handle  driven.ChangeFeedHandle
	stopped bool

	batches  atomic.Int64
	received atomic.Int64
}

// NewChangeFeedTailer creates a tailer that checkpoints in the lease container.
func NewChangeFeedTailer(feed driven.ChangeFeed, lease string) *ChangeFeedTailer {
	return &ChangeFeedTailer{
		feed:  feed,
		lease: lease,
	}
}

// Start subscribes to the feed. Batches are forwarded to emit one
// document at a time, so a full sink slows the feed down.
func (t *ChangeFeedTailer) Start(ctx context.Context, emit Emitter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle != nil {
		return nil
	}
	if t.stopped {
		return fmt.Errorf("start change feed: %w", domain.ErrClosed)
	}

	onBatch := func(ctx context.Context, docs []domain.Document) error {
		t.batches.Add(1)
		for _, doc := range docs {
			if err := emit(ctx, doc); err != nil {
				return err
			}
			t.received.Add(1)
		}
		return nil
	}

	handle, err := t.feed.StartChangeFeed(ctx, t.lease, onBatch)
	if err != nil {
		return fmt.Errorf("start change feed: %w", err)
	}
	t.handle = handle
	logger.Debug("change feed started (lease %s)", t.lease)
	return nil
}

// Stop ends the subscription. Safe to call more than once and before Start.
func (t *ChangeFeedTailer) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	handle := t.handle
	t.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Stop(ctx); err != nil {
		return fmt.Errorf("stop change feed: %w", err)
	}
	logger.Debug("change feed stopped after %d batches, %d documents", t.batches.Load(), t.received.Load())
	return nil
}

// Done is closed when the subscription ends. It is nil before Start.
func (t *ChangeFeedTailer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return nil
	}
	return t.handle.Done()
}

// Err returns the error that ended the subscription, if any.
func (t *ChangeFeedTailer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return nil
	}
	return t.handle.Err()
}

// Received returns the number of documents forwarded.
func (t *ChangeFeedTailer) Received() int64 {
	return t.received.Load()
}
