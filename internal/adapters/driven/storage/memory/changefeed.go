package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure changeFeed implements the interface.
var _ driven.ChangeFeedHandle = (*changeFeed)(nil)

// feedBatchSize caps the documents delivered in one batch.
const feedBatchSize = 50

// changeFeed delivers a container's writes to a handler from a single
// goroutine, in commit order.
type changeFeed struct {
	container *Container
	lease     *Container
	handler   driven.ChangeBatchHandler
	position  int

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	err      error
	stopOnce sync.Once
}

// StartChangeFeed subscribes to writes committed after the call returns.
// The lease container must exist; it receives the checkpoint after every
// delivered batch.
func (c *Container) StartChangeFeed(ctx context.Context, lease string, onBatch driven.ChangeBatchHandler) (driven.ChangeFeedHandle, error) {
	leases, ok := c.db.lookup(lease)
	if !ok {
		return nil, fmt.Errorf("lease container %s: %w", lease, domain.ErrNotFound)
	}
	if onBatch == nil {
		return nil, fmt.Errorf("change feed handler: %w", domain.ErrInvalidInput)
	}

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &changeFeed{
		container: c,
		lease:     leases,
		handler:   onBatch,
		position:  c.position(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.feeds = append(c.feeds, f)
	c.mu.Unlock()

	go f.run(feedCtx)
	return f, nil
}

func (f *changeFeed) run(ctx context.Context) {
	defer close(f.done)

	for {
		batch, notify := f.container.changesSince(f.position, feedBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				continue
			}
		}

		if err := f.handler(ctx, batch); err != nil {
			if ctx.Err() == nil {
				f.fail(err)
			}
			return
		}
		f.position += len(batch)
		f.checkpoint()
	}
}

func (f *changeFeed) checkpoint() {
	body, _ := json.Marshal(map[string]any{
		"id":       f.container.name,
		"position": f.position,
	})
	doc, err := domain.NewDocument(body)
	if err != nil {
		return
	}
	f.lease.mu.Lock()
	f.lease.docs[doc.ID] = doc.Body
	f.lease.mu.Unlock()
}

func (f *changeFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// Stop cancels the subscription and waits for the delivery goroutine.
func (f *changeFeed) Stop(ctx context.Context) error {
	f.stopOnce.Do(f.cancel)

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when delivery ends.
func (f *changeFeed) Done() <-chan struct{} {
	return f.done
}

// Err returns the error that ended delivery.
func (f *changeFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// closeFeeds fails every subscription when the container is dropped.
func (c *Container) closeFeeds() {
	c.mu.Lock()
	feeds := c.feeds
	c.feeds = nil
	c.mu.Unlock()

	for _, f := range feeds {
		f.fail(fmt.Errorf("container %s dropped: %w", c.name, domain.ErrClosed))
		f.stopOnce.Do(f.cancel)
	}
}
