package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure changeFeed implements the interface.
var _ driven.ChangeFeedHandle = (*changeFeed)(nil)

const (
	// feedPollInterval is how often an idle change feed polls.
	feedPollInterval = 50 * time.Millisecond

	// feedBatchSize caps the changes delivered in one batch.
	feedBatchSize = 100
)

// changeFeed polls the changes table, which triggers on the documents
// table keep in commit order.
type changeFeed struct {
	container *Container
	lease     *Container
	handler   driven.ChangeBatchHandler
	position  int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

type change struct {
	seq  int64
	id   string
	body []byte
}

// StartChangeFeed subscribes to writes committed after the call returns.
// The checkpoint is written to the lease container after every batch.
func (c *Container) StartChangeFeed(ctx context.Context, lease string, onBatch driven.ChangeBatchHandler) (driven.ChangeFeedHandle, error) {
	leases, err := c.db.Container(ctx, lease)
	if err != nil {
		return nil, fmt.Errorf("lease container: %w", err)
	}
	if onBatch == nil {
		return nil, fmt.Errorf("%w: change feed handler is required", domain.ErrInvalidInput)
	}

	var position int64
	err = c.db.store.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM changes WHERE container = ?", c.name).Scan(&position)
	if err != nil {
		return nil, fmt.Errorf("reading change position: %w", err)
	}

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &changeFeed{
		container: c,
		lease:     leases.(*Container),
		handler:   onBatch,
		position:  position,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go f.run(feedCtx)
	return f, nil
}

func (f *changeFeed) run(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()

	for {
		batch, err := f.poll(ctx)
		if err != nil {
			if ctx.Err() == nil && !isBusy(err) {
				f.fail(err)
				return
			}
		}

		if len(batch) > 0 {
			docs := make([]domain.Document, 0, len(batch))
			for _, ch := range batch {
				docs = append(docs, domain.Document{ID: ch.id, Body: ch.body})
			}
			if err := f.handler(ctx, docs); err != nil {
				if ctx.Err() == nil {
					f.fail(err)
				}
				return
			}
			f.position = batch[len(batch)-1].seq
			f.checkpoint(ctx)
			if len(batch) == feedBatchSize {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *changeFeed) poll(ctx context.Context) ([]change, error) {
	exists, err := f.container.db.ContainerExists(ctx, f.container.name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("container %s dropped: %w", f.container.name, domain.ErrClosed)
	}

	rows, err := f.container.db.store.db.QueryContext(ctx, `
		SELECT seq, id, body FROM changes
		WHERE container = ? AND seq > ?
		ORDER BY seq LIMIT ?
	`, f.container.name, f.position, feedBatchSize)
	if err != nil {
		return nil, fmt.Errorf("reading changes: %w", err)
	}
	defer rows.Close()

	var batch []change
	for rows.Next() {
		var ch change
		if err := rows.Scan(&ch.seq, &ch.id, &ch.body); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		batch = append(batch, ch)
	}
	return batch, rows.Err()
}

// checkpoint records the feed position. A failed checkpoint only means a
// restarted feed would redeliver, so it is not fatal.
func (f *changeFeed) checkpoint(ctx context.Context) {
	body, err := json.Marshal(map[string]any{
		domain.IDField: f.container.name,
		"position":     f.position,
	})
	if err != nil {
		return
	}
	doc, err := domain.NewDocument(body)
	if err != nil {
		return
	}
	_ = f.lease.put(ctx, doc)
}

func (f *changeFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// Stop cancels the subscription and waits for the poller to exit.
func (f *changeFeed) Stop(ctx context.Context) error {
	f.stopOnce.Do(f.cancel)

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the poller exits.
func (f *changeFeed) Done() <-chan struct{} {
	return f.done
}

// Err returns the error that ended the subscription.
func (f *changeFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
