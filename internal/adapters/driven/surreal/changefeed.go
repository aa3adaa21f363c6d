package surreal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure changeFeed implements the interface.
var _ driven.ChangeFeedHandle = (*changeFeed)(nil)

const (
	feedPollInterval = 100 * time.Millisecond
	feedBatchSize    = 100
)

// changeSet is one entry of SHOW CHANGES.
type changeSet struct {
	Versionstamp uint64   `json:"versionstamp"`
	Changes      []change `json:"changes"`
}

type change struct {
	Update map[string]any `json:"update"`
}

// documents extracts stored bodies from updates, skipping deletes and
// table definitions.
func documents(sets []changeSet) []domain.Document {
	var docs []domain.Document
	for _, set := range sets {
		for _, ch := range set.Changes {
			if ch.Update == nil {
				continue
			}
			key, _ := ch.Update["key"].(string)
			body, _ := ch.Update["body"].(string)
			if key == "" || body == "" {
				continue
			}
			docs = append(docs, domain.Document{ID: key, Body: json.RawMessage(body)})
		}
	}
	return docs
}

type changeFeed struct {
	container *Container
	lease     *Container
	handler   driven.ChangeBatchHandler
	since     uint64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// StartChangeFeed writes the lease record to learn the current
// versionstamp, then polls SHOW CHANGES for writes made after it.
func (c *Container) StartChangeFeed(ctx context.Context, lease string, onBatch driven.ChangeBatchHandler) (driven.ChangeFeedHandle, error) {
	leases, err := c.db.Container(ctx, lease)
	if err != nil {
		return nil, fmt.Errorf("lease container: %w", err)
	}
	if onBatch == nil {
		return nil, fmt.Errorf("%w: change feed handler is required", domain.ErrInvalidInput)
	}

	f := &changeFeed{
		container: c,
		lease:     leases.(*Container),
		handler:   onBatch,
		done:      make(chan struct{}),
	}
	if err := f.checkpoint(ctx, 0); err != nil {
		return nil, err
	}
	vs, err := f.leaseVersionstamp(ctx)
	if err != nil {
		return nil, err
	}
	f.since = vs + 1

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	go f.run(feedCtx)
	return f, nil
}

func (f *changeFeed) leaseVersionstamp(ctx context.Context) (uint64, error) {
	sets, err := f.showChanges(ctx, f.lease.name, 0, 0)
	if err != nil {
		return 0, err
	}
	var vs uint64
	for _, set := range sets {
		if set.Versionstamp > vs {
			vs = set.Versionstamp
		}
	}
	if vs == 0 {
		return 0, fmt.Errorf("lease table %s has no change feed entries", f.lease.name)
	}
	return vs, nil
}

func (f *changeFeed) showChanges(ctx context.Context, table string, since uint64, limit int) ([]changeSet, error) {
	sql := fmt.Sprintf("SHOW CHANGES FOR TABLE %s SINCE %d", quoteIdent(table), since)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	results, err := query[[]changeSet](ctx, f.container.db.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("reading changes of %s: %w", table, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].Result, nil
}

func (f *changeFeed) run(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()

	for {
		sets, err := f.showChanges(ctx, f.container.name, f.since, feedBatchSize)
		if err != nil && ctx.Err() == nil && !isRetryable(err) {
			f.fail(err)
			return
		}

		if len(sets) > 0 {
			if docs := documents(sets); len(docs) > 0 {
				if err := f.handler(ctx, docs); err != nil {
					if ctx.Err() == nil {
						f.fail(err)
					}
					return
				}
			}
			last := sets[len(sets)-1].Versionstamp
			f.since = last + 1
			if err := f.checkpoint(ctx, last); err != nil {
				logger.Debug("surreal: checkpoint for %s failed: %v", f.container.name, err)
			}
			if len(sets) == feedBatchSize {
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

// checkpoint records the feed position in the lease container.
func (f *changeFeed) checkpoint(ctx context.Context, position uint64) error {
	body, err := json.Marshal(map[string]any{
		domain.IDField: f.container.name,
		"position":     position,
	})
	if err != nil {
		return err
	}
	doc, err := domain.NewDocument(body)
	if err != nil {
		return err
	}
	return f.lease.put(ctx, doc)
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
