package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure Container implements the interface.
var _ driven.Container = (*Container)(nil)

// Container is an in-memory document container.
//
// Upserts are throttled by a token bucket sized from the provisioned
// throughput, so replaying into it exercises the same backpressure path as
// a real database. Tests can additionally script throttled reads and
// writes and rejected writes.
type Container struct {
	db       *Database
	name     string
	path     domain.PartitionKeyPath
	pageSize int
	limiter  *rate.Limiter

	mu      sync.RWMutex
	docs    map[string]json.RawMessage
	changes []domain.Document
	notify  chan struct{}
	feeds   []*changeFeed

	// Scripted behaviour for tests.
	readThrottle  map[string]throttle
	writeThrottle map[string]throttle
	rejects       map[string]string
	readHook      func(cursor string)
	reads         int
	upserts       int
}

type throttle struct {
	remaining  int
	retryAfter time.Duration
}

func newContainer(db *Database, cfg domain.ContainerConfiguration, pageSize int) *Container {
	return &Container{
		db:            db,
		name:          cfg.Name,
		path:          cfg.PartitionKeyPath,
		pageSize:      pageSize,
		limiter:       rate.NewLimiter(rate.Limit(cfg.Throughput), cfg.Throughput),
		docs:          make(map[string]json.RawMessage),
		notify:        make(chan struct{}),
		readThrottle:  make(map[string]throttle),
		writeThrottle: make(map[string]throttle),
		rejects:       make(map[string]string),
	}
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// PartitionKeyPath returns the container's partition key path.
func (c *Container) PartitionKeyPath(_ context.Context) (domain.PartitionKeyPath, error) {
	return c.path, nil
}

// Count returns the number of documents.
func (c *Container) Count(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.docs)), nil
}

// ReadPage returns up to pageSize documents with identifiers after the
// continuation, in identifier order. Queries are not supported: a
// non-empty query is ignored with a warning at the start of each scan.
func (c *Container) ReadPage(ctx context.Context, query string, continuation string) (driven.Page, error) {
	if err := ctx.Err(); err != nil {
		return driven.Page{}, err
	}
	if query != "" && continuation == "" {
		logger.Warn("memory container %s: query %q ignored, reading every document", c.name, query)
	}

	c.mu.Lock()
	c.reads++
	if t, ok := c.readThrottle[continuation]; ok && t.remaining > 0 {
		t.remaining--
		c.readThrottle[continuation] = t
		c.mu.Unlock()
		return driven.Page{RateLimited: true, RetryAfter: t.retryAfter}, nil
	}
	hook := c.readHook

	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		if id > continuation {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := driven.Page{}
	for i, id := range ids {
		if i == c.pageSize {
			break
		}
		page.Items = append(page.Items, domain.Document{ID: id, Body: c.docs[id]})
	}
	if len(ids) > c.pageSize {
		page.Continuation = ids[c.pageSize-1]
	}
	c.mu.Unlock()

	if hook != nil {
		hook(continuation)
	}
	return page, nil
}

// Upsert inserts or replaces a document.
func (c *Container) Upsert(ctx context.Context, _ domain.PartitionKeyValue, body []byte) (driven.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return driven.UpsertResult{}, err
	}

	c.mu.Lock()
	c.upserts++
	c.mu.Unlock()

	doc, err := domain.NewDocument(body)
	if err != nil {
		return driven.UpsertResult{Status: "400 bad request"}, nil
	}

	c.mu.Lock()
	if t, ok := c.writeThrottle[doc.ID]; ok && t.remaining > 0 {
		t.remaining--
		c.writeThrottle[doc.ID] = t
		c.mu.Unlock()
		return driven.UpsertResult{RateLimited: true, RetryAfter: t.retryAfter, Status: "429 too many requests"}, nil
	}
	if status, ok := c.rejects[doc.ID]; ok {
		c.mu.Unlock()
		return driven.UpsertResult{Status: status}, nil
	}
	c.mu.Unlock()

	if wait := c.reserve(); wait > 0 {
		return driven.UpsertResult{RateLimited: true, RetryAfter: wait, Status: "429 too many requests"}, nil
	}

	c.put(doc)
	return driven.UpsertResult{Success: true, Status: "200 ok"}, nil
}

// reserve takes a token from the throughput bucket, returning how long
// the caller would have had to wait if none was available.
func (c *Container) reserve() time.Duration {
	r := c.limiter.Reserve()
	if !r.OK() {
		return time.Second
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
	}
	return delay
}

// Put writes a document directly, bypassing throttling. The change is
// delivered to change feed subscribers like any other write.
func (c *Container) Put(body string) error {
	doc, err := domain.NewDocument([]byte(body))
	if err != nil {
		return err
	}
	c.put(doc)
	return nil
}

// Seed writes n synthetic documents.
func (c *Container) Seed(n int) error {
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"id":"doc-%06d","tenant":"tenant-%d","value":%d}`, i, i%10, i)
		if err := c.Put(body); err != nil {
			return err
		}
	}
	return nil
}

// Document returns the stored body of a document.
func (c *Container) Document(id string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	body, ok := c.docs[id]
	return body, ok
}

// IDs returns the stored document identifiers in order.
func (c *Container) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ThrottleReads makes the next times reads at continuation rate limited.
func (c *Container) ThrottleReads(continuation string, times int, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readThrottle[continuation] = throttle{remaining: times, retryAfter: retryAfter}
}

// ThrottleWrites makes the next times upserts of id rate limited.
func (c *Container) ThrottleWrites(id string, times int, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeThrottle[id] = throttle{remaining: times, retryAfter: retryAfter}
}

// RejectWrites makes every upsert of id fail with status.
func (c *Container) RejectWrites(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects[id] = status
}

// OnRead registers a hook called after every successful page read with
// the cursor that was read. Tests use it to write during a scan.
func (c *Container) OnRead(hook func(cursor string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readHook = hook
}

// Reads returns the number of ReadPage calls.
func (c *Container) Reads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reads
}

// Upserts returns the number of Upsert calls.
func (c *Container) Upserts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.upserts
}

func (c *Container) put(doc domain.Document) {
	c.mu.Lock()
	c.docs[doc.ID] = doc.Body
	c.changes = append(c.changes, doc)
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// changesSince returns changes after position and a channel closed on the
// next write.
func (c *Container) changesSince(position, limit int) ([]domain.Document, <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if position >= len(c.changes) {
		return nil, c.notify
	}
	end := len(c.changes)
	if limit > 0 && end-position > limit {
		end = position + limit
	}
	batch := make([]domain.Document, end-position)
	copy(batch, c.changes[position:end])
	return batch, c.notify
}

func (c *Container) position() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.changes)
}
