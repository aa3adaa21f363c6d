package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// newTestDatabase returns a memory database with a source container,
// its lease container and a destination container.
func newTestDatabase(t *testing.T, pageSize int) (*memory.Database, *memory.Container, *memory.Container) {
	t.Helper()
	db := memory.NewDatabase(pageSize)
	path := domain.PartitionKeyPath{"id"}

	source, err := db.Create(domain.ContainerConfiguration{Name: "source", PartitionKeyPath: path, Throughput: 100000})
	require.NoError(t, err)
	_, err = db.Create(domain.ContainerConfiguration{Name: domain.LeaseContainerName("source"), PartitionKeyPath: path, Throughput: 100000})
	require.NoError(t, err)
	dest, err := db.Create(domain.ContainerConfiguration{Name: "dest", PartitionKeyPath: path, Throughput: 100000})
	require.NoError(t, err)
	return db, source, dest
}

// collector records emitted documents.
type collector struct {
	mu   sync.Mutex
	docs []domain.Document
}

func (c *collector) emit(_ context.Context, doc domain.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.docs))
	for i, d := range c.docs {
		ids[i] = d.ID
	}
	return ids
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// recordingObserver keeps every replay event.
type recordingObserver struct {
	mu     sync.Mutex
	events []domain.ReplayEvent
}

func (o *recordingObserver) Observe(event domain.ReplayEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) count(kind domain.ReplayEventKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (o *recordingObserver) kindsFor(correlationID string) []domain.ReplayEventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var kinds []domain.ReplayEventKind
	for _, e := range o.events {
		if e.CorrelationID == correlationID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// docStream feeds documents into a closed channel.
func docStream(t *testing.T, bodies ...string) <-chan domain.Document {
	t.Helper()
	ch := make(chan domain.Document, len(bodies))
	for _, body := range bodies {
		ch <- domain.MustDocument(body)
	}
	close(ch)
	return ch
}

func numberedDocs(n int) []string {
	bodies := make([]string, n)
	for i := range bodies {
		bodies[i] = fmt.Sprintf(`{"id":"d%04d","n":%d}`, i, i)
	}
	return bodies
}
