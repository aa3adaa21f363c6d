package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure SnapshotCatalog implements the interface.
var _ driven.SnapshotCatalog = (*SnapshotCatalog)(nil)

// SnapshotCatalog is an in-memory snapshot catalog.
type SnapshotCatalog struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
}

// NewSnapshotCatalog creates an empty catalog.
func NewSnapshotCatalog() *SnapshotCatalog {
	return &SnapshotCatalog{snapshots: make(map[string]domain.Snapshot)}
}

// Save creates or updates a snapshot entry.
func (c *SnapshotCatalog) Save(_ context.Context, snapshot domain.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot id: %w", domain.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[snapshot.ID] = snapshot
	return nil
}

// Get retrieves a snapshot by ID.
func (c *SnapshotCatalog) Get(_ context.Context, id string) (*domain.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
	}
	return &s, nil
}

// List returns all snapshots, newest first.
func (c *SnapshotCatalog) List(_ context.Context) ([]domain.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Snapshot, 0, len(c.snapshots))
	for _, s := range c.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Delete removes a snapshot entry.
func (c *SnapshotCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.snapshots[id]; !ok {
		return fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
	}
	delete(c.snapshots, id)
	return nil
}
