package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure Database implements the interface.
var _ driven.Database = (*Database)(nil)

// DefaultPageSize is the number of documents returned per page.
const DefaultPageSize = 100

// Database is an in-process document database. It backs the memory://
// URL scheme and is used as a fake in tests.
type Database struct {
	mu         sync.RWMutex
	containers map[string]*Container
	pageSize   int
}

// NewDatabase creates an empty database. pageSize <= 0 uses DefaultPageSize.
func NewDatabase(pageSize int) *Database {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Database{
		containers: make(map[string]*Container),
		pageSize:   pageSize,
	}
}

// Container opens an existing container.
func (d *Database) Container(_ context.Context, name string) (driven.Container, error) {
	c, err := d.Get(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the concrete container, for tests that script throttling.
func (d *Database) Get(name string) (*Container, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.containers[name]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", name, domain.ErrNotFound)
	}
	return c, nil
}

// ContainerExists reports whether a container exists.
func (d *Database) ContainerExists(_ context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.containers[name]
	return ok, nil
}

// CreateContainer creates a container.
func (d *Database) CreateContainer(_ context.Context, cfg domain.ContainerConfiguration) error {
	_, err := d.Create(cfg)
	return err
}

// Create creates a container and returns it.
func (d *Database) Create(cfg domain.ContainerConfiguration) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.containers[cfg.Name]; ok {
		return nil, fmt.Errorf("container %s: %w", cfg.Name, domain.ErrAlreadyExists)
	}
	c := newContainer(d, cfg, d.pageSize)
	d.containers[cfg.Name] = c
	return c, nil
}

// DropContainer deletes a container. Dropping a missing container is a no-op.
func (d *Database) DropContainer(_ context.Context, name string) error {
	d.mu.Lock()
	c, ok := d.containers[name]
	delete(d.containers, name)
	d.mu.Unlock()

	if ok {
		c.closeFeeds()
	}
	return nil
}

// Names returns the container names in sorted order.
func (d *Database) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.containers))
	for name := range d.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close is a no-op for the memory database.
func (d *Database) Close() error {
	return nil
}

// lookup is used by change feeds to find their lease container.
func (d *Database) lookup(name string) (*Container, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.containers[name]
	return c, ok
}
