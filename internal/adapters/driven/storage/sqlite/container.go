package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure Database implements the interface.
var _ driven.Database = (*Database)(nil)

// Ensure Container implements the interface.
var _ driven.Container = (*Container)(nil)

// DefaultPageSize is the number of documents returned per page.
const DefaultPageSize = 100

// Database exposes the containers table as a document database.
type Database struct {
	store    *Store
	pageSize int
	owned    bool
}

// OpenDatabase opens a database file for use as a document database.
// Closing the database closes the file.
func OpenDatabase(path string, pageSize int) (*Database, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	db := store.Database(pageSize)
	db.owned = true
	return db, nil
}

// Container opens an existing container.
func (d *Database) Container(ctx context.Context, name string) (driven.Container, error) {
	var pk string
	var throughput int
	err := d.store.db.QueryRowContext(ctx,
		"SELECT partition_key, throughput FROM containers WHERE name = ?", name).Scan(&pk, &throughput)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("container %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}

	path, err := domain.ParsePartitionKeyPath(pk)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", name, err)
	}
	return &Container{db: d, name: name, path: path}, nil
}

// ContainerExists reports whether a container exists.
func (d *Database) ContainerExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM containers WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking container: %w", err)
	}
	return n > 0, nil
}

// CreateContainer creates a container.
func (d *Database) CreateContainer(ctx context.Context, cfg domain.ContainerConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exists, err := d.ContainerExists(ctx, cfg.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("container %s: %w", cfg.Name, domain.ErrAlreadyExists)
	}

	_, err = d.store.db.ExecContext(ctx,
		"INSERT INTO containers (name, partition_key, throughput) VALUES (?, ?, ?)",
		cfg.Name, cfg.PartitionKeyPath.String(), cfg.Throughput)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	return nil
}

// DropContainer deletes a container, its documents and its change log.
func (d *Database) DropContainer(ctx context.Context, name string) error {
	if _, err := d.store.db.ExecContext(ctx, "DELETE FROM containers WHERE name = ?", name); err != nil {
		return fmt.Errorf("dropping container: %w", err)
	}
	return nil
}

// Close closes the underlying store if the database opened it.
func (d *Database) Close() error {
	if d.owned {
		return d.store.Close()
	}
	return nil
}

// Container is a container stored in the documents table.
type Container struct {
	db   *Database
	name string
	path domain.PartitionKeyPath
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
func (c *Container) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE container = ?", c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// ReadPage returns documents with identifiers after continuation, in
// identifier order. A non-empty query is used as an SQL predicate over
// the body column, e.g. json_extract(body, '$.tenant') = 'a'.
func (c *Container) ReadPage(ctx context.Context, query, continuation string) (driven.Page, error) {
	stmt := "SELECT id, body FROM documents WHERE container = ? AND id > ?"
	if query != "" {
		stmt += " AND (" + query + ")"
	}
	stmt += " ORDER BY id LIMIT ?"

	rows, err := c.db.store.db.QueryContext(ctx, stmt, c.name, continuation, c.db.pageSize+1)
	if err != nil {
		if isBusy(err) {
			return driven.Page{RateLimited: true}, nil
		}
		return driven.Page{}, fmt.Errorf("reading documents: %w", err)
	}
	defer rows.Close()

	var page driven.Page
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return driven.Page{}, fmt.Errorf("scanning document: %w", err)
		}
		page.Items = append(page.Items, domain.Document{ID: id, Body: body})
	}
	if err := rows.Err(); err != nil {
		if isBusy(err) {
			return driven.Page{RateLimited: true}, nil
		}
		return driven.Page{}, fmt.Errorf("reading documents: %w", err)
	}

	if len(page.Items) > c.db.pageSize {
		page.Items = page.Items[:c.db.pageSize]
		page.Continuation = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// Upsert inserts or replaces a document. A write that cannot take the
// database lock is reported as rate limited.
func (c *Container) Upsert(ctx context.Context, _ domain.PartitionKeyValue, body []byte) (driven.UpsertResult, error) {
	doc, err := domain.NewDocument(body)
	if err != nil {
		return driven.UpsertResult{Status: "invalid document: " + err.Error()}, nil
	}
	if err := c.put(ctx, doc); err != nil {
		if isBusy(err) {
			return driven.UpsertResult{RateLimited: true, Status: "database is locked"}, nil
		}
		return driven.UpsertResult{}, err
	}
	return driven.UpsertResult{Success: true, Status: "ok"}, nil
}

// Put writes a document directly. Used for seeding.
func (c *Container) Put(ctx context.Context, body string) error {
	doc, err := domain.NewDocument([]byte(body))
	if err != nil {
		return err
	}
	return c.put(ctx, doc)
}

func (c *Container) put(ctx context.Context, doc domain.Document) error {
	_, err := c.db.store.db.ExecContext(ctx, `
		INSERT INTO documents (container, id, body) VALUES (?, ?, ?)
		ON CONFLICT(container, id) DO UPDATE SET body = excluded.body
	`, c.name, doc.ID, []byte(doc.Body))
	if err != nil {
		return fmt.Errorf("writing document %s: %w", doc.ID, err)
	}
	return nil
}
