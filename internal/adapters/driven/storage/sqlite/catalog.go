package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure Catalog implements the interface.
var _ driven.SnapshotCatalog = (*Catalog)(nil)

// Catalog persists snapshot metadata in the snapshots table.
type Catalog struct {
	store *Store
}

// Save creates or updates a snapshot entry.
func (c *Catalog) Save(ctx context.Context, snapshot domain.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("%w: snapshot id is required", domain.ErrInvalidInput)
	}

	var pk string
	if len(snapshot.PartitionKeyPath) > 0 {
		pk = snapshot.PartitionKeyPath.String()
	}

	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, container, partition_key, backend, location, state,
			bulk_count, tail_count, size_bytes, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			container = excluded.container,
			partition_key = excluded.partition_key,
			backend = excluded.backend,
			location = excluded.location,
			state = excluded.state,
			bulk_count = excluded.bulk_count,
			tail_count = excluded.tail_count,
			size_bytes = excluded.size_bytes,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, snapshot.ID, snapshot.Container, pk, snapshot.Backend, snapshot.Location, string(snapshot.State),
		snapshot.BulkCount, snapshot.TailCount, snapshot.SizeBytes,
		snapshot.StartedAt.UTC(), nullTime(snapshot.CompletedAt))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (c *Catalog) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	row := c.store.db.QueryRowContext(ctx, `
		SELECT id, container, partition_key, backend, location, state,
			bulk_count, tail_count, size_bytes, started_at, completed_at
		FROM snapshots WHERE id = ?
	`, id)

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// List returns all snapshots, newest first.
func (c *Catalog) List(ctx context.Context) ([]domain.Snapshot, error) {
	rows, err := c.store.db.QueryContext(ctx, `
		SELECT id, container, partition_key, backend, location, state,
			bulk_count, tail_count, size_bytes, started_at, completed_at
		FROM snapshots ORDER BY started_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, rows.Err()
}

// Delete removes a snapshot entry.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.store.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var s domain.Snapshot
	var pk, state string
	var startedAt time.Time
	var completedAt sql.NullTime

	err := row.Scan(&s.ID, &s.Container, &pk, &s.Backend, &s.Location, &state,
		&s.BulkCount, &s.TailCount, &s.SizeBytes, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	if pk != "" {
		path, err := domain.ParsePartitionKeyPath(pk)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", s.ID, err)
		}
		s.PartitionKeyPath = path
	}
	s.State = domain.SnapshotState(state)
	s.StartedAt = startedAt
	if completedAt.Valid {
		s.CompletedAt = completedAt.Time
	}
	return &s, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
