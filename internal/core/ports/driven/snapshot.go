package driven

import (
	"context"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// SnapshotBackend creates and opens snapshot logs on one kind of storage.
type SnapshotBackend interface {
	// Name returns the backend type.
	Name() domain.SnapshotBackendType

	// Create starts a new, empty log for a snapshot.
	Create(ctx context.Context, snapshotID string) (SnapshotLog, error)

	// Open opens an existing log for reading.
	// Returns domain.ErrNotFound if nothing was written for the snapshot.
	Open(ctx context.Context, snapshotID string) (SnapshotLog, error)

	// Location describes where a snapshot's records live.
	Location(snapshotID string) string
}

// SnapshotLog is an append-only log of serialized documents split into a
// bulk and a tail segment. Enumerate yields every bulk record before any
// tail record, each segment in append order.
//
// Append is single-writer: callers must not append concurrently.
type SnapshotLog interface {
	// Append writes one serialized document to a segment.
	// body is only valid for the duration of the call.
	Append(ctx context.Context, segment domain.Segment, body []byte) error

	// Enumerate streams records, bulk segment first.
	// The record channel is closed when enumeration ends; at most one
	// error is sent on the error channel.
	Enumerate(ctx context.Context) (<-chan domain.Record, <-chan error)

	// Delete removes everything written to the log.
	// Must not be called concurrently with Append.
	Delete(ctx context.Context) error

	// Close flushes buffered records and releases resources.
	// Closing an already closed log is a no-op.
	Close() error
}

// SnapshotCatalog persists snapshot metadata.
type SnapshotCatalog interface {
	// Save creates or updates a snapshot entry.
	Save(ctx context.Context, snapshot domain.Snapshot) error

	// Get retrieves a snapshot by ID.
	// Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (*domain.Snapshot, error)

	// List returns all snapshots, newest first.
	List(ctx context.Context) ([]domain.Snapshot, error)

	// Delete removes a snapshot entry.
	Delete(ctx context.Context, id string) error
}
