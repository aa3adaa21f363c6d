package driving

import (
	"context"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// SnapshotService manages captured snapshots.
type SnapshotService interface {
	// List returns all snapshots, newest first.
	List(ctx context.Context) ([]domain.Snapshot, error)

	// Get returns a snapshot by ID.
	Get(ctx context.Context, id string) (*domain.Snapshot, error)

	// Delete removes a snapshot's records and its catalog entry.
	Delete(ctx context.Context, id string) error

	// Prune deletes the oldest complete snapshots of a container so that
	// at most keep remain. It returns the number deleted.
	Prune(ctx context.Context, container string, keep int) (int, error)
}
