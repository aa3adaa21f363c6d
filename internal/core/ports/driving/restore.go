package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// RestoreService replays snapshots into containers.
type RestoreService interface {
	// Restore replays a complete snapshot into the destination and blocks
	// until every document is inserted or failed, or ctx is cancelled.
	Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error)

	// Status returns live replay counters.
	Status(ctx context.Context) domain.ReplayStats
}

// RestoreRequest describes a replay.
type RestoreRequest struct {
	// SnapshotID selects the snapshot to replay.
	SnapshotID string

	// Destination is the container to create. An empty partition key path
	// reuses the source container's path recorded with the snapshot.
	Destination domain.ContainerConfiguration

	// DropIfExists drops an existing destination before creating it.
	DropIfExists bool

	// Reuse writes into an existing destination instead of failing.
	Reuse bool
}

// RestoreResult summarises a finished replay.
type RestoreResult struct {
	Stats   domain.ReplayStats
	Elapsed time.Duration
}
