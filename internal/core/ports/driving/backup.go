package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// BackupService captures consistent snapshots of a container.
type BackupService interface {
	// Backup captures the container into a new snapshot and blocks until
	// the capture completes, fails or ctx is cancelled. A cancelled
	// capture leaves no snapshot behind.
	Backup(ctx context.Context, req BackupRequest) (*BackupResult, error)

	// Status returns progress of the running capture.
	// Running is false when no capture is active.
	Status(ctx context.Context) (*domain.CaptureStats, bool)
}

// BackupRequest describes a capture.
type BackupRequest struct {
	// Container is the source container name.
	Container string

	// Query restricts the bulk scan; empty captures everything.
	Query string
}

// BackupResult summarises a finished capture.
type BackupResult struct {
	Snapshot domain.Snapshot
	Elapsed  time.Duration
}
