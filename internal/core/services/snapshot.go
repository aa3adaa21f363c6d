package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure SnapshotService implements the interface.
var _ driving.SnapshotService = (*SnapshotService)(nil)

// SnapshotService manages the snapshot catalog and the records behind it.
type SnapshotService struct {
	catalog  driven.SnapshotCatalog
	backends map[domain.SnapshotBackendType]driven.SnapshotBackend
}

// NewSnapshotService creates a snapshot service.
func NewSnapshotService(catalog driven.SnapshotCatalog, backends ...driven.SnapshotBackend) *SnapshotService {
	byName := make(map[domain.SnapshotBackendType]driven.SnapshotBackend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &SnapshotService{catalog: catalog, backends: byName}
}

// List returns all snapshots, newest first.
func (s *SnapshotService) List(ctx context.Context) ([]domain.Snapshot, error) {
	snapshots, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// Get returns a snapshot by ID.
func (s *SnapshotService) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: snapshot id is required", domain.ErrInvalidInput)
	}
	return s.catalog.Get(ctx, id)
}

// Delete removes the snapshot's records, then its catalog entry.
// Records already gone are not an error.
func (s *SnapshotService) Delete(ctx context.Context, id string) error {
	snapshot, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	backend, ok := s.backends[domain.SnapshotBackendType(snapshot.Backend)]
	if !ok {
		return fmt.Errorf("%w: snapshot backend %q", domain.ErrUnsupportedType, snapshot.Backend)
	}

	log, err := backend.Open(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Debug("snapshot %s has no records", id)
	case err != nil:
		return fmt.Errorf("open snapshot: %w", err)
	default:
		deleteErr := log.Delete(ctx)
		closeErr := log.Close()
		if err := errors.Join(deleteErr, closeErr); err != nil {
			return fmt.Errorf("delete snapshot records: %w", err)
		}
	}

	if err := s.catalog.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	logger.Info("Deleted snapshot %s", id)
	return nil
}

// Prune keeps the newest keep complete snapshots of container.
func (s *SnapshotService) Prune(ctx context.Context, container string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	snapshots, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	kept, deleted := 0, 0
	for _, snap := range snapshots {
		if snap.Container != container || snap.State != domain.SnapshotComplete {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := s.Delete(ctx, snap.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
