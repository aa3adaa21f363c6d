package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure BackupService implements the interface.
var _ driving.BackupService = (*BackupService)(nil)

// BackupConfig tunes captures.
type BackupConfig struct {
	// SinkCapacity bounds the documents queued in front of the log.
	SinkCapacity int

	// Reader tunes the bulk scan.
	Reader BulkReaderConfig
}

// DefaultBackupConfig returns the default configuration.
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		SinkCapacity: DefaultSinkCapacity,
		Reader:       DefaultBulkReaderConfig(),
	}
}

// BackupService captures snapshots of containers in a source database.
// One capture runs at a time.
type BackupService struct {
	source  driven.Database
	backend driven.SnapshotBackend
	catalog driven.SnapshotCatalog
	config  BackupConfig

	mu        sync.Mutex
	busy      bool
	processor *SnapshotProcessor
	current   string
}

// NewBackupService creates a backup service writing through backend.
func NewBackupService(
	source driven.Database,
	backend driven.SnapshotBackend,
	catalog driven.SnapshotCatalog,
	config BackupConfig,
) *BackupService {
	return &BackupService{
		source:  source,
		backend: backend,
		catalog: catalog,
		config:  config,
	}
}

// Backup captures a container and records the snapshot in the catalog.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (s *BackupService) Backup(ctx context.Context, req driving.BackupRequest) (*driving.BackupResult, error) {
	if req.Container == "" {
		return nil, fmt.Errorf("%w: source container is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, domain.ErrCaptureInProgress
	}
	s.busy = true
	s.mu.Unlock()
	defer s.clear()

	// 1. Open the source container
	container, err := s.source.Container(ctx, req.Container)
	if err != nil {
		return nil, fmt.Errorf("open source container: %w", err)
	}
	path, err := container.PartitionKeyPath(ctx)
	if err != nil {
		return nil, fmt.Errorf("read partition key path: %w", err)
	}

	// 2. Create the lease container for the change feed
	lease := domain.LeaseContainerName(req.Container)
	dropLease, err := s.ensureLease(ctx, lease)
	if err != nil {
		return nil, err
	}
	if dropLease {
		defer func() {
			cleanup := context.WithoutCancel(ctx)
			if err := s.source.DropContainer(cleanup, lease); err != nil {
				logger.Warn("drop lease container %s: %v", lease, err)
			}
		}()
	}

	// 3. Create the snapshot log and catalog entry
	snapshot := domain.Snapshot{
		ID:               uuid.NewString(),
		Container:        req.Container,
		PartitionKeyPath: path,
		Backend:          s.backend.Name().String(),
		State:            domain.SnapshotInProgress,
		StartedAt:        time.Now(),
	}
	snapshot.Location = s.backend.Location(snapshot.ID)

	log, err := s.backend.Create(ctx, snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("create snapshot log: %w", err)
	}
	if err := s.catalog.Save(ctx, snapshot); err != nil {
		_ = log.Delete(context.WithoutCancel(ctx))
		_ = log.Close()
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	// 4. Capture
	sink := NewSnapshotSink(context.WithoutCancel(ctx), log, s.config.SinkCapacity)
	processor := NewSnapshotProcessor(container, container, sink, ProcessorConfig{
		Query:  req.Query,
		Lease:  lease,
		Reader: s.config.Reader,
	})
	s.mu.Lock()
	s.processor = processor
	s.current = snapshot.ID
	s.mu.Unlock()

	logger.Section("Capture " + req.Container)
	logger.Info("Capturing %s into snapshot %s (%s)", req.Container, snapshot.ID, snapshot.Location)

	captureErr := processor.Start(ctx)
	if captureErr == nil {
		captureErr = processor.Wait()
	}
	stats := processor.Stats()
	if err := processor.Close(); err != nil && captureErr == nil {
		captureErr = err
	}

	// 5. Record the outcome
	snapshot.BulkCount = stats.BulkCount
	snapshot.TailCount = stats.TailCount
	snapshot.SizeBytes = sink.Bytes()
	snapshot.CompletedAt = time.Now()
	switch {
	case captureErr == nil:
		snapshot.State = domain.SnapshotComplete
	case errors.Is(captureErr, domain.ErrCaptureCancelled):
		snapshot.State = domain.SnapshotCancelled
	default:
		snapshot.State = domain.SnapshotFailed
	}

	if err := s.catalog.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		captureErr = errors.Join(captureErr, fmt.Errorf("save snapshot: %w", err))
	}

	if captureErr != nil {
		logger.Warn("Snapshot %s %s: %v", snapshot.ID, snapshot.State, captureErr)
		return nil, captureErr
	}

	logger.Info("Snapshot %s complete: %d bulk, %d tail records in %s",
		snapshot.ID, snapshot.BulkCount, snapshot.TailCount, stats.Elapsed.Round(time.Millisecond))

	return &driving.BackupResult{
		Snapshot: snapshot,
		Elapsed:  stats.Elapsed,
	}, nil
}

// Status returns progress of the running capture.
func (s *BackupService) Status(_ context.Context) (*domain.CaptureStats, bool) {
	s.mu.Lock()
	processor, id := s.processor, s.current
	s.mu.Unlock()

	if processor == nil {
		return nil, false
	}
	stats := processor.Stats()
	stats.SnapshotID = id
	return &stats, true
}

// ensureLease creates the lease container if missing and reports whether
// this capture created it.
func (s *BackupService) ensureLease(ctx context.Context, lease string) (bool, error) {
	exists, err := s.source.ContainerExists(ctx, lease)
	if err != nil {
		return false, fmt.Errorf("check lease container: %w", err)
	}
	if exists {
		return false, nil
	}

	err = s.source.CreateContainer(ctx, domain.ContainerConfiguration{
		Name:             lease,
		PartitionKeyPath: domain.PartitionKeyPath{domain.IDField},
		Throughput:       domain.MinThroughput,
	})
	if err != nil {
		return false, fmt.Errorf("create lease container: %w", err)
	}
	logger.Debug("created lease container %s", lease)
	return true, nil
}

func (s *BackupService) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.processor = nil
	s.current = ""
}
