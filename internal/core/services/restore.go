package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure RestoreService implements the interface.
var _ driving.RestoreService = (*RestoreService)(nil)

// RestoreService replays snapshots into a destination database.
type RestoreService struct {
	destination driven.Database
	catalog     driven.SnapshotCatalog
	backends    map[domain.SnapshotBackendType]driven.SnapshotBackend
	config      WriterConfig
	observer    driven.ReplayObserver
	progress    *ReplayProgress
}

// NewRestoreService creates a restore service. Snapshots are opened with
// the backend whose name matches the one recorded in the catalog.
func NewRestoreService(
	destination driven.Database,
	catalog driven.SnapshotCatalog,
	config WriterConfig,
	backends ...driven.SnapshotBackend,
) *RestoreService {
	byName := make(map[domain.SnapshotBackendType]driven.SnapshotBackend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &RestoreService{
		destination: destination,
		catalog:     catalog,
		backends:    byName,
		config:      config,
		progress:    NewReplayProgress(),
	}
}

// SetObserver adds an observer that receives every replay event.
func (s *RestoreService) SetObserver(observer driven.ReplayObserver) {
	s.observer = observer
}

// Restore replays a complete snapshot into the destination container.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (s *RestoreService) Restore(ctx context.Context, req driving.RestoreRequest) (*driving.RestoreResult, error) {
	// 1. Check the snapshot can be replayed
	snapshot, err := s.catalog.Get(ctx, req.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if err := snapshot.Restorable(); err != nil {
		return nil, err
	}
	backend, ok := s.backends[domain.SnapshotBackendType(snapshot.Backend)]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot backend %q", domain.ErrUnsupportedType, snapshot.Backend)
	}

	// 2. Prepare the destination container
	cfg := req.Destination
	if len(cfg.PartitionKeyPath) == 0 {
		cfg.PartitionKeyPath = snapshot.PartitionKeyPath
	}
	container, err := s.prepare(ctx, cfg, req)
	if err != nil {
		return nil, err
	}
	path, err := container.PartitionKeyPath(ctx)
	if err != nil {
		return nil, fmt.Errorf("read partition key path: %w", err)
	}

	// 3. Open the snapshot log
	log, err := backend.Open(ctx, snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer log.Close()

	logger.Section("Replay " + snapshot.ID)
	logger.Info("Replaying snapshot %s (%d records) into %s", snapshot.ID, snapshot.Total(), cfg.Name)

	// 4. Replay
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	records, errs := log.Enumerate(runCtx)
	docs := make(chan domain.Document)
	var decodeErr error
	var skipped atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(docs)
		decodeErr = decodeRecords(runCtx, records, errs, docs, &skipped)
		if decodeErr != nil {
			cancel()
		}
	}()

	writer := NewContainerWriter(container, path, MultiObserver{s.progress, s.observer}, s.config)
	s.progress.Begin()
	result, runErr := writer.Run(runCtx, docs)
	s.progress.End()
	cancel()
	wg.Wait()

	if decodeErr != nil && !errors.Is(decodeErr, context.Canceled) {
		return nil, fmt.Errorf("read snapshot: %w", decodeErr)
	}
	if runErr != nil {
		return nil, fmt.Errorf("replay snapshot: %w", runErr)
	}

	stats := s.progress.Stats()
	stats.Failed += skipped.Load()
	logger.Info("Replayed snapshot %s: %d inserted, %d failed, %d throttled in %s",
		snapshot.ID, result.Inserted, stats.Failed, result.Throttled, result.Elapsed.Round(time.Millisecond))

	return &driving.RestoreResult{
		Stats:   stats,
		Elapsed: result.Elapsed,
	}, nil
}

// Status returns live replay counters.
func (s *RestoreService) Status(_ context.Context) domain.ReplayStats {
	return s.progress.Stats()
}

// prepare creates the destination container, dropping or reusing an
// existing one as requested.
func (s *RestoreService) prepare(ctx context.Context, cfg domain.ContainerConfiguration, req driving.RestoreRequest) (driven.Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.destination.ContainerExists(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("check destination container: %w", err)
	}

	switch {
	case exists && req.Reuse:
		logger.Debug("reusing destination container %s", cfg.Name)
	case exists && req.DropIfExists:
		logger.Info("Dropping existing container %s", cfg.Name)
		if err := s.destination.DropContainer(ctx, cfg.Name); err != nil {
			return nil, fmt.Errorf("drop destination container: %w", err)
		}
		fallthrough
	case !exists:
		if err := s.destination.CreateContainer(ctx, cfg); err != nil {
			return nil, fmt.Errorf("create destination container: %w", err)
		}
	default:
		return nil, fmt.Errorf("destination container %s: %w", cfg.Name, domain.ErrAlreadyExists)
	}

	container, err := s.destination.Container(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("open destination container: %w", err)
	}
	return container, nil
}

// decodeRecords turns log records into documents. A record that is not a
// valid document is skipped and counted.
func decodeRecords(
	ctx context.Context,
	records <-chan domain.Record,
	errs <-chan error,
	docs chan<- domain.Document,
	skipped *atomic.Int64,
) error {
	for rec := range records {
		doc, err := domain.NewDocument(rec.Body)
		if err != nil {
			skipped.Add(1)
			logger.Warn("skipping %s record: %v", rec.Segment, err)
			continue
		}
		select {
		case docs <- doc:
		case <-ctx.Done():
			// Drain so the enumerator can finish.
			for range records {
			}
			return ctx.Err()
		}
	}
	if errs == nil {
		return nil
	}
	return <-errs
}
