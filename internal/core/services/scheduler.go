package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// Scheduler captures a container repeatedly and prunes old snapshots.
type Scheduler struct {
	backup    driving.BackupService
	snapshots driving.SnapshotService
	request   driving.BackupRequest
	config    domain.ScheduleSettings
	onResult  func(domain.ScheduleResult)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. onResult, if set, is called after
// every capture.
func NewScheduler(
	backup driving.BackupService,
	snapshots driving.SnapshotService,
	request driving.BackupRequest,
	config domain.ScheduleSettings,
	onResult func(domain.ScheduleResult),
) *Scheduler {
	return &Scheduler{
		backup:    backup,
		snapshots: snapshots,
		request:   request,
		config:    config,
		onResult:  onResult,
	}
}

// Start captures immediately and then every interval. It blocks until
// Stop is called or ctx is done. A failed capture does not stop the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.runOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for a running capture to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// runOnce performs one capture followed by pruning.
func (s *Scheduler) runOnce(ctx context.Context) {
	result := domain.ScheduleResult{StartedAt: time.Now()}

	res, err := s.backup.Backup(ctx, s.request)
	if err != nil {
		result.Err = err
		logger.Warn("scheduler: capture of %s failed: %v", s.request.Container, err)
	} else {
		result.SnapshotID = res.Snapshot.ID
		pruned, err := s.snapshots.Prune(ctx, s.request.Container, s.config.Keep)
		result.Pruned = pruned
		if err != nil {
			result.Err = err
			logger.Warn("scheduler: prune of %s failed: %v", s.request.Container, err)
		} else if pruned > 0 {
			logger.Info("Pruned %d old snapshot(s) of %s", pruned, s.request.Container)
		}
	}
	result.EndedAt = time.Now()

	if s.onResult != nil {
		s.onResult(result)
	}
}
