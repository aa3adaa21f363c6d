package cli

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/core/services"
)

// mockBackupService implements driving.BackupService for testing.
type mockBackupService struct {
	mu       sync.Mutex
	requests []driving.BackupRequest
	result   *driving.BackupResult
	err      error
}

func (m *mockBackupService) Backup(_ context.Context, req driving.BackupRequest) (*driving.BackupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.result, m.err
}

func (m *mockBackupService) Status(_ context.Context) (*domain.CaptureStats, bool) {
	return nil, false
}

// mockRestoreService implements driving.RestoreService for testing.
type mockRestoreService struct {
	mu       sync.Mutex
	requests []driving.RestoreRequest
	result   *driving.RestoreResult
	err      error
}

func (m *mockRestoreService) Restore(_ context.Context, req driving.RestoreRequest) (*driving.RestoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.result, m.err
}

func (m *mockRestoreService) Status(_ context.Context) domain.ReplayStats {
	return domain.ReplayStats{}
}

// mockSnapshotService implements driving.SnapshotService for testing.
type mockSnapshotService struct {
	snapshots []domain.Snapshot
	deleted   []string
	pruned    map[string]int
	err       error
}

func (m *mockSnapshotService) List(_ context.Context) ([]domain.Snapshot, error) {
	return m.snapshots, m.err
}

func (m *mockSnapshotService) Get(_ context.Context, id string) (*domain.Snapshot, error) {
	for i := range m.snapshots {
		if m.snapshots[i].ID == id {
			return &m.snapshots[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockSnapshotService) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSnapshotService) Prune(_ context.Context, container string, keep int) (int, error) {
	if m.pruned == nil {
		m.pruned = make(map[string]int)
	}
	m.pruned[container] = keep
	return 2, m.err
}

// mockScheduler reports one capture and then behaves as if interrupted.
type mockScheduler struct {
	onResult func(domain.ScheduleResult)
	result   domain.ScheduleResult
}

func (m *mockScheduler) Start(_ context.Context) error {
	if m.onResult != nil {
		m.onResult(m.result)
	}
	return context.Canceled
}

func (m *mockScheduler) Stop() error {
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// testServices holds the mocks installed for one test.
type testServices struct {
	settings  *services.SettingsService
	snapshots *mockSnapshotService
	backup    *mockBackupService
	restore   *mockRestoreService

	backupSettings  *domain.Settings
	restoreSettings *domain.Settings
	schedule        *domain.ScheduleSettings
}

func setupServices(t *testing.T) *testServices {
	t.Helper()

	ts := &testServices{
		settings:  services.NewSettingsService(memory.NewConfigStore()),
		snapshots: &mockSnapshotService{},
		backup: &mockBackupService{result: &driving.BackupResult{
			Snapshot: domain.Snapshot{
				ID:        "snap-1",
				Container: "orders",
				Location:  "/tmp/snaps/snap-1",
				State:     domain.SnapshotComplete,
				BulkCount: 40,
				TailCount: 2,
			},
			Elapsed: 1500 * time.Millisecond,
		}},
		restore: &mockRestoreService{result: &driving.RestoreResult{
			Stats:   domain.ReplayStats{Inserted: 42, Failed: 1, Throttled: 7, AverageInsert: 3 * time.Millisecond},
			Elapsed: 2 * time.Second,
		}},
	}

	oldSettings, oldSnapshots := settingsService, snapshotService
	oldBackup, oldRestore, oldScheduler := openBackup, openRestore, newScheduler

	SetConfig(&Config{
		SettingsService: ts.settings,
		SnapshotService: ts.snapshots,
		OpenBackup: func(_ context.Context, s *domain.Settings) (driving.BackupService, io.Closer, error) {
			ts.backupSettings = s
			return ts.backup, nopCloser{}, nil
		},
		OpenRestore: func(_ context.Context, s *domain.Settings) (driving.RestoreService, io.Closer, error) {
			ts.restoreSettings = s
			return ts.restore, nopCloser{}, nil
		},
		NewScheduler: func(
			_ driving.BackupService,
			req driving.BackupRequest,
			schedule domain.ScheduleSettings,
			onResult func(domain.ScheduleResult),
		) driving.Scheduler {
			ts.schedule = &schedule
			start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
			return &mockScheduler{onResult: onResult, result: domain.ScheduleResult{
				SnapshotID: "snap-" + req.Container,
				StartedAt:  start,
				EndedAt:    start.Add(time.Second),
				Pruned:     1,
			}}
		},
	})

	t.Cleanup(func() {
		settingsService, snapshotService = oldSettings, oldSnapshots
		openBackup, openRestore, newScheduler = oldBackup, oldRestore, oldScheduler
	})
	return ts
}

// executeCommand runs rootCmd with args and returns its output.
func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags clears flag values left over from earlier executions.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
