package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
)

// progressInterval is how often plain-text progress is refreshed.
const progressInterval = 500 * time.Millisecond

var backupCmd = &cobra.Command{
	Use:   "backup [container]",
	Short: "Capture a consistent snapshot of a container",
	Long: `Captures a snapshot of a container while it keeps taking writes.
The bulk scan and the change feed run together so the snapshot holds every
document committed before the capture finished.

The container defaults to source.container. With --every the capture is
repeated on an interval and older snapshots beyond --keep are pruned.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().String("source", "", "source database URL (memory://, sqlite://path, ws://host/rpc)")
	backupCmd.Flags().String("query", "", "restrict the bulk scan to documents matching this predicate")
	backupCmd.Flags().String("backend", "", "snapshot backend (file, file-single, sqlite, gcs)")
	backupCmd.Flags().String("dir", "", "snapshot directory for file backends")
	backupCmd.Flags().String("bucket", "", "bucket for the gcs backend")
	backupCmd.Flags().Duration("every", 0, "repeat the capture on this interval")
	backupCmd.Flags().Int("keep", 0, "complete snapshots to retain when repeating")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	if openBackup == nil {
		return errors.New("backup service not configured")
	}

	settings, err := loadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	applyBackupFlags(cmd, args, settings)
	if settings.Source.Container == "" {
		return errors.New("no container given: pass one or set source.container")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	backup, closer, err := openBackup(ctx, settings)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer closer.Close()

	req := driving.BackupRequest{
		Container: settings.Source.Container,
		Query:     settings.Source.Query,
	}

	if settings.Schedule.Interval > 0 {
		return runScheduledBackup(ctx, cmd, backup, req, settings.Schedule)
	}

	cmd.Printf("Capturing %s...\n", req.Container)
	result, err := backupWithProgress(ctx, cmd, backup, req)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	printSnapshotSummary(cmd, &result.Snapshot, result.Elapsed)
	return nil
}

// applyBackupFlags overrides settings with the flags that were set.
func applyBackupFlags(cmd *cobra.Command, args []string, settings *domain.Settings) {
	flags := cmd.Flags()
	if len(args) > 0 {
		settings.Source.Container = args[0]
	}
	if flags.Changed("source") {
		settings.Source.URL, _ = flags.GetString("source")
	}
	if flags.Changed("query") {
		settings.Source.Query, _ = flags.GetString("query")
	}
	if flags.Changed("backend") {
		backend, _ := flags.GetString("backend")
		settings.Snapshot.Backend = domain.SnapshotBackendType(backend)
	}
	if flags.Changed("dir") {
		settings.Snapshot.Dir, _ = flags.GetString("dir")
	}
	if flags.Changed("bucket") {
		settings.Snapshot.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("every") {
		settings.Schedule.Interval, _ = flags.GetDuration("every")
	}
	if flags.Changed("keep") {
		settings.Schedule.Keep, _ = flags.GetInt("keep")
	}
}

// backupWithProgress runs a capture while printing counts.
func backupWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	backup driving.BackupService,
	req driving.BackupRequest,
) (*driving.BackupResult, error) {
	type outcome struct {
		result *driving.BackupResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := backup.Backup(ctx, req)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	printed := false
	for {
		select {
		case out := <-done:
			if printed {
				cmd.Println()
			}
			return out.result, out.err
		case <-ticker.C:
			stats, running := backup.Status(ctx)
			if !running || stats == nil {
				continue
			}
			cmd.Printf("\r%s: %d bulk, %d tail, %d throttled",
				stats.State, stats.BulkCount, stats.TailCount, stats.Throttled)
			printed = true
		}
	}
}

// runScheduledBackup repeats the capture until interrupted.
func runScheduledBackup(
	ctx context.Context,
	cmd *cobra.Command,
	backup driving.BackupService,
	req driving.BackupRequest,
	schedule domain.ScheduleSettings,
) error {
	if newScheduler == nil {
		return errors.New("scheduler not configured")
	}

	cmd.Printf("Capturing %s every %s (keeping %d). Press Ctrl+C to stop.\n",
		req.Container, schedule.Interval, schedule.Keep)

	scheduler := newScheduler(backup, req, schedule, func(r domain.ScheduleResult) {
		elapsed := r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond)
		if r.Err != nil {
			cmd.Printf("[%s] capture failed after %s: %v\n", r.StartedAt.Format(time.TimeOnly), elapsed, r.Err)
			return
		}
		cmd.Printf("[%s] snapshot %s in %s, pruned %d\n",
			r.StartedAt.Format(time.TimeOnly), r.SnapshotID, elapsed, r.Pruned)
	})

	err := scheduler.Start(ctx)
	if errors.Is(err, context.Canceled) {
		cmd.Println("Stopped.")
		return nil
	}
	return err
}

// printSnapshotSummary prints the result of a capture.
func printSnapshotSummary(cmd *cobra.Command, snap *domain.Snapshot, elapsed time.Duration) {
	cmd.Printf("Snapshot %s complete in %s\n", snap.ID, elapsed.Round(time.Millisecond))
	cmd.Printf("  Documents: %d (%d bulk, %d tail)\n", snap.Total(), snap.BulkCount, snap.TailCount)
	cmd.Printf("  Location:  %s\n", snap.Location)
}
