// Package cli implements the carbon command line.
package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// version is set at build time.
var version = "dev"

// BackupOpener connects the source database and snapshot backend named
// by settings and returns a backup service bound to them.
type BackupOpener func(ctx context.Context, settings *domain.Settings) (driving.BackupService, io.Closer, error)

// RestoreOpener connects the destination database named by settings and
// returns a restore service bound to it.
type RestoreOpener func(ctx context.Context, settings *domain.Settings) (driving.RestoreService, io.Closer, error)

// SchedulerFactory builds a scheduler around an open backup service.
type SchedulerFactory func(
	backup driving.BackupService,
	req driving.BackupRequest,
	schedule domain.ScheduleSettings,
	onResult func(domain.ScheduleResult),
) driving.Scheduler

// Config holds the services the commands run against.
type Config struct {
	SettingsService driving.SettingsService
	SnapshotService driving.SnapshotService
	OpenBackup      BackupOpener
	OpenRestore     RestoreOpener
	NewScheduler    SchedulerFactory
}

// Services used by commands. Tests replace them with mocks.
var (
	settingsService driving.SettingsService
	snapshotService driving.SnapshotService
	openBackup      BackupOpener
	openRestore     RestoreOpener
	newScheduler    SchedulerFactory
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "carbon",
	Short: "Consistent container snapshots and throttled replay",
	Long: `carbon captures a point-in-time snapshot of a document container
by combining a paged bulk scan with the container's change feed, and
replays snapshots into a new container without exceeding its provisioned
throughput.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug logs to stderr")
}

// SetConfig installs the services used by every command.
func SetConfig(config *Config) {
	if config == nil {
		return
	}
	settingsService = config.SettingsService
	snapshotService = config.SnapshotService
	openBackup = config.OpenBackup
	openRestore = config.OpenRestore
	newScheduler = config.NewScheduler
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadSettings reads the effective settings.
func loadSettings() (*domain.Settings, error) {
	if settingsService == nil {
		return nil, errors.New("settings service not configured")
	}
	return settingsService.Get()
}
