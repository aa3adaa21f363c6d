package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/replay"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id> [container]",
	Short: "Replay a snapshot into a new container",
	Long: `Replays a complete snapshot into a destination container, creating it
first. Upserts are retried after the delay the destination asks for, so the
replay never exceeds the container's provisioned throughput.

The container defaults to destination.container. Progress is shown in a
live view on a terminal and as a single updating line otherwise.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().String("dest", "", "destination database URL")
	restoreCmd.Flags().String("partition-key", "", "partition key path of the new container")
	restoreCmd.Flags().Int("throughput", 0, "provisioned throughput of the new container")
	restoreCmd.Flags().Bool("drop-if-exists", false, "drop an existing destination container first")
	restoreCmd.Flags().Bool("reuse", false, "write into an existing destination container")
	restoreCmd.Flags().Bool("plain", false, "print plain progress even on a terminal")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	if openRestore == nil {
		return errors.New("restore service not configured")
	}

	settings, err := loadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	applyRestoreFlags(cmd, args, settings)
	if settings.Destination.Container == "" {
		return errors.New("no destination container given: pass one or set destination.container")
	}

	req, err := restoreRequest(args[0], settings)
	if err != nil {
		return err
	}
	req.Reuse, _ = cmd.Flags().GetBool("reuse")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	restore, closer, err := openRestore(ctx, settings)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer closer.Close()

	plain, _ := cmd.Flags().GetBool("plain")
	var result *driving.RestoreResult
	if !plain && isTerminal(cmd) {
		result, err = restoreWithView(ctx, cmd, restore, req)
	} else {
		cmd.Printf("Restoring %s into %s...\n", req.SnapshotID, req.Destination.Name)
		result, err = restoreWithProgress(ctx, cmd, restore, req)
	}
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	stats := result.Stats
	cmd.Printf("Restored %d documents into %s in %s\n",
		stats.Inserted, req.Destination.Name, result.Elapsed.Round(time.Millisecond))
	cmd.Printf("  Failed:    %d\n", stats.Failed)
	cmd.Printf("  Throttled: %d\n", stats.Throttled)
	cmd.Printf("  Avg write: %s\n", stats.AverageInsert.Round(time.Microsecond))
	return nil
}

// applyRestoreFlags overrides settings with the flags that were set.
func applyRestoreFlags(cmd *cobra.Command, args []string, settings *domain.Settings) {
	flags := cmd.Flags()
	if len(args) > 1 {
		settings.Destination.Container = args[1]
	}
	if flags.Changed("dest") {
		settings.Destination.URL, _ = flags.GetString("dest")
	}
	if flags.Changed("partition-key") {
		settings.Destination.PartitionKeyPath, _ = flags.GetString("partition-key")
	}
	if flags.Changed("throughput") {
		settings.Destination.Throughput, _ = flags.GetInt("throughput")
	}
	if flags.Changed("drop-if-exists") {
		settings.Destination.DropIfExists, _ = flags.GetBool("drop-if-exists")
	}
}

// restoreRequest builds the replay request from settings.
func restoreRequest(snapshotID string, settings *domain.Settings) (driving.RestoreRequest, error) {
	dest := settings.Destination
	cfg := domain.ContainerConfiguration{
		Name:       dest.Container,
		Throughput: dest.Throughput,
	}
	if dest.PartitionKeyPath != "" {
		path, err := domain.ParsePartitionKeyPath(dest.PartitionKeyPath)
		if err != nil {
			return driving.RestoreRequest{}, err
		}
		cfg.PartitionKeyPath = path
	}
	return driving.RestoreRequest{
		SnapshotID:   snapshotID,
		Destination:  cfg,
		DropIfExists: dest.DropIfExists,
	}, nil
}

// isTerminal reports whether command output goes to a terminal.
func isTerminal(cmd *cobra.Command) bool {
	out, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(out.Fd()))
}

// restoreWithProgress runs a replay while printing counters on one line.
func restoreWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	restore driving.RestoreService,
	req driving.RestoreRequest,
) (*driving.RestoreResult, error) {
	type outcome struct {
		result *driving.RestoreResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := restore.Restore(ctx, req)
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
			stats := restore.Status(ctx)
			if !stats.Running {
				continue
			}
			cmd.Printf("\rqueued %d, waiting %d, inserting %d, inserted %d, failed %d",
				stats.Queued, stats.Waiting, stats.Inserting, stats.Inserted, stats.Failed)
			printed = true
		}
	}
}

// restoreWithView runs a replay behind the live progress view.
func restoreWithView(
	ctx context.Context,
	cmd *cobra.Command,
	restore driving.RestoreService,
	req driving.RestoreRequest,
) (*driving.RestoreResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	title := fmt.Sprintf("Restoring %s into %s", req.SnapshotID, req.Destination.Name)
	model := replay.New(title, func() domain.ReplayStats { return restore.Status(runCtx) }, cancel)
	program := tea.NewProgram(model, tea.WithOutput(cmd.OutOrStdout()), tea.WithContext(ctx))

	var result *driving.RestoreResult
	var restoreErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, restoreErr = restore.Restore(runCtx, req)
		finished := messages.ReplayFinished{Err: restoreErr}
		if result != nil {
			finished.Stats = result.Stats
			finished.Elapsed = result.Elapsed
		}
		program.Send(finished)
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return nil, fmt.Errorf("progress view: %w", err)
	}
	cancel()
	<-done
	return result, restoreErr
}
