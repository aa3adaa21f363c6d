package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage captured snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show snapshot details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotShow,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot and its records",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDelete,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune <container>",
	Short: "Delete old complete snapshots of a container",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotPrune,
}

func init() {
	snapshotPruneCmd.Flags().Int("keep", 5, "complete snapshots to retain")
	snapshotCmd.AddCommand(snapshotListCmd, snapshotShowCmd, snapshotDeleteCmd, snapshotPruneCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotList(cmd *cobra.Command, _ []string) error {
	if snapshotService == nil {
		return errors.New("snapshot service not configured")
	}

	snapshots, err := snapshotService.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		cmd.Println("No snapshots.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONTAINER\tBACKEND\tSTATE\tDOCUMENTS\tSTARTED")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Container, s.Backend, s.State, s.Total(), s.StartedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	if snapshotService == nil {
		return errors.New("snapshot service not configured")
	}

	s, err := snapshotService.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	cmd.Printf("ID:            %s\n", s.ID)
	cmd.Printf("Container:     %s\n", s.Container)
	cmd.Printf("Partition key: %s\n", s.PartitionKeyPath)
	cmd.Printf("Backend:       %s\n", s.Backend)
	cmd.Printf("Location:      %s\n", s.Location)
	cmd.Printf("State:         %s\n", s.State)
	cmd.Printf("Documents:     %d (%d bulk, %d tail)\n", s.Total(), s.BulkCount, s.TailCount)
	cmd.Printf("Size:          %d bytes\n", s.SizeBytes)
	cmd.Printf("Started:       %s\n", s.StartedAt.Local().Format(time.DateTime))
	if d := s.Duration(); d > 0 {
		cmd.Printf("Duration:      %s\n", d.Round(time.Millisecond))
	}
	return nil
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	if snapshotService == nil {
		return errors.New("snapshot service not configured")
	}

	if err := snapshotService.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	cmd.Printf("Deleted snapshot %s\n", args[0])
	return nil
}

func runSnapshotPrune(cmd *cobra.Command, args []string) error {
	if snapshotService == nil {
		return errors.New("snapshot service not configured")
	}

	keep, _ := cmd.Flags().GetInt("keep")
	if keep <= 0 {
		return errors.New("--keep must be positive")
	}
	pruned, err := snapshotService.Prune(cmd.Context(), args[0], keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	cmd.Printf("Pruned %d snapshot(s) of %s\n", pruned, args[0])
	return nil
}
