// ABOUTME: CLI command for syncing devices on demand.
// ABOUTME: Syncs one device by ID prefix, or every connected device of the user.
package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync [device-id]",
	Aliases: []string{"s"},
	Short:   "Sync devices now",
	Long: `Pull new readings from your devices and merge them into the timeline.

With no argument every connected device is synced. Syncing the same window
twice is safe: readings already merged are recognized and skipped.

OUTPUT:

  added     new readings in the timeline
  updated   existing readings replaced by a better observation
  failed    readings rejected as invalid or lost to a vendor error
  conflicts disagreements the resolver settled (see 'healthsync conflicts')

EXAMPLES:

  healthsync sync          # Sync everything
  healthsync sync 3f2a     # Sync one device`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			id, err := resolveDeviceID(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := application.Service.SyncDevice(ctx, userID(), id)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			printSyncResult(out, id.String()[:8], res)
			return nil
		}

		devices, err := application.Service.ListDevices(ctx, userID())
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		synced, failed := 0, 0
		for _, d := range devices {
			if d.Status != models.DeviceConnected {
				continue
			}
			synced++
			res, err := application.Service.SyncDevice(ctx, userID(), d.DeviceID)
			if err != nil {
				failed++
				color.New(color.FgRed).Fprintf(out, "✗ %s %s: %v\n", d.DeviceID.String()[:8], d.Name, err)
				continue
			}
			if !res.Success {
				failed++
			}
			printSyncResult(out, d.DeviceID.String()[:8]+" "+d.Name, res)
		}

		if synced == 0 {
			fmt.Fprintln(out, "No connected devices to sync.")
			return nil
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d devices did not sync cleanly", failed, synced)
		}
		return nil
	},
}

func printSyncResult(out io.Writer, label string, res *models.SyncResult) {
	switch res.Status {
	case models.SyncSuccess:
		color.New(color.FgGreen).Fprintf(out, "✓ %s synced\n", label)
	case models.SyncPartial:
		color.New(color.FgYellow).Fprintf(out, "! %s partially synced\n", label)
	default:
		color.New(color.FgRed).Fprintf(out, "✗ %s %s\n", label, res.Status)
	}
	fmt.Fprintf(out, "  %d processed, %d added, %d updated, %d failed, %d conflicts %s\n",
		res.RecordsProcessed, res.RecordsAdded, res.RecordsUpdated, res.RecordsFailed, res.Conflicts,
		color.New(color.Faint).Sprintf("(%dms)", res.DurationMs))
	for _, e := range res.Errors {
		if e.MetricType != "" {
			fmt.Fprintf(out, "  %s %s: %s\n", color.RedString("%s", e.Kind), e.MetricType, e.Message)
		} else {
			fmt.Fprintf(out, "  %s: %s\n", color.RedString("%s", e.Kind), e.Message)
		}
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
