// ABOUTME: CLI commands for the per-device sync ledger.
// ABOUTME: Shows recent sync attempts and verifies the hash chain.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:     "ledger <device-id>",
	Aliases: []string{"history"},
	Short:   "Show a device's sync history",
	Long: `Show the append-only sync ledger for a device, newest first. Every sync
attempt gets one entry, whatever its outcome.

EXAMPLES:

  healthsync ledger 3f2a            # Last 20 attempts
  healthsync ledger 3f2a -n 100
  healthsync ledger verify 3f2a     # Check the hash chain`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveDeviceID(ctx, args[0])
		if err != nil {
			return err
		}
		logs, err := application.Service.SyncHistory(ctx, userID(), id, ledgerLimit)
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(logs) == 0 {
			fmt.Fprintln(out, "No sync attempts recorded.")
			return nil
		}

		faint := color.New(color.Faint)
		if info, err := application.Service.DeviceStatus(ctx, userID(), id); err == nil {
			fmt.Fprintln(out, faint.Sprintf("%s failed (%d in a row)", failureRateLabel(info), info.ConsecutiveFailures))
		}
		for _, l := range logs {
			status := color.GreenString("%s", l.Status)
			if l.Status.IsFailure() {
				status = color.RedString("%s", l.Status)
			}
			fmt.Fprintf(out, "%s %s %s %s +%d ~%d !%d %s\n",
				faint.Sprint(l.StartedAt.Local().Format("2006-01-02 15:04:05")),
				padRight(string(l.Trigger), 8),
				padRight(status, 8),
				faint.Sprintf("%5dms", l.DurationMs),
				l.RecordsAdded, l.RecordsUpdated, l.RecordsFailed,
				faint.Sprint(truncate(l.Hash, 12)))
		}
		return nil
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify <device-id>",
	Short: "Verify a device's ledger hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveDeviceID(ctx, args[0])
		if err != nil {
			return err
		}
		report, err := application.Service.VerifyLedger(ctx, userID(), id)
		if err != nil {
			return fmt.Errorf("ledger verification failed: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ %d entries verified\n", report.Entries)
		if report.LastHash != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  head %s\n", color.New(color.Faint).Sprint(report.LastHash))
		}
		return nil
	},
}

func init() {
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "max number of entries")
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	rootCmd.AddCommand(ledgerCmd)
}
