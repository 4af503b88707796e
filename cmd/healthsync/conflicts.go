// ABOUTME: CLI commands for the conflict resolution audit trail.
// ABOUTME: Lists settled conflicts and lets the user override the chosen value.
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var conflictsLimit int

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Aliases: []string{"conflict", "c"},
	Short:   "Show how device disagreements were settled",
	Long: `List conflicts the resolver settled, newest first.

OUTPUT FORMAT:

  ID  BUCKET  TYPE  KIND  POLICY  WINNER -> LOSER

EXAMPLES:

  healthsync conflicts              # Last 20 conflicts
  healthsync conflicts -n 100
  healthsync conflicts resolve 9b1e 72`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conflicts, err := application.Service.Conflicts(cmd.Context(), userID(), conflictsLimit)
		if err != nil {
			return fmt.Errorf("failed to list conflicts: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(conflicts) == 0 {
			fmt.Fprintln(out, "No conflicts recorded.")
			return nil
		}

		faint := color.New(color.Faint)
		for _, c := range conflicts {
			losing := ""
			if c.Losing != nil {
				losing = faint.Sprintf(" -> %.2f from %s", c.Losing.Value, truncate(c.Losing.DeviceID, 8))
			}
			fmt.Fprintf(out, "%s %s %s %s %s %.2f from %s%s\n",
				faint.Sprint(c.ID.String()[:8]),
				faint.Sprint(c.BucketStart.Local().Format("2006-01-02 15:04")),
				padRight(string(c.MetricType), 16),
				padRight(string(c.Type), 10),
				padRight(string(c.Policy), 26),
				c.Winning.Value,
				truncate(c.Winning.DeviceID, 8),
				losing)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <id> <value>",
	Short: "Override the value a conflict settled on",
	Long: `Replace the value the resolver chose with your own. The original decision
stays in the audit trail; the override is recorded as superseding it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveConflictID(ctx, args[0])
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid value: %s", args[1])
		}

		c, err := application.Service.ResolveConflict(ctx, userID(), id, value)
		if err != nil {
			return fmt.Errorf("failed to resolve conflict: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Set %s to %.2f\n", c.MetricType, value)
		return nil
	},
}

// resolveConflictID accepts a full UUID or a unique prefix among recent conflicts.
func resolveConflictID(ctx context.Context, idOrPrefix string) (uuid.UUID, error) {
	if id, err := uuid.Parse(idOrPrefix); err == nil {
		return id, nil
	}
	conflicts, err := application.Service.Conflicts(ctx, userID(), 1000)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	var matches []uuid.UUID
	for _, c := range conflicts {
		if strings.HasPrefix(c.ID.String(), strings.ToLower(idOrPrefix)) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("conflict not found: %s", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return uuid.Nil, fmt.Errorf("ambiguous conflict prefix %s matches %d conflicts", idOrPrefix, len(matches))
	}
}

func init() {
	conflictsCmd.Flags().IntVarP(&conflictsLimit, "limit", "n", 20, "max number of results")
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
