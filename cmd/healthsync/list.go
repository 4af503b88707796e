// ABOUTME: CLI command for listing the merged health timeline.
// ABOUTME: Supports filtering by type, device, source and date range, with paging.
package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	listTypes  string
	listDevice string
	listSource string
	listSince  string
	listUntil  string
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List health readings",
	Long: `List readings from the conflict-resolved health timeline, newest first.

OUTPUT FORMAT:

  Each line shows: ID  TIMESTAMP  TYPE  VALUE  UNIT  (DEVICES)

  DEVICES lists every device that reported the reading; the first one won.

FILTERING:

  --type     comma-separated metric types, e.g. heart_rate,steps
  --device   only readings won by this device id ("manual" for hand-entered)
  --source   manual, automatic, or workout
  --since    inclusive start (YYYY-MM-DD or YYYY-MM-DD HH:MM)
  --until    exclusive end

EXAMPLES:

  healthsync list                           # Last 20 readings
  healthsync list --type weight             # Only weight
  healthsync list -t heart_rate -n 100      # Last 100 heart rate readings
  healthsync list --since 2024-03-01 --until 2024-03-08`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := service.HealthDataQuery{
			UserID:   userID(),
			DeviceID: listDevice,
			Source:   models.Source(listSource),
			Limit:    listLimit,
			Offset:   listOffset,
		}
		for _, t := range splitList(listTypes) {
			if !models.IsValidMetricType(t) {
				return fmt.Errorf("unknown metric type: %s", t)
			}
			q.MetricTypes = append(q.MetricTypes, models.MetricType(t))
		}
		if listSince != "" {
			t, err := parseTime(listSince)
			if err != nil {
				return fmt.Errorf("invalid --since: %s", listSince)
			}
			q.StartDate = &t
		}
		if listUntil != "" {
			t, err := parseTime(listUntil)
			if err != nil {
				return fmt.Errorf("invalid --until: %s", listUntil)
			}
			q.EndDate = &t
		}

		metrics, err := application.Service.HealthData(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("failed to list metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(metrics) == 0 {
			fmt.Fprintln(out, "No readings found.")
			return nil
		}

		faint := color.New(color.Faint)
		for _, m := range metrics {
			devices := ""
			if p := m.Provenance(); len(p) > 0 {
				devices = faint.Sprintf(" (%s)", truncate(strings.Join(shortIDs(p), ", "), 30))
			}
			fmt.Fprintf(out, "%s %s %s %.2f %s%s\n",
				faint.Sprint(m.ID.String()[:8]),
				faint.Sprint(m.OccurredAt.Local().Format("2006-01-02 15:04")),
				padRight(string(m.MetricType), 16),
				m.Value,
				m.Unit,
				devices)
		}

		return nil
	},
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// shortIDs shortens UUIDs to their 8-char prefix and leaves other ids alone.
func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if len(id) == 36 {
			id = id[:8]
		}
		out[i] = id
	}
	return out
}

func init() {
	listCmd.Flags().StringVarP(&listTypes, "type", "t", "", "filter by metric types (comma-separated)")
	listCmd.Flags().StringVar(&listDevice, "device", "", "filter by winning device id")
	listCmd.Flags().StringVar(&listSource, "source", "", "filter by source (manual, automatic, workout)")
	listCmd.Flags().StringVar(&listSince, "since", "", "inclusive start date")
	listCmd.Flags().StringVar(&listUntil, "until", "", "exclusive end date")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "max number of results")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "results to skip")
	rootCmd.AddCommand(listCmd)
}
