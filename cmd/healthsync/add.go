// ABOUTME: CLI command for recording manual health readings.
// ABOUTME: Handles single metrics and the blood pressure pair; manual readings win over devices.
package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	addAt   string
	addUnit string
)

var addCmd = &cobra.Command{
	Use:     "add <type> <value> [value2]",
	Aliases: []string{"a"},
	Short:   "Record a manual health reading",
	Long: `Record a manual health reading. For blood pressure, provide both systolic and
diastolic values.

A manual reading takes precedence over device readings for the same time
bucket, so a later sync will not overwrite it.

Values may be given in any unit the normalizer knows (lb, mi, °F, ...) with
--unit; they are stored in the canonical unit.

Examples:
  healthsync add weight 82.5
  healthsync add weight 181 --unit lb
  healthsync add hrv 48 --at "2024-12-14 07:00"
  healthsync add bp 120 80
  healthsync add mood 7`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		metricType := args[0]

		at := time.Now()
		if addAt != "" {
			t, err := parseTime(addAt)
			if err != nil {
				return fmt.Errorf("invalid timestamp: %s", addAt)
			}
			at = t
		}

		// Handle blood pressure special case
		if metricType == "bp" {
			if len(args) < 3 {
				return fmt.Errorf("blood pressure requires two values: systolic and diastolic")
			}
			return addBloodPressure(cmd, args[1], args[2], at)
		}

		if !models.IsValidMetricType(metricType) {
			return fmt.Errorf("unknown metric type: %s\nValid types: %s", metricType, metricTypeList())
		}

		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid value: %s", args[1])
		}

		m, err := application.Service.RecordManual(cmd.Context(), service.ManualEntry{
			UserID:     userID(),
			MetricType: models.MetricType(metricType),
			Value:      value,
			Unit:       addUnit,
			OccurredAt: at,
		})
		if err != nil {
			return fmt.Errorf("failed to record metric: %w", err)
		}

		out := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprintf(out, "✓ Added %s\n", metricType)
		fmt.Fprintf(out, "  %s %.2f %s\n",
			color.New(color.Faint).Sprint(m.ID.String()[:8]),
			m.Value, m.Unit)
		return nil
	},
}

func addBloodPressure(cmd *cobra.Command, sysStr, diaStr string, at time.Time) error {
	sys, err := strconv.ParseFloat(sysStr, 64)
	if err != nil {
		return fmt.Errorf("invalid systolic value: %s", sysStr)
	}
	dia, err := strconv.ParseFloat(diaStr, 64)
	if err != nil {
		return fmt.Errorf("invalid diastolic value: %s", diaStr)
	}

	ctx := cmd.Context()
	mSys, err := application.Service.RecordManual(ctx, service.ManualEntry{
		UserID: userID(), MetricType: models.MetricBPSys, Value: sys, OccurredAt: at,
	})
	if err != nil {
		return fmt.Errorf("failed to record bp_sys: %w", err)
	}
	if _, err := application.Service.RecordManual(ctx, service.ManualEntry{
		UserID: userID(), MetricType: models.MetricBPDia, Value: dia, OccurredAt: at,
	}); err != nil {
		return fmt.Errorf("failed to record bp_dia: %w", err)
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintln(out, "✓ Added blood pressure")
	fmt.Fprintf(out, "  %s %.0f/%.0f mmHg\n",
		color.New(color.Faint).Sprint(mSys.ID.String()[:8]),
		sys, dia)
	return nil
}

func metricTypeList() string {
	names := make([]string, len(models.AllMetricTypes))
	for i, mt := range models.AllMetricTypes {
		names[i] = string(mt)
	}
	return strings.Join(names, ", ")
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"2006-01-02",
		time.RFC3339,
	}
	for _, f := range formats {
		if t, err := time.ParseInLocation(f, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format")
}

func init() {
	addCmd.Flags().StringVar(&addAt, "at", "", "timestamp (YYYY-MM-DD HH:MM)")
	addCmd.Flags().StringVar(&addUnit, "unit", "", "unit of the value (default: canonical unit)")
	rootCmd.AddCommand(addCmd)
}
