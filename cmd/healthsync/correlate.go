// ABOUTME: CLI command for health and nutrition correlation analysis.
// ABOUTME: Prints score, strength, confidence, insights and recommendations.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	correlateFrom      string
	correlateTo        string
	correlateThreshold float64
	correlateSeries    bool
)

var correlateCmd = &cobra.Command{
	Use:     "correlate <type>",
	Aliases: []string{"corr"},
	Short:   "Correlate health data with nutrition",
	Long: `Measure how a health series moves with daily calorie intake.

TYPES:

  sleep_nutrition       sleep on night D vs. calories on day D+1
  heart_rate_nutrition  average heart rate on day D vs. calories on day D
  activity_nutrition    steps on day D vs. calories on day D

Only days with both values count. With fewer than 5 paired days the result
has zero confidence. Results are cached for a few hours per window.

EXAMPLES:

  healthsync correlate sleep_nutrition
  healthsync correlate activity_nutrition --from 2024-01-01 --to 2024-03-01
  healthsync correlate heart_rate_nutrition --threshold 0.6 --series`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sleep_nutrition", "heart_rate_nutrition", "activity_nutrition"},
	RunE: func(cmd *cobra.Command, args []string) error {
		q := service.CorrelationQuery{
			UserID:          userID(),
			CorrelationType: models.CorrelationType(args[0]),
		}
		if correlateFrom != "" {
			t, err := parseTime(correlateFrom)
			if err != nil {
				return fmt.Errorf("invalid --from: %s", correlateFrom)
			}
			q.StartDate = &t
		}
		if correlateTo != "" {
			t, err := parseTime(correlateTo)
			if err != nil {
				return fmt.Errorf("invalid --to: %s", correlateTo)
			}
			q.EndDate = &t
		}
		if cmd.Flags().Changed("threshold") {
			q.ConfidenceThreshold = &correlateThreshold
		}

		res, err := application.Service.CorrelationAnalysis(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		out := cmd.OutOrStdout()
		faint := color.New(color.Faint)
		bold := color.New(color.Bold)

		bold.Fprintf(out, "%s\n", res.Type)
		fmt.Fprintf(out, "  %s\n", faint.Sprintf("%s to %s, %d paired days",
			res.WindowStart.Format("2006-01-02"), res.WindowEnd.Format("2006-01-02"), res.SampleSize))
		fmt.Fprintf(out, "  Score:       %+.3f (%s)\n", res.Score, cfg.Correlation.Thresholds.Strength(res.Score))
		confidence := fmt.Sprintf("%.0f%%", res.Confidence*100)
		if res.LowConfidence {
			confidence = color.YellowString("%s (low)", confidence)
		}
		fmt.Fprintf(out, "  Confidence:  %s\n", confidence)

		if len(res.Insights) > 0 {
			fmt.Fprintln(out)
			for _, s := range res.Insights {
				fmt.Fprintf(out, "  • %s\n", s)
			}
		}
		if len(res.Recommendations) > 0 {
			fmt.Fprintln(out)
			for _, s := range res.Recommendations {
				fmt.Fprintf(out, "  → %s\n", s)
			}
		}
		if correlateSeries && len(res.Series) > 0 {
			fmt.Fprintln(out)
			for _, p := range res.Series {
				fmt.Fprintf(out, "  %s %10.2f %10.0f kcal\n",
					faint.Sprint(p.Date), p.Health, p.Nutrition)
			}
		}
		return nil
	},
}

func init() {
	correlateCmd.Flags().StringVar(&correlateFrom, "from", "", "window start (YYYY-MM-DD)")
	correlateCmd.Flags().StringVar(&correlateTo, "to", "", "window end, exclusive (YYYY-MM-DD)")
	correlateCmd.Flags().Float64Var(&correlateThreshold, "threshold", 0, "flag results below this confidence (0-1)")
	correlateCmd.Flags().BoolVar(&correlateSeries, "series", false, "print the paired days")
	rootCmd.AddCommand(correlateCmd)
}
