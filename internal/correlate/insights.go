// ABOUTME: Insight and recommendation text for correlation results.
// ABOUTME: Strength labels come from configured thresholds; advice depends on direction.
package correlate

import (
	"fmt"
	"math"

	"github.com/harperreed/healthsync/internal/models"
)

// Strength labels a score against the thresholds.
func (t Thresholds) Strength(score float64) string {
	abs := math.Abs(score)
	switch {
	case abs >= t.Strong:
		return "strong"
	case abs >= t.Moderate:
		return "moderate"
	case abs >= t.Weak:
		return "weak"
	default:
		return "negligible"
	}
}

var subjects = map[models.CorrelationType]string{
	models.CorrelationSleepNutrition:     "sleep duration and next-day calorie intake",
	models.CorrelationHeartRateNutrition: "average heart rate and calorie intake",
	models.CorrelationActivityNutrition:  "daily steps and calorie intake",
}

var advice = map[models.CorrelationType]map[bool]string{
	models.CorrelationSleepNutrition: {
		false: "Shorter nights are followed by higher intake; a consistent sleep schedule may help regulate appetite.",
		true:  "Longer sleep goes with higher next-day intake; check that extra calories match your activity.",
	},
	models.CorrelationHeartRateNutrition: {
		false: "Higher-intake days show a lower average heart rate; keep meals regular on active days.",
		true:  "Higher-intake days show a higher average heart rate; large meals and stimulants can raise resting heart rate.",
	},
	models.CorrelationActivityNutrition: {
		false: "More active days come with lower intake; make sure you refuel after exercise.",
		true:  "Intake rises with activity, which suggests you are fuelling your training.",
	},
}

// describe builds the insight and recommendation lists for a result.
func (a *Analyzer) describe(ct models.CorrelationType, score float64, low bool, pairs int) ([]string, []string) {
	if low {
		return []string{
				fmt.Sprintf("Only %d paired days of data; at least %d are needed for a reliable result.", pairs, a.cfg.MinPairedDays),
			}, []string{
				"Keep syncing your devices and logging meals to build up enough history.",
			}
	}

	strength := a.cfg.Thresholds.Strength(score)
	direction := "positive"
	if score < 0 {
		direction = "negative"
	}
	insights := []string{
		fmt.Sprintf("There is a %s %s correlation (r=%.2f) between %s over %d days.", strength, direction, score, subjects[ct], pairs),
	}
	if strength == "negligible" {
		insights[0] = fmt.Sprintf("No meaningful correlation (r=%.2f) between %s over %d days.", score, subjects[ct], pairs)
		return insights, nil
	}

	var recs []string
	if strength != "weak" {
		recs = append(recs, advice[ct][score > 0])
	}
	return insights, recs
}
