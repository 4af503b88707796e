// ABOUTME: CorrelationAnalysis artifacts and per-day nutrition summaries.
// ABOUTME: Analyses are cacheable and superseded by newer rows rather than edited.
package models

import (
	"time"

	"github.com/google/uuid"
)

// CorrelationType names which health series is compared with nutrition.
type CorrelationType string

const (
	CorrelationSleepNutrition     CorrelationType = "sleep_nutrition"
	CorrelationHeartRateNutrition CorrelationType = "heart_rate_nutrition"
	CorrelationActivityNutrition  CorrelationType = "activity_nutrition"
)

// AllCorrelationTypes lists every supported correlation type.
var AllCorrelationTypes = []CorrelationType{
	CorrelationSleepNutrition, CorrelationHeartRateNutrition, CorrelationActivityNutrition,
}

// IsValidCorrelationType checks if a string names a supported correlation type.
func IsValidCorrelationType(s string) bool {
	for _, ct := range AllCorrelationTypes {
		if string(ct) == s {
			return true
		}
	}
	return false
}

// PairedDay is one day where both the health and nutrition series have data.
type PairedDay struct {
	Date      string  `json:"date"`
	Health    float64 `json:"health"`
	Nutrition float64 `json:"nutrition"`
}

// CorrelationAnalysis is a derived, cacheable association between two daily series.
type CorrelationAnalysis struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	Type            CorrelationType `json:"type"`
	WindowStart     time.Time       `json:"window_start"`
	WindowEnd       time.Time       `json:"window_end"`
	Score           float64         `json:"score"`
	Confidence      float64         `json:"confidence"`
	SampleSize      int             `json:"sample_size"`
	LowConfidence   bool            `json:"low_confidence"`
	Insights        []string        `json:"insights"`
	Recommendations []string        `json:"recommendations"`
	Series          []PairedDay     `json:"series,omitempty"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// NutritionDay is a read-only per-day nutrition summary.
type NutritionDay struct {
	UserID   string    `json:"user_id"`
	Date     time.Time `json:"date"`
	Calories float64   `json:"calories"`
	Protein  float64   `json:"protein"`
	Carbs    float64   `json:"carbs"`
	Fat      float64   `json:"fat"`
}
