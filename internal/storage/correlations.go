// ABOUTME: Correlation analysis storage and the read-only nutrition view.
// ABOUTME: Analyses are appended; the newest row for a window is the cached answer.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
)

const correlationColumns = `id, user_id, type, window_start, window_end, score, confidence,
	sample_size, low_confidence, insights, recommendations, series, computed_at`

// AppendCorrelation stores a computed analysis.
func (d *DB) AppendCorrelation(ctx context.Context, a *models.CorrelationAnalysis) error {
	insights, err := json.Marshal(nonNilStrings(a.Insights))
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	recs, err := json.Marshal(nonNilStrings(a.Recommendations))
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	series, err := json.Marshal(a.Series)
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}

	query := `INSERT INTO correlation_analyses (` + correlationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, query,
		a.ID.String(),
		a.UserID,
		string(a.Type),
		formatTime(a.WindowStart),
		formatTime(a.WindowEnd),
		a.Score,
		a.Confidence,
		a.SampleSize,
		a.LowConfidence,
		string(insights),
		string(recs),
		string(series),
		formatTime(a.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("append correlation: %w", err)
	}
	return nil
}

// LatestCorrelation returns the most recently computed analysis for the exact window.
func (d *DB) LatestCorrelation(ctx context.Context, userID string, ct models.CorrelationType, start, end time.Time) (*models.CorrelationAnalysis, error) {
	query := `SELECT ` + correlationColumns + ` FROM correlation_analyses
		WHERE user_id = ? AND type = ? AND window_start = ? AND window_end = ?
		ORDER BY computed_at DESC
		LIMIT 1`
	row := d.db.QueryRowContext(ctx, query, userID, string(ct), formatTime(start), formatTime(end))

	var a models.CorrelationAnalysis
	var idStr, ctype, windowStart, windowEnd, insights, recs, series, computedAt string
	err := row.Scan(&idStr, &a.UserID, &ctype, &windowStart, &windowEnd, &a.Score, &a.Confidence,
		&a.SampleSize, &a.LowConfidence, &insights, &recs, &series, &computedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan correlation: %w", err)
	}

	a.ID, _ = uuid.Parse(idStr)
	a.Type = models.CorrelationType(ctype)
	a.WindowStart = parseTime(windowStart)
	a.WindowEnd = parseTime(windowEnd)
	a.ComputedAt = parseTime(computedAt)
	if err := json.Unmarshal([]byte(insights), &a.Insights); err != nil {
		return nil, fmt.Errorf("unmarshal insights: %w", err)
	}
	if err := json.Unmarshal([]byte(recs), &a.Recommendations); err != nil {
		return nil, fmt.Errorf("unmarshal recommendations: %w", err)
	}
	if err := json.Unmarshal([]byte(series), &a.Series); err != nil {
		return nil, fmt.Errorf("unmarshal series: %w", err)
	}
	return &a, nil
}

// NutritionDays sums the timeline's nutrition metric types per UTC day in [start, end).
// Days with no nutrition rows are absent from the result.
func (d *DB) NutritionDays(ctx context.Context, userID string, start, end time.Time) ([]models.NutritionDay, error) {
	query := `SELECT substr(bucket_start, 1, 10) AS day, metric_type, SUM(value)
		FROM metrics
		WHERE user_id = ? AND metric_type IN (?, ?, ?, ?)
			AND bucket_start >= ? AND bucket_start < ?
		GROUP BY day, metric_type`
	rows, err := d.db.QueryContext(ctx, query, userID,
		string(models.MetricCalories), string(models.MetricProtein),
		string(models.MetricCarbs), string(models.MetricFat),
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("nutrition days: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]*models.NutritionDay)
	for rows.Next() {
		var day, metricType string
		var sum float64
		if err := rows.Scan(&day, &metricType, &sum); err != nil {
			return nil, fmt.Errorf("scan nutrition day: %w", err)
		}
		nd, ok := byDay[day]
		if !ok {
			date, _ := time.Parse("2006-01-02", day)
			nd = &models.NutritionDay{UserID: userID, Date: date}
			byDay[day] = nd
		}
		switch models.MetricType(metricType) {
		case models.MetricCalories:
			nd.Calories = sum
		case models.MetricProtein:
			nd.Protein = sum
		case models.MetricCarbs:
			nd.Carbs = sum
		case models.MetricFat:
			nd.Fat = sum
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	days := make([]models.NutritionDay, 0, len(byDay))
	for _, nd := range byDay {
		days = append(days, *nd)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
