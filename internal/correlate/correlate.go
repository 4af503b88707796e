// ABOUTME: Correlation Analyzer pairing daily health series with daily nutrition intake.
// ABOUTME: Pearson score, sample-size confidence, threshold insights, cached per window.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/metrics"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/storage"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

const dateLayout = "2006-01-02"

// Thresholds are the minimum |score| for each strength label.
type Thresholds struct {
	Strong   float64 `yaml:"strong"`
	Moderate float64 `yaml:"moderate"`
	Weak     float64 `yaml:"weak"`
}

// Config holds the analyzer tunables.
type Config struct {
	MinPairedDays      int           `yaml:"min_paired_days"`
	FullConfidenceDays int           `yaml:"full_confidence_days"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	DefaultWindow      time.Duration `yaml:"default_window"`
	Thresholds         Thresholds    `yaml:"thresholds"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MinPairedDays:      5,
		FullConfidenceDays: 30,
		CacheTTL:           6 * time.Hour,
		DefaultWindow:      30 * day,
		Thresholds:         Thresholds{Strong: 0.5, Moderate: 0.3, Weak: 0.1},
	}
}

// Query selects one analysis. Zero Start and End default to the trailing DefaultWindow
// ending with today.
type Query struct {
	UserID              string
	Type                models.CorrelationType
	Start               time.Time
	End                 time.Time
	ConfidenceThreshold *float64
}

// MetricSource reads the canonical timeline.
type MetricSource interface {
	QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]*models.HealthMetric, error)
}

// NutritionSource reads per-day nutrition summaries.
type NutritionSource interface {
	NutritionDays(ctx context.Context, userID string, start, end time.Time) ([]models.NutritionDay, error)
}

// Cache stores computed analyses.
type Cache interface {
	AppendCorrelation(ctx context.Context, a *models.CorrelationAnalysis) error
	LatestCorrelation(ctx context.Context, userID string, ct models.CorrelationType, start, end time.Time) (*models.CorrelationAnalysis, error)
}

// Analyzer computes correlation analyses.
type Analyzer struct {
	metrics   MetricSource
	nutrition NutritionSource
	cache     Cache
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(m MetricSource, n NutritionSource, c Cache, cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.MinPairedDays <= 0 {
		cfg.MinPairedDays = d.MinPairedDays
	}
	if cfg.FullConfidenceDays <= 0 {
		cfg.FullConfidenceDays = d.FullConfidenceDays
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = d.DefaultWindow
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = d.Thresholds
	}
	return &Analyzer{metrics: m, nutrition: n, cache: c, cfg: cfg, now: time.Now, logger: logger}
}

// SetClock replaces time.Now.
func (a *Analyzer) SetClock(now func() time.Time) {
	a.now = now
}

// seriesSpec says which metric forms the health side of a correlation and how days aggregate.
type seriesSpec struct {
	metric    models.MetricType
	aggregate func([]float64) float64
	// lag shifts nutrition pairing: health day D pairs with nutrition day D+lag.
	lag int
}

var specs = map[models.CorrelationType]seriesSpec{
	models.CorrelationSleepNutrition:     {metric: models.MetricSleepHours, aggregate: sum, lag: 1},
	models.CorrelationHeartRateNutrition: {metric: models.MetricHeartRate, aggregate: mean},
	models.CorrelationActivityNutrition:  {metric: models.MetricSteps, aggregate: sum},
}

// window resolves the query's date range to whole UTC days.
func (a *Analyzer) window(q Query) (time.Time, time.Time) {
	end := q.End
	if end.IsZero() {
		end = a.now().UTC().Truncate(day).Add(day)
	}
	end = end.UTC().Truncate(day)
	start := q.Start
	if start.IsZero() {
		start = end.Add(-a.cfg.DefaultWindow)
	}
	return start.UTC().Truncate(day), end
}

func (a *Analyzer) validate(q Query) error {
	if q.UserID == "" {
		return syncerr.New(syncerr.DataInvalid, "correlate", "user id is required")
	}
	if _, ok := specs[q.Type]; !ok {
		return syncerr.New(syncerr.DataInvalid, "correlate", fmt.Sprintf("unknown correlation type %q", q.Type))
	}
	return nil
}

// Latest returns a cached analysis younger than CacheTTL for the same window, computing a
// new one otherwise.
func (a *Analyzer) Latest(ctx context.Context, q Query) (*models.CorrelationAnalysis, error) {
	if err := a.validate(q); err != nil {
		return nil, err
	}
	start, end := a.window(q)

	if a.cfg.CacheTTL > 0 {
		cached, err := a.cache.LatestCorrelation(ctx, q.UserID, q.Type, start, end)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load cached correlation: %w", err)
		}
		if cached != nil && a.now().Sub(cached.ComputedAt) < a.cfg.CacheTTL {
			metrics.CorrelationsComputed.WithLabelValues(string(q.Type), "cache").Inc()
			applyThreshold(cached, q.ConfidenceThreshold)
			return cached, nil
		}
	}
	return a.Analyze(ctx, q)
}

// Analyze computes and stores a fresh analysis.
func (a *Analyzer) Analyze(ctx context.Context, q Query) (*models.CorrelationAnalysis, error) {
	if err := a.validate(q); err != nil {
		return nil, err
	}
	start, end := a.window(q)
	spec := specs[q.Type]

	health, err := a.healthSeries(ctx, q.UserID, spec, start, end)
	if err != nil {
		return nil, err
	}
	lag := time.Duration(spec.lag) * day
	nutrition, err := a.nutrition.NutritionDays(ctx, q.UserID, start.Add(lag), end.Add(lag))
	if err != nil {
		return nil, fmt.Errorf("load nutrition: %w", err)
	}
	calories := make(map[string]float64, len(nutrition))
	for _, nd := range nutrition {
		if nd.Calories > 0 {
			calories[nd.Date.UTC().Format(dateLayout)] = nd.Calories
		}
	}

	series := pair(health, calories, spec.lag)
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, p := range series {
		xs[i], ys[i] = p.Health, p.Nutrition
	}

	score := Pearson(xs, ys)
	confidence := Confidence(len(series), a.cfg.MinPairedDays, a.cfg.FullConfidenceDays)
	res := &models.CorrelationAnalysis{
		ID:            uuid.New(),
		UserID:        q.UserID,
		Type:          q.Type,
		WindowStart:   start,
		WindowEnd:     end,
		Score:         score,
		Confidence:    confidence,
		SampleSize:    len(series),
		LowConfidence: len(series) < a.cfg.MinPairedDays,
		Series:        series,
		ComputedAt:    a.now().UTC(),
	}
	res.Insights, res.Recommendations = a.describe(q.Type, score, res.LowConfidence, len(series))

	if err := a.cache.AppendCorrelation(ctx, res); err != nil {
		return nil, fmt.Errorf("store correlation: %w", err)
	}
	metrics.CorrelationsComputed.WithLabelValues(string(q.Type), "computed").Inc()
	a.logger.Debug("correlation computed",
		zap.String("user_id", q.UserID),
		zap.String("type", string(q.Type)),
		zap.Float64("score", score),
		zap.Int("pairs", len(series)))

	applyThreshold(res, q.ConfidenceThreshold)
	return res, nil
}

func applyThreshold(a *models.CorrelationAnalysis, threshold *float64) {
	if threshold != nil && a.Confidence < *threshold {
		a.LowConfidence = true
	}
}

// healthSeries aggregates the health metric per UTC day.
func (a *Analyzer) healthSeries(ctx context.Context, userID string, spec seriesSpec, start, end time.Time) (map[string]float64, error) {
	s, e := start, end
	rows, err := a.metrics.QueryMetrics(ctx, storage.MetricQuery{
		UserID:      userID,
		MetricTypes: []models.MetricType{spec.metric},
		Start:       &s,
		End:         &e,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", spec.metric, err)
	}
	byDay := make(map[string][]float64)
	for _, m := range rows {
		d := m.BucketStart.UTC().Format(dateLayout)
		byDay[d] = append(byDay[d], m.Value)
	}
	out := make(map[string]float64, len(byDay))
	for d, values := range byDay {
		out[d] = spec.aggregate(values)
	}
	return out, nil
}

// pair joins health day D with nutrition day D+lag. Days missing either side are dropped.
func pair(health, calories map[string]float64, lag int) []models.PairedDay {
	var out []models.PairedDay
	for d, h := range health {
		date, err := time.Parse(dateLayout, d)
		if err != nil {
			continue
		}
		n, ok := calories[date.AddDate(0, 0, lag).Format(dateLayout)]
		if !ok {
			continue
		}
		out = append(out, models.PairedDay{Date: d, Health: h, Nutrition: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Pearson returns the correlation coefficient of xs and ys in [-1, 1]. Fewer than two
// pairs or a constant series gives 0.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	if math.IsNaN(r) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// Confidence grows linearly with paired days up to fullDays, and is 0 below minDays.
func Confidence(pairs, minDays, fullDays int) float64 {
	if pairs < minDays || fullDays <= 0 {
		return 0
	}
	return math.Min(1, float64(pairs)/float64(fullDays))
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}
