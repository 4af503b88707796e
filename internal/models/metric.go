// ABOUTME: Canonical HealthMetric model and the MetricType enum.
// ABOUTME: Defines units, native time-bucket resolutions, and valid ranges per metric type.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// MetricType represents the type of health metric being recorded.
type MetricType string

const (
	// Biometrics
	MetricWeight      MetricType = "weight"
	MetricBodyFat     MetricType = "body_fat"
	MetricBPSys       MetricType = "bp_sys"
	MetricBPDia       MetricType = "bp_dia"
	MetricHeartRate   MetricType = "heart_rate"
	MetricHRV         MetricType = "hrv"
	MetricTemperature MetricType = "temperature"

	// Activity
	MetricSteps          MetricType = "steps"
	MetricDistance       MetricType = "distance"
	MetricSleepHours     MetricType = "sleep_hours"
	MetricActiveCalories MetricType = "active_calories"

	// Nutrition
	MetricWater    MetricType = "water"
	MetricCalories MetricType = "calories"
	MetricProtein  MetricType = "protein"
	MetricCarbs    MetricType = "carbs"
	MetricFat      MetricType = "fat"

	// Mental Health
	MetricMood       MetricType = "mood"
	MetricEnergy     MetricType = "energy"
	MetricStress     MetricType = "stress"
	MetricAnxiety    MetricType = "anxiety"
	MetricFocus      MetricType = "focus"
	MetricMeditation MetricType = "meditation"
)

// MetricUnits maps metric types to their canonical units.
var MetricUnits = map[MetricType]string{
	MetricWeight:         "kg",
	MetricBodyFat:        "%",
	MetricBPSys:          "mmHg",
	MetricBPDia:          "mmHg",
	MetricHeartRate:      "bpm",
	MetricHRV:            "ms",
	MetricTemperature:    "°C",
	MetricSteps:          "steps",
	MetricDistance:       "km",
	MetricSleepHours:     "hours",
	MetricActiveCalories: "kcal",
	MetricWater:          "ml",
	MetricCalories:       "kcal",
	MetricProtein:        "g",
	MetricCarbs:          "g",
	MetricFat:            "g",
	MetricMood:           "scale",
	MetricEnergy:         "scale",
	MetricStress:         "scale",
	MetricAnxiety:        "scale",
	MetricFocus:          "scale",
	MetricMeditation:     "min",
}

// MetricResolution is the native time-bucket width of each metric type.
// Two samples of the same type falling in the same bucket describe the same observation.
var MetricResolution = map[MetricType]time.Duration{
	MetricWeight:         24 * time.Hour,
	MetricBodyFat:        24 * time.Hour,
	MetricBPSys:          time.Minute,
	MetricBPDia:          time.Minute,
	MetricHeartRate:      time.Minute,
	MetricHRV:            time.Minute,
	MetricTemperature:    time.Hour,
	MetricSteps:          time.Hour,
	MetricDistance:       time.Hour,
	MetricSleepHours:     24 * time.Hour,
	MetricActiveCalories: time.Hour,
	MetricWater:          24 * time.Hour,
	MetricCalories:       24 * time.Hour,
	MetricProtein:        24 * time.Hour,
	MetricCarbs:          24 * time.Hour,
	MetricFat:            24 * time.Hour,
	MetricMood:           24 * time.Hour,
	MetricEnergy:         24 * time.Hour,
	MetricStress:         24 * time.Hour,
	MetricAnxiety:        24 * time.Hour,
	MetricFocus:          24 * time.Hour,
	MetricMeditation:     24 * time.Hour,
}

// Range is an inclusive bound on plausible canonical values.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// MetricRanges holds the plausible canonical range of each metric type.
var MetricRanges = map[MetricType]Range{
	MetricWeight:         {Min: 1, Max: 500},
	MetricBodyFat:        {Min: 1, Max: 75},
	MetricBPSys:          {Min: 50, Max: 260},
	MetricBPDia:          {Min: 30, Max: 160},
	MetricHeartRate:      {Min: 20, Max: 300},
	MetricHRV:            {Min: 1, Max: 300},
	MetricTemperature:    {Min: 30, Max: 45},
	MetricSteps:          {Min: 0, Max: 100000},
	MetricDistance:       {Min: 0, Max: 500},
	MetricSleepHours:     {Min: 0, Max: 24},
	MetricActiveCalories: {Min: 0, Max: 10000},
	MetricWater:          {Min: 0, Max: 20000},
	MetricCalories:       {Min: 0, Max: 20000},
	MetricProtein:        {Min: 0, Max: 1000},
	MetricCarbs:          {Min: 0, Max: 2000},
	MetricFat:            {Min: 0, Max: 1000},
	MetricMood:           {Min: 1, Max: 10},
	MetricEnergy:         {Min: 1, Max: 10},
	MetricStress:         {Min: 1, Max: 10},
	MetricAnxiety:        {Min: 1, Max: 10},
	MetricFocus:          {Min: 1, Max: 10},
	MetricMeditation:     {Min: 0, Max: 1440},
}

// AllMetricTypes returns all valid metric types.
var AllMetricTypes = []MetricType{
	MetricWeight, MetricBodyFat, MetricBPSys, MetricBPDia,
	MetricHeartRate, MetricHRV, MetricTemperature,
	MetricSteps, MetricDistance, MetricSleepHours, MetricActiveCalories,
	MetricWater, MetricCalories, MetricProtein, MetricCarbs, MetricFat,
	MetricMood, MetricEnergy, MetricStress, MetricAnxiety, MetricFocus, MetricMeditation,
}

// IsValidMetricType checks if a string is a valid metric type.
func IsValidMetricType(s string) bool {
	for _, mt := range AllMetricTypes {
		if string(mt) == s {
			return true
		}
	}
	return false
}

// BucketStart truncates t to the native resolution of the metric type, in UTC.
func (mt MetricType) BucketStart(t time.Time) time.Time {
	res, ok := MetricResolution[mt]
	if !ok {
		res = time.Minute
	}
	return t.UTC().Truncate(res)
}

// Source describes how a reading entered the system.
type Source string

const (
	SourceManual    Source = "manual"
	SourceAutomatic Source = "automatic"
	SourceWorkout   Source = "workout"
)

// IsValidSource checks if a string is a known source.
func IsValidSource(s string) bool {
	switch Source(s) {
	case SourceManual, SourceAutomatic, SourceWorkout:
		return true
	}
	return false
}

// ManualDeviceID is the device id recorded for user-entered readings.
const ManualDeviceID = "manual"

// Contribution is one device's observation of a bucket. Every observation that reached
// the resolver is kept here, winning or not.
type Contribution struct {
	DeviceID   string    `json:"device_id"`
	Source     Source    `json:"source"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// HealthMetric is the canonical, conflict-resolved fact for one (user, type, bucket).
type HealthMetric struct {
	ID            uuid.UUID      `json:"id"`
	UserID        string         `json:"user_id"`
	DeviceID      string         `json:"device_id"`
	MetricType    MetricType     `json:"metric_type"`
	Value         float64        `json:"value"`
	Unit          string         `json:"unit"`
	OccurredAt    time.Time      `json:"occurred_at"`
	BucketStart   time.Time      `json:"bucket_start"`
	Source        Source         `json:"source"`
	Confidence    float64        `json:"confidence"`
	RecordedAt    time.Time      `json:"recorded_at"`
	SyncedAt      time.Time      `json:"synced_at"`
	Contributions []Contribution `json:"contributions,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewHealthMetric creates a canonical metric with a generated UUID and canonical unit.
func NewHealthMetric(userID, deviceID string, metricType MetricType, value float64, occurredAt time.Time) *HealthMetric {
	now := time.Now().UTC()
	return &HealthMetric{
		ID:          uuid.New(),
		UserID:      userID,
		DeviceID:    deviceID,
		MetricType:  metricType,
		Value:       value,
		Unit:        MetricUnits[metricType],
		OccurredAt:  occurredAt.UTC(),
		BucketStart: metricType.BucketStart(occurredAt),
		Source:      SourceAutomatic,
		Confidence:  1,
		RecordedAt:  occurredAt.UTC(),
		SyncedAt:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithSource sets the source of the metric.
func (m *HealthMetric) WithSource(s Source) *HealthMetric {
	m.Source = s
	return m
}

// WithConfidence sets the confidence score, clamped to [0, 1].
func (m *HealthMetric) WithConfidence(c float64) *HealthMetric {
	m.Confidence = math.Max(0, math.Min(1, c))
	return m
}

// WithRecordedAt sets the vendor-side recorded timestamp.
func (m *HealthMetric) WithRecordedAt(t time.Time) *HealthMetric {
	m.RecordedAt = t.UTC()
	return m
}

// WithNotes sets notes on the metric.
func (m *HealthMetric) WithNotes(notes string) *HealthMetric {
	m.Notes = &notes
	return m
}

// AsContribution captures this metric as a single device observation.
func (m *HealthMetric) AsContribution() Contribution {
	return Contribution{
		DeviceID:   m.DeviceID,
		Source:     m.Source,
		Value:      m.Value,
		Confidence: m.Confidence,
		OccurredAt: m.OccurredAt,
		RecordedAt: m.RecordedAt,
	}
}

// Provenance returns the ids of every device that contributed to this record, in
// contribution order.
func (m *HealthMetric) Provenance() []string {
	seen := make(map[string]bool, len(m.Contributions))
	ids := make([]string, 0, len(m.Contributions))
	for _, c := range m.Contributions {
		if seen[c.DeviceID] {
			continue
		}
		seen[c.DeviceID] = true
		ids = append(ids, c.DeviceID)
	}
	return ids
}

// Clone returns a deep copy, so resolver outcomes never alias stored state.
func (m *HealthMetric) Clone() *HealthMetric {
	if m == nil {
		return nil
	}
	c := *m
	c.Contributions = append([]Contribution(nil), m.Contributions...)
	if m.Notes != nil {
		n := *m.Notes
		c.Notes = &n
	}
	return &c
}

// RawSample is a vendor reading before unit conversion and validation.
type RawSample struct {
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	OccurredAt time.Time  `json:"occurred_at"`
	RecordedAt time.Time  `json:"recorded_at"`
	Confidence float64    `json:"confidence"`
	Source     Source     `json:"source,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
}
