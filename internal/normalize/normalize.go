// ABOUTME: Metric Normalizer turning vendor RawSamples into canonical HealthMetrics.
// ABOUTME: Converts units, validates ranges, dedupes per bucket, and returns rejects separately.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
)

// bucketNamespace seeds canonical ids so a (user, type, bucket) always maps to one id.
var bucketNamespace = uuid.MustParse("6f1c2a44-3b8e-5d21-9a0c-7e4b1f6d8c35")

// Reject is a sample that failed validation.
type Reject struct {
	Sample models.RawSample
	Err    error
}

// Result is a normalized batch.
type Result struct {
	Metrics  []*models.HealthMetric
	Rejected []Reject
}

// Normalize converts samples reported by deviceID into canonical metrics for userID.
// Rejected samples never abort the batch.
func Normalize(userID, deviceID string, samples []models.RawSample, syncedAt time.Time) Result {
	var res Result
	byBucket := make(map[string]*models.HealthMetric)

	for _, s := range samples {
		m, err := normalizeOne(userID, deviceID, s, syncedAt)
		if err != nil {
			res.Rejected = append(res.Rejected, Reject{Sample: s, Err: err})
			continue
		}
		key := string(m.MetricType) + "|" + m.BucketStart.Format(time.RFC3339)
		if prev, ok := byBucket[key]; ok && !better(m, prev) {
			continue
		}
		byBucket[key] = m
	}

	for _, m := range byBucket {
		res.Metrics = append(res.Metrics, m)
	}
	sort.Slice(res.Metrics, func(i, j int) bool {
		a, b := res.Metrics[i], res.Metrics[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		return a.MetricType < b.MetricType
	})
	return res
}

// better reports whether a should replace b within the same bucket.
func better(a, b *models.HealthMetric) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.RecordedAt.After(b.RecordedAt)
}

func normalizeOne(userID, deviceID string, s models.RawSample, syncedAt time.Time) (*models.HealthMetric, error) {
	const op = "normalize"
	if !models.IsValidMetricType(string(s.MetricType)) {
		return nil, syncerr.New(syncerr.DataInvalid, op, fmt.Sprintf("unknown metric type %q", s.MetricType))
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return nil, syncerr.New(syncerr.DataInvalid, op, fmt.Sprintf("%s value is not finite", s.MetricType))
	}
	if s.OccurredAt.IsZero() {
		return nil, syncerr.New(syncerr.DataInvalid, op, fmt.Sprintf("%s sample has no timestamp", s.MetricType))
	}

	value, err := Convert(s.MetricType, s.Value, s.Unit)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.DataInvalid, op, err)
	}
	if r, ok := models.MetricRanges[s.MetricType]; ok && !r.Contains(value) {
		return nil, syncerr.New(syncerr.DataInvalid, op,
			fmt.Sprintf("%s value %.2f outside [%g, %g]", s.MetricType, value, r.Min, r.Max))
	}

	source := s.Source
	if source == "" {
		source = models.SourceAutomatic
	}
	if !models.IsValidSource(string(source)) {
		return nil, syncerr.New(syncerr.DataInvalid, op, fmt.Sprintf("unknown source %q", source))
	}

	// Vendors that omit confidence report zero; treat that as full confidence.
	confidence := s.Confidence
	if confidence == 0 {
		confidence = 1
	}

	recordedAt := s.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.OccurredAt
	}

	m := models.NewHealthMetric(userID, deviceID, s.MetricType, value, s.OccurredAt).
		WithSource(source).
		WithConfidence(confidence).
		WithRecordedAt(recordedAt)
	m.ID = CanonicalID(userID, s.MetricType, m.BucketStart)
	m.SyncedAt = syncedAt.UTC()
	m.CreatedAt = m.SyncedAt
	m.UpdatedAt = m.SyncedAt
	return m, nil
}

// CanonicalID is the stable id of the canonical record for a (user, type, bucket).
func CanonicalID(userID string, mt models.MetricType, bucketStart time.Time) uuid.UUID {
	name := userID + "|" + string(mt) + "|" + bucketStart.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(bucketNamespace, []byte(name))
}
