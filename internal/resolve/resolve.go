// ABOUTME: Conflict Resolver deciding the canonical value when observations overlap.
// ABOUTME: Resolve is pure: identical inputs always give identical outcomes and audit payloads.
package resolve

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
)

// conflictNamespace seeds deterministic conflict record ids.
var conflictNamespace = uuid.MustParse("0b7e3c52-9d4a-5f18-8e26-4a1d9c7f3e60")

// Action is what a merge does to the timeline.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionNoop   Action = "noop"
)

// Policy holds the resolver's tunables.
type Policy struct {
	// MergeMargin is the largest confidence gap at which two automatic readings are averaged.
	MergeMargin float64 `yaml:"merge_margin"`
	// ValueTolerance is the relative difference under which two values agree.
	ValueTolerance float64 `yaml:"value_tolerance"`
}

// DefaultPolicy returns the default resolver tunables.
func DefaultPolicy() Policy {
	return Policy{MergeMargin: 0.1, ValueTolerance: 0.01}
}

// Outcome is the result of merging one incoming metric.
type Outcome struct {
	Action    Action
	Canonical *models.HealthMetric
	Conflict  *models.ConflictResolution
}

// Resolve merges incoming into existing. existing is nil when the bucket is empty.
// Neither argument is modified.
func Resolve(existing, incoming *models.HealthMetric, p Policy) Outcome {
	if existing == nil {
		c := incoming.Clone()
		c.Contributions = []models.Contribution{incoming.AsContribution()}
		return Outcome{Action: ActionInsert, Canonical: c}
	}

	// Replays of an observation already folded in change nothing.
	for _, c := range existing.Contributions {
		if c.DeviceID == incoming.DeviceID && c.OccurredAt.Equal(incoming.OccurredAt) &&
			agree(c.Value, incoming.Value, p.ValueTolerance) {
			return Outcome{Action: ActionNoop, Canonical: existing.Clone()}
		}
	}

	canonical := existing.Clone()
	canonical.Contributions = append(canonical.Contributions, incoming.AsContribution())
	canonical.SyncedAt = incoming.SyncedAt
	canonical.UpdatedAt = incoming.SyncedAt

	var (
		ctype  models.ConflictType
		policy models.ResolutionPolicy
		winner *models.HealthMetric
		loser  *models.HealthMetric
	)

	if agree(existing.Value, incoming.Value, p.ValueTolerance) {
		if existing.OccurredAt.Equal(incoming.OccurredAt) {
			ctype, policy = models.ConflictSource, models.PolicyProvenanceMerge
			winner = existing
		} else {
			ctype = models.ConflictTimestamp
			switch {
			case incoming.Confidence != existing.Confidence:
				policy = models.PolicyTighterConfidence
				winner, loser = byConfidence(existing, incoming)
			case incoming.RecordedAt.Before(existing.RecordedAt):
				policy = models.PolicyEarliestRecorded
				winner, loser = incoming, existing
			default:
				policy = models.PolicyEarliestRecorded
				winner, loser = existing, incoming
			}
		}
	} else {
		ctype = models.ConflictValue
		switch {
		case existing.Source == models.SourceManual && incoming.Source != models.SourceManual:
			policy = models.PolicyServerWins
			winner, loser = existing, incoming
		case incoming.Source == models.SourceManual:
			policy = models.PolicyClientWins
			winner, loser = incoming, existing
		case incoming.DeviceID == existing.DeviceID:
			policy = models.PolicyClientWins
			winner, loser = incoming, existing
		case math.Abs(incoming.Confidence-existing.Confidence) <= p.MergeMargin:
			policy = models.PolicyMerged
			winner, _ = byConfidence(existing, incoming)
		default:
			policy = models.PolicyClientWinsByConfidence
			winner, loser = byConfidence(existing, incoming)
		}
	}

	adopt(canonical, winner)
	if policy == models.PolicyMerged {
		canonical.Value = weightedMean(existing, incoming)
		canonical.Confidence = math.Max(existing.Confidence, incoming.Confidence)
	}

	conflict := &models.ConflictResolution{
		UserID:      existing.UserID,
		MetricType:  existing.MetricType,
		BucketStart: existing.BucketStart,
		CanonicalID: existing.ID,
		Type:        ctype,
		Policy:      policy,
		ResolvedBy:  resolvedBy(policy, incoming),
		Previous:    observe(existing),
		Incoming:    observe(incoming),
		Winning:     observe(canonical),
		CreatedAt:   incoming.SyncedAt,
	}
	if loser != nil {
		l := observe(loser)
		conflict.Losing = &l
	}
	conflict.ID = conflictID(conflict)

	return Outcome{Action: ActionUpdate, Canonical: canonical, Conflict: conflict}
}

// Override settles a bucket by user decision, superseding a prior conflict record.
// The chosen value becomes a sticky manual reading.
func Override(canonical *models.HealthMetric, prior *models.ConflictResolution, value float64, at time.Time) Outcome {
	previous := observe(canonical)

	c := canonical.Clone()
	c.Value = value
	c.DeviceID = models.ManualDeviceID
	c.Source = models.SourceManual
	c.Confidence = 1
	c.RecordedAt = at.UTC()
	c.SyncedAt = at.UTC()
	c.UpdatedAt = at.UTC()
	c.Contributions = append(c.Contributions, c.AsContribution())

	supersedes := prior.ID
	conflict := &models.ConflictResolution{
		UserID:       canonical.UserID,
		MetricType:   canonical.MetricType,
		BucketStart:  canonical.BucketStart,
		CanonicalID:  canonical.ID,
		Type:         models.ConflictValue,
		Policy:       models.PolicyUserOverride,
		ResolvedBy:   models.ResolvedByUser,
		Previous:     previous,
		Incoming:     observe(c),
		Winning:      observe(c),
		SupersedesID: &supersedes,
		CreatedAt:    at.UTC(),
	}
	if previous.Value != value {
		conflict.Losing = &previous
	}
	conflict.ID = conflictID(conflict)

	return Outcome{Action: ActionUpdate, Canonical: c, Conflict: conflict}
}

// agree reports whether a and b are within relative tolerance of each other.
func agree(a, b, tolerance float64) bool {
	diff := math.Abs(a - b)
	if diff == 0 {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= tolerance*scale
}

// byConfidence returns the higher-confidence metric first. Ties keep existing.
func byConfidence(existing, incoming *models.HealthMetric) (winner, loser *models.HealthMetric) {
	if incoming.Confidence > existing.Confidence {
		return incoming, existing
	}
	return existing, incoming
}

func weightedMean(a, b *models.HealthMetric) float64 {
	w := a.Confidence + b.Confidence
	if w == 0 {
		return (a.Value + b.Value) / 2
	}
	return (a.Value*a.Confidence + b.Value*b.Confidence) / w
}

// adopt copies the observation fields of winner onto canonical.
func adopt(canonical, winner *models.HealthMetric) {
	canonical.DeviceID = winner.DeviceID
	canonical.Value = winner.Value
	canonical.OccurredAt = winner.OccurredAt
	canonical.Source = winner.Source
	canonical.Confidence = winner.Confidence
	canonical.RecordedAt = winner.RecordedAt
	if winner.Notes != nil {
		n := *winner.Notes
		canonical.Notes = &n
	}
}

func resolvedBy(policy models.ResolutionPolicy, incoming *models.HealthMetric) models.ResolvedBy {
	if policy == models.PolicyClientWins && incoming.Source == models.SourceManual {
		return models.ResolvedByManual
	}
	return models.ResolvedBySystem
}

func observe(m *models.HealthMetric) models.Observation {
	return models.Observation{
		DeviceID:   m.DeviceID,
		Source:     m.Source,
		Value:      m.Value,
		Confidence: m.Confidence,
		OccurredAt: m.OccurredAt,
	}
}

func conflictID(c *models.ConflictResolution) uuid.UUID {
	name := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		c.UserID, c.MetricType, c.BucketStart.UTC().Format(time.RFC3339Nano), c.Policy,
		observationKey(c.Previous), observationKey(c.Incoming), observationKey(c.Winning),
		c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if c.SupersedesID != nil {
		name += "|" + c.SupersedesID.String()
	}
	return uuid.NewSHA1(conflictNamespace, []byte(name))
}

func observationKey(o models.Observation) string {
	return fmt.Sprintf("%s/%s/%g/%g/%s", o.DeviceID, o.Source, o.Value, o.Confidence,
		o.OccurredAt.UTC().Format(time.RFC3339Nano))
}
