// ABOUTME: ConflictResolution audit records.
// ABOUTME: Created only when a merge detects disagreement and never mutated afterwards.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies what two observations disagreed on.
type ConflictType string

const (
	ConflictTimestamp ConflictType = "timestamp"
	ConflictValue     ConflictType = "value"
	ConflictSource    ConflictType = "source"
)

// ResolutionPolicy names the resolver branch that produced a canonical value.
type ResolutionPolicy string

const (
	PolicyServerWins             ResolutionPolicy = "server_wins"
	PolicyClientWins             ResolutionPolicy = "client_wins"
	PolicyClientWinsByConfidence ResolutionPolicy = "client_wins_by_confidence"
	PolicyMerged                 ResolutionPolicy = "merged"
	PolicyTighterConfidence      ResolutionPolicy = "tighter_confidence"
	PolicyEarliestRecorded       ResolutionPolicy = "earliest_recorded"
	PolicyProvenanceMerge        ResolutionPolicy = "provenance_merge"
	PolicyUserOverride           ResolutionPolicy = "user_override"
)

// ResolvedBy names who or what resolved a conflict.
type ResolvedBy string

const (
	ResolvedBySystem ResolvedBy = "system"
	ResolvedByUser   ResolvedBy = "user"
	ResolvedByManual ResolvedBy = "manual"
)

// Observation is a snapshot of one side of a conflict.
type Observation struct {
	DeviceID   string    `json:"device_id"`
	Source     Source    `json:"source"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ConflictResolution records one detected conflict and how it was settled.
type ConflictResolution struct {
	ID           uuid.UUID        `json:"id"`
	UserID       string           `json:"user_id"`
	MetricType   MetricType       `json:"metric_type"`
	BucketStart  time.Time        `json:"bucket_start"`
	CanonicalID  uuid.UUID        `json:"canonical_id"`
	Type         ConflictType     `json:"type"`
	Policy       ResolutionPolicy `json:"policy"`
	ResolvedBy   ResolvedBy       `json:"resolved_by"`
	Previous     Observation      `json:"previous"`
	Incoming     Observation      `json:"incoming"`
	Winning      Observation      `json:"winning"`
	Losing       *Observation     `json:"losing,omitempty"`
	SupersedesID *uuid.UUID       `json:"supersedes_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
