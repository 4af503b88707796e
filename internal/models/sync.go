// ABOUTME: SyncLog ledger entries and SyncResult summaries.
// ABOUTME: Sync logs are immutable once written; results always report granular counts.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the outcome of one orchestration attempt.
type SyncStatus string

const (
	SyncSuccess  SyncStatus = "success"
	SyncFailed   SyncStatus = "failed"
	SyncPartial  SyncStatus = "partial"
	SyncConflict SyncStatus = "conflict"
)

// IsFailure reports whether the status counts toward consecutive-failure escalation.
func (s SyncStatus) IsFailure() bool {
	return s == SyncFailed || s == SyncPartial
}

// Trigger is what started a sync.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerUser     Trigger = "user"
)

// SyncError is one failure recorded during a sync.
type SyncError struct {
	Kind       string     `json:"kind"`
	MetricType MetricType `json:"metric_type,omitempty"`
	Message    string     `json:"message"`
}

// SyncLog is one append-only ledger entry per orchestration attempt.
type SyncLog struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	DeviceID          uuid.UUID   `json:"device_id"`
	Trigger           Trigger     `json:"trigger"`
	Status            SyncStatus  `json:"status"`
	RecordsProcessed  int         `json:"records_processed"`
	RecordsAdded      int         `json:"records_added"`
	RecordsUpdated    int         `json:"records_updated"`
	RecordsFailed     int         `json:"records_failed"`
	ConflictsDetected int         `json:"conflicts_detected"`
	Attempts          int         `json:"attempts"`
	DurationMs        int64       `json:"duration_ms"`
	Errors            []SyncError `json:"errors,omitempty"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        time.Time   `json:"finished_at"`
	PrevHash          string      `json:"prev_hash"`
	Hash              string      `json:"hash"`
	CreatedAt         time.Time   `json:"created_at"`
}

// SyncResult is the caller-facing summary of a sync.
type SyncResult struct {
	Success          bool        `json:"success"`
	Status           SyncStatus  `json:"status"`
	SyncLogID        string      `json:"sync_log_id,omitempty"`
	RecordsProcessed int         `json:"records_processed"`
	RecordsAdded     int         `json:"records_added"`
	RecordsUpdated   int         `json:"records_updated"`
	RecordsFailed    int         `json:"records_failed"`
	Conflicts        int         `json:"conflicts"`
	Errors           []SyncError `json:"errors,omitempty"`
	DurationMs       int64       `json:"duration_ms"`
}
