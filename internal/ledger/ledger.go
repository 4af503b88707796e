// ABOUTME: Sync Ledger: append-only, per-device hash-chained history of sync attempts.
// ABOUTME: Answers "when did this device last sync, and how often does it fail?"
package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/oklog/ulid/v2"
)

// Store is the slice of storage the ledger needs.
type Store interface {
	AppendSyncLog(ctx context.Context, l *models.SyncLog) error
	ListSyncLogs(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.SyncLog, error)
	ListSyncLogsSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]*models.SyncLog, error)
}

// consecutiveScanLimit bounds how far back ConsecutiveFailures looks.
const consecutiveScanLimit = 100

// Ledger appends and queries sync log entries.
type Ledger struct {
	store   Store
	mu      sync.Mutex
	entropy io.Reader
	lastMs  uint64
}

// New creates a ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store, entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Append assigns the entry a time-sortable id, links it to the device's previous entry,
// and stores it. The entry is never modified afterwards.
func (l *Ledger) Append(ctx context.Context, entry *models.SyncLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.store.ListSyncLogs(ctx, entry.DeviceID, 1)
	if err != nil {
		return fmt.Errorf("load chain head: %w", err)
	}

	entry.StartedAt = entry.StartedAt.UTC()
	entry.FinishedAt = entry.FinishedAt.UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.FinishedAt
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	id, err := l.nextID(entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("generate sync log id: %w", err)
	}
	entry.ID = id
	entry.PrevHash = ""
	if len(prev) > 0 {
		entry.PrevHash = prev[0].Hash
	}
	entry.Hash, err = ComputeHash(entry)
	if err != nil {
		return fmt.Errorf("hash sync log: %w", err)
	}

	return l.store.AppendSyncLog(ctx, entry)
}

// nextID returns a ULID that sorts after every id this ledger issued before, even when
// the supplied clock stalls or steps backwards.
func (l *Ledger) nextID(at time.Time) (string, error) {
	ms := ulid.Timestamp(at)
	if ms < l.lastMs {
		ms = l.lastMs
	}
	l.lastMs = ms
	id, err := ulid.New(ms, l.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// LastN returns the device's n most recent entries, newest first.
func (l *Ledger) LastN(ctx context.Context, deviceID uuid.UUID, n int) ([]*models.SyncLog, error) {
	return l.store.ListSyncLogs(ctx, deviceID, n)
}

// Last returns the device's most recent entry, or nil if it never synced.
func (l *Ledger) Last(ctx context.Context, deviceID uuid.UUID) (*models.SyncLog, error) {
	logs, err := l.store.ListSyncLogs(ctx, deviceID, 1)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return logs[0], nil
}

// FailureRate is the share of the device's entries since now-window that failed or were partial.
func (l *Ledger) FailureRate(ctx context.Context, deviceID uuid.UUID, window time.Duration, now time.Time) (float64, error) {
	logs, err := l.store.ListSyncLogsSince(ctx, deviceID, now.Add(-window))
	if err != nil {
		return 0, err
	}
	if len(logs) == 0 {
		return 0, nil
	}
	failed := 0
	for _, entry := range logs {
		if entry.Status.IsFailure() {
			failed++
		}
	}
	return float64(failed) / float64(len(logs)), nil
}

// ConsecutiveFailures counts the device's failed or partial runs since its last success.
func (l *Ledger) ConsecutiveFailures(ctx context.Context, deviceID uuid.UUID) (int, error) {
	logs, err := l.store.ListSyncLogs(ctx, deviceID, consecutiveScanLimit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range logs {
		if !entry.Status.IsFailure() {
			break
		}
		n++
	}
	return n, nil
}

// VerifyReport summarizes a chain check.
type VerifyReport struct {
	Entries  int    `json:"entries"`
	LastHash string `json:"last_hash"`
}

// Verify recomputes the device's hash chain from its first entry.
func (l *Ledger) Verify(ctx context.Context, deviceID uuid.UUID) (*VerifyReport, error) {
	logs, err := l.store.ListSyncLogsSince(ctx, deviceID, time.Time{})
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{}
	prevHash := ""
	for _, entry := range logs {
		if entry.PrevHash != prevHash {
			return report, fmt.Errorf("entry %s: prev hash mismatch", entry.ID)
		}
		h, err := ComputeHash(entry)
		if err != nil {
			return report, fmt.Errorf("entry %s: %w", entry.ID, err)
		}
		if h != entry.Hash {
			return report, fmt.Errorf("entry %s: hash mismatch", entry.ID)
		}
		prevHash = entry.Hash
		report.Entries++
		report.LastHash = entry.Hash
	}
	return report, nil
}

// ComputeHash hashes every field of the entry except Hash itself.
func ComputeHash(e *models.SyncLog) (string, error) {
	tmp := struct {
		ID                string             `json:"id"`
		UserID            string             `json:"user_id"`
		DeviceID          uuid.UUID          `json:"device_id"`
		Trigger           models.Trigger     `json:"trigger"`
		Status            models.SyncStatus  `json:"status"`
		RecordsProcessed  int                `json:"records_processed"`
		RecordsAdded      int                `json:"records_added"`
		RecordsUpdated    int                `json:"records_updated"`
		RecordsFailed     int                `json:"records_failed"`
		ConflictsDetected int                `json:"conflicts_detected"`
		Attempts          int                `json:"attempts"`
		DurationMs        int64              `json:"duration_ms"`
		Errors            []models.SyncError `json:"errors"`
		StartedAt         time.Time          `json:"started_at"`
		FinishedAt        time.Time          `json:"finished_at"`
		PrevHash          string             `json:"prev_hash"`
		CreatedAt         time.Time          `json:"created_at"`
	}{
		e.ID, e.UserID, e.DeviceID, e.Trigger, e.Status, e.RecordsProcessed, e.RecordsAdded,
		e.RecordsUpdated, e.RecordsFailed, e.ConflictsDetected, e.Attempts, e.DurationMs,
		nonNilErrors(e.Errors), e.StartedAt.UTC(), e.FinishedAt.UTC(), e.PrevHash, e.CreatedAt.UTC(),
	}
	b, err := json.Marshal(tmp)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

func nonNilErrors(errs []models.SyncError) []models.SyncError {
	if errs == nil {
		return []models.SyncError{}
	}
	return errs
}
