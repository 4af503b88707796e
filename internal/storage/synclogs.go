// ABOUTME: Sync ledger storage.
// ABOUTME: Append-only; ULID ids make id order equal to creation order.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
)

const syncLogColumns = `id, user_id, device_id, trigger, status, records_processed, records_added,
	records_updated, records_failed, conflicts_detected, attempts, duration_ms, errors,
	started_at, finished_at, prev_hash, hash, created_at`

// AppendSyncLog inserts a ledger entry. Entries cannot be updated or deleted afterwards.
func (d *DB) AppendSyncLog(ctx context.Context, l *models.SyncLog) error {
	errs, err := json.Marshal(l.Errors)
	if err != nil {
		return fmt.Errorf("marshal sync errors: %w", err)
	}

	query := `INSERT INTO sync_logs (` + syncLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, query,
		l.ID,
		l.UserID,
		l.DeviceID.String(),
		string(l.Trigger),
		string(l.Status),
		l.RecordsProcessed,
		l.RecordsAdded,
		l.RecordsUpdated,
		l.RecordsFailed,
		l.ConflictsDetected,
		l.Attempts,
		l.DurationMs,
		string(errs),
		formatTime(l.StartedAt),
		formatTime(l.FinishedAt),
		l.PrevHash,
		l.Hash,
		formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns a device's ledger entries, newest first. A zero deviceID lists all devices.
func (d *DB) ListSyncLogs(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE 1=1`
	var args []interface{}
	if deviceID != uuid.Nil {
		query += " AND device_id = ?"
		args = append(args, deviceID.String())
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return d.querySyncLogs(ctx, query, args...)
}

// ListSyncLogsSince returns a device's entries started at or after since, oldest first.
func (d *DB) ListSyncLogsSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]*models.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE device_id = ? AND started_at >= ?
		ORDER BY id ASC`
	return d.querySyncLogs(ctx, query, deviceID.String(), formatTime(since))
}

func (d *DB) querySyncLogs(ctx context.Context, query string, args ...interface{}) ([]*models.SyncLog, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanSyncLog(row rowScanner) (*models.SyncLog, error) {
	var l models.SyncLog
	var deviceID, trigger, status, errs, startedAt, finishedAt, createdAt string

	err := row.Scan(&l.ID, &l.UserID, &deviceID, &trigger, &status, &l.RecordsProcessed,
		&l.RecordsAdded, &l.RecordsUpdated, &l.RecordsFailed, &l.ConflictsDetected,
		&l.Attempts, &l.DurationMs, &errs, &startedAt, &finishedAt, &l.PrevHash, &l.Hash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan sync log: %w", err)
	}

	l.DeviceID, _ = uuid.Parse(deviceID)
	l.Trigger = models.Trigger(trigger)
	l.Status = models.SyncStatus(status)
	l.StartedAt = parseTime(startedAt)
	l.FinishedAt = parseTime(finishedAt)
	l.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(errs), &l.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal sync errors: %w", err)
	}
	return &l, nil
}
