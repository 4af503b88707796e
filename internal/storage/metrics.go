// ABOUTME: Canonical timeline operations for SQLite storage.
// ABOUTME: At most one row per (user, metric type, bucket); merges commit atomically with their audit row.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
)

const metricColumns = `id, user_id, device_id, metric_type, value, unit, occurred_at, bucket_start,
	source, confidence, recorded_at, synced_at, contributions, notes, created_at, updated_at`

// GetMetric retrieves a canonical metric by ID.
func (d *DB) GetMetric(ctx context.Context, id uuid.UUID) (*models.HealthMetric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE id = ?`
	return scanMetric(d.db.QueryRowContext(ctx, query, id.String()))
}

// GetMetricInBucket retrieves the canonical metric for a bucket, or ErrNotFound.
func (d *DB) GetMetricInBucket(ctx context.Context, userID string, metricType models.MetricType, bucketStart time.Time) (*models.HealthMetric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics
		WHERE user_id = ? AND metric_type = ? AND bucket_start = ?`
	return scanMetric(d.db.QueryRowContext(ctx, query, userID, string(metricType), formatTime(bucketStart)))
}

// QueryMetrics returns canonical metrics matching q, most recent first.
func (d *DB) QueryMetrics(ctx context.Context, q MetricQuery) ([]*models.HealthMetric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE 1=1`
	var args []interface{}

	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if q.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, q.DeviceID)
	}
	if len(q.MetricTypes) > 0 {
		placeholders := make([]string, len(q.MetricTypes))
		for i, mt := range q.MetricTypes {
			placeholders[i] = "?"
			args = append(args, string(mt))
		}
		query += " AND metric_type IN (" + strings.Join(placeholders, ",") + ")"
	}
	if q.Start != nil {
		query += " AND occurred_at >= ?"
		args = append(args, formatTime(*q.Start))
	}
	if q.End != nil {
		query += " AND occurred_at < ?"
		args = append(args, formatTime(*q.End))
	}
	if q.Source != "" {
		query += " AND source = ?"
		args = append(args, string(q.Source))
	}

	query += " ORDER BY occurred_at DESC, metric_type ASC"
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*models.HealthMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// ApplyMerge writes the canonical metric and, when present, its conflict record in
// one transaction. Either both land or neither does.
func (d *DB) ApplyMerge(ctx context.Context, m *models.HealthMetric, c *models.ConflictResolution) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMetric(ctx, tx, m); err != nil {
		return err
	}
	if c != nil {
		if err := insertConflict(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

func upsertMetric(ctx context.Context, tx *sql.Tx, m *models.HealthMetric) error {
	contributions, err := json.Marshal(m.Contributions)
	if err != nil {
		return fmt.Errorf("marshal contributions: %w", err)
	}

	query := `INSERT INTO metrics (` + metricColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			value = excluded.value,
			unit = excluded.unit,
			occurred_at = excluded.occurred_at,
			source = excluded.source,
			confidence = excluded.confidence,
			recorded_at = excluded.recorded_at,
			synced_at = excluded.synced_at,
			contributions = excluded.contributions,
			notes = excluded.notes,
			updated_at = excluded.updated_at`

	_, err = tx.ExecContext(ctx, query,
		m.ID.String(),
		m.UserID,
		m.DeviceID,
		string(m.MetricType),
		m.Value,
		m.Unit,
		formatTime(m.OccurredAt),
		formatTime(m.BucketStart),
		string(m.Source),
		m.Confidence,
		formatTime(m.RecordedAt),
		formatTime(m.SyncedAt),
		string(contributions),
		m.Notes,
		formatTime(m.CreatedAt),
		formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert metric: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMetric(row rowScanner) (*models.HealthMetric, error) {
	var m models.HealthMetric
	var idStr, metricType, occurredAt, bucketStart, source, recordedAt, syncedAt, contributions, createdAt, updatedAt string
	var notes sql.NullString

	err := row.Scan(&idStr, &m.UserID, &m.DeviceID, &metricType, &m.Value, &m.Unit,
		&occurredAt, &bucketStart, &source, &m.Confidence, &recordedAt, &syncedAt,
		&contributions, &notes, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan metric: %w", err)
	}

	m.ID, _ = uuid.Parse(idStr)
	m.MetricType = models.MetricType(metricType)
	m.Source = models.Source(source)
	m.OccurredAt = parseTime(occurredAt)
	m.BucketStart = parseTime(bucketStart)
	m.RecordedAt = parseTime(recordedAt)
	m.SyncedAt = parseTime(syncedAt)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	if notes.Valid {
		m.Notes = &notes.String
	}
	if err := json.Unmarshal([]byte(contributions), &m.Contributions); err != nil {
		return nil, fmt.Errorf("unmarshal contributions: %w", err)
	}

	return &m, nil
}
