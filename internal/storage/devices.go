// ABOUTME: WearableDevice and SyncSchedule storage.
// ABOUTME: Devices are soft-deleted via deleted_at; schedules are keyed by device.
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

const deviceColumns = `id, user_id, vendor, external_id, name, status, status_reason, capabilities,
	token, battery_level, last_sync_at, consecutive_failures, needs_attention, sync_state,
	settings, created_at, updated_at, deleted_at`

// CreateDevice stores a newly linked device.
func (d *DB) CreateDevice(ctx context.Context, dev *models.WearableDevice) error {
	args, err := deviceArgs(dev)
	if err != nil {
		return err
	}
	query := `INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// UpdateDevice overwrites a device's mutable fields.
func (d *DB) UpdateDevice(ctx context.Context, dev *models.WearableDevice) error {
	caps, err := json.Marshal(dev.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	settings, err := json.Marshal(dev.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	query := `UPDATE devices SET
		name = ?, status = ?, status_reason = ?, capabilities = ?, token = ?,
		battery_level = ?, last_sync_at = ?, consecutive_failures = ?, needs_attention = ?,
		sync_state = ?, settings = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`
	result, err := d.db.ExecContext(ctx, query,
		dev.Name,
		string(dev.Status),
		dev.StatusReason,
		string(caps),
		dev.Token,
		nullInt(dev.BatteryLevel),
		formatNullTime(dev.LastSyncAt),
		dev.ConsecutiveFailures,
		dev.NeedsAttention,
		string(dev.SyncState),
		string(settings),
		formatTime(dev.UpdatedAt),
		formatNullTime(dev.DeletedAt),
		dev.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSyncState moves a connected device to state. It reports false, writing nothing, when
// the device is missing, disconnected or soft-deleted.
func (d *DB) SetSyncState(ctx context.Context, id uuid.UUID, state models.SyncState, at time.Time) (bool, error) {
	query := `UPDATE devices SET sync_state = ?, updated_at = ?
		WHERE id = ? AND status = ? AND deleted_at IS NULL`
	result, err := d.db.ExecContext(ctx, query,
		string(state), formatTime(at), id.String(), string(models.DeviceConnected))
	if err != nil {
		return false, fmt.Errorf("set sync state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set sync state: %w", err)
	}
	return affected > 0, nil
}

// SyncOutcome is what a finished run writes back onto its device.
type SyncOutcome struct {
	DeviceID            uuid.UUID
	State               models.SyncState
	ConsecutiveFailures int
	NeedsAttention      bool
	BatteryLevel        *int
	LastSyncAt          *time.Time
	ReauthRequired      bool
	At                  time.Time
}

// RecordSyncOutcome writes a run's outcome. Connection fields are left alone, except that
// ReauthRequired disconnects a device that is still connected. It reports whether that
// disconnect happened. A nil BatteryLevel or LastSyncAt keeps the stored value.
func (d *DB) RecordSyncOutcome(ctx context.Context, o SyncOutcome) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin sync outcome: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE devices SET
		sync_state = ?, consecutive_failures = ?, needs_attention = ?,
		battery_level = COALESCE(?, battery_level), last_sync_at = COALESCE(?, last_sync_at),
		updated_at = ?
		WHERE id = ?`,
		string(o.State),
		o.ConsecutiveFailures,
		o.NeedsAttention,
		nullInt(o.BatteryLevel),
		formatNullTime(o.LastSyncAt),
		formatTime(o.At),
		o.DeviceID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("record sync outcome: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return false, fmt.Errorf("record sync outcome: %w", err)
	} else if affected == 0 {
		return false, ErrNotFound
	}

	disconnected := false
	if o.ReauthRequired {
		result, err := tx.ExecContext(ctx, `UPDATE devices SET status = ?, status_reason = ?, updated_at = ?
			WHERE id = ? AND status = ? AND deleted_at IS NULL`,
			string(models.DeviceDisconnected),
			models.ReasonReauthRequired,
			formatTime(o.At),
			o.DeviceID.String(),
			string(models.DeviceConnected),
		)
		if err != nil {
			return false, fmt.Errorf("mark reauth required: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("mark reauth required: %w", err)
		}
		disconnected = affected > 0
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit sync outcome: %w", err)
	}
	return disconnected, nil
}

// MarkDisconnected soft-deletes a device and drops its credentials.
func (d *DB) MarkDisconnected(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	query := `UPDATE devices SET status = ?, status_reason = ?, token = '', deleted_at = ?, updated_at = ?
		WHERE id = ?`
	result, err := d.db.ExecContext(ctx, query,
		string(models.DeviceDisconnected), reason, formatTime(at), formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("mark disconnected: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark disconnected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDeviceSettings replaces only a device's sync settings.
func (d *DB) UpdateDeviceSettings(ctx context.Context, id uuid.UUID, settings models.DeviceSettings, at time.Time) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	result, err := d.db.ExecContext(ctx, `UPDATE devices SET settings = ?, updated_at = ? WHERE id = ?`,
		string(data), formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDevice retrieves a device by ID, including soft-deleted devices.
func (d *DB) GetDevice(ctx context.Context, id uuid.UUID) (*models.WearableDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
	return scanDevice(d.db.QueryRowContext(ctx, query, id.String()))
}

// ListDevices returns a user's devices ordered by creation time. An empty userID lists all.
func (d *DB) ListDevices(ctx context.Context, userID string) ([]*models.WearableDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE 1=1`
	var args []interface{}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.WearableDevice
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

func deviceArgs(dev *models.WearableDevice) ([]interface{}, error) {
	caps, err := json.Marshal(dev.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	settings, err := json.Marshal(dev.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return []interface{}{
		dev.ID.String(),
		dev.UserID,
		string(dev.Vendor),
		dev.ExternalID,
		dev.Name,
		string(dev.Status),
		dev.StatusReason,
		string(caps),
		dev.Token,
		nullInt(dev.BatteryLevel),
		formatNullTime(dev.LastSyncAt),
		dev.ConsecutiveFailures,
		dev.NeedsAttention,
		string(dev.SyncState),
		string(settings),
		formatTime(dev.CreatedAt),
		formatTime(dev.UpdatedAt),
		formatNullTime(dev.DeletedAt),
	}, nil
}

func scanDevice(row rowScanner) (*models.WearableDevice, error) {
	var dev models.WearableDevice
	var idStr, vendor, status, caps, syncState, settings, createdAt, updatedAt string
	var reason, token, lastSync, deletedAt sql.NullString
	var battery sql.NullInt64

	err := row.Scan(&idStr, &dev.UserID, &vendor, &dev.ExternalID, &dev.Name, &status, &reason,
		&caps, &token, &battery, &lastSync, &dev.ConsecutiveFailures, &dev.NeedsAttention,
		&syncState, &settings, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}

	dev.ID, _ = uuid.Parse(idStr)
	dev.Vendor = models.Vendor(vendor)
	dev.Status = models.DeviceStatus(status)
	dev.StatusReason = reason.String
	dev.Token = token.String
	dev.SyncState = models.SyncState(syncState)
	dev.LastSyncAt = parseNullTime(lastSync)
	dev.DeletedAt = parseNullTime(deletedAt)
	dev.CreatedAt = parseTime(createdAt)
	dev.UpdatedAt = parseTime(updatedAt)
	if battery.Valid {
		b := int(battery.Int64)
		dev.BatteryLevel = &b
	}
	if err := json.Unmarshal([]byte(caps), &dev.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &dev.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &dev, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

const scheduleColumns = `device_id, user_id, cadence_ms, next_sync_at, backoff_ms, last_run_at, created_at, updated_at`

// UpsertSchedule creates or replaces a device's schedule.
func (d *DB) UpsertSchedule(ctx context.Context, s *models.SyncSchedule) error {
	query := `INSERT INTO sync_schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			cadence_ms = excluded.cadence_ms,
			next_sync_at = excluded.next_sync_at,
			backoff_ms = excluded.backoff_ms,
			last_run_at = excluded.last_run_at,
			updated_at = excluded.updated_at`
	_, err := d.db.ExecContext(ctx, query,
		s.DeviceID.String(),
		s.UserID,
		s.Cadence.Milliseconds(),
		formatTime(s.NextSyncAt),
		s.BackoffDelay.Milliseconds(),
		formatNullTime(s.LastRunAt),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves the schedule of a device.
func (d *DB) GetSchedule(ctx context.Context, deviceID uuid.UUID) (*models.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE device_id = ?`
	return scanSchedule(d.db.QueryRowContext(ctx, query, deviceID.String()))
}

// ListDueSchedules returns schedules of connected devices whose next sync is at or before now,
// earliest first.
func (d *DB) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.SyncSchedule, error) {
	query := `SELECT s.device_id, s.user_id, s.cadence_ms, s.next_sync_at, s.backoff_ms,
			s.last_run_at, s.created_at, s.updated_at
		FROM sync_schedules s
		JOIN devices dv ON dv.id = s.device_id
		WHERE s.next_sync_at <= ? AND dv.status = ? AND dv.deleted_at IS NULL
		ORDER BY s.next_sync_at ASC`
	args := []interface{}{formatTime(now), string(models.DeviceConnected)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.SyncSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (*models.SyncSchedule, error) {
	var s models.SyncSchedule
	var deviceID, nextSync, createdAt, updatedAt string
	var cadenceMs, backoffMs int64
	var lastRun sql.NullString

	err := row.Scan(&deviceID, &s.UserID, &cadenceMs, &nextSync, &backoffMs, &lastRun, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	s.DeviceID, _ = uuid.Parse(deviceID)
	s.Cadence = time.Duration(cadenceMs) * time.Millisecond
	s.BackoffDelay = time.Duration(backoffMs) * time.Millisecond
	s.NextSyncAt = parseTime(nextSync)
	s.LastRunAt = parseNullTime(lastRun)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}
