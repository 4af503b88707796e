// ABOUTME: Device lifecycle operations: link, reconnect, disconnect, status, settings.
// ABOUTME: Also routes manual entries through the resolver like any other device.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/adapter"
	"github.com/harperreed/healthsync/internal/metrics"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/normalize"
	"github.com/harperreed/healthsync/internal/resolve"
	"github.com/harperreed/healthsync/internal/storage"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
)

// DeviceInfo is the caller-facing status of a device.
type DeviceInfo struct {
	DeviceID            uuid.UUID             `json:"device_id"`
	UserID              string                `json:"user_id"`
	Vendor              models.Vendor         `json:"vendor"`
	Name                string                `json:"name"`
	Status              models.DeviceStatus   `json:"status"`
	StatusReason        string                `json:"status_reason,omitempty"`
	BatteryLevel        *int                  `json:"battery_level,omitempty"`
	LastSyncAt          *time.Time            `json:"last_sync_at,omitempty"`
	Capabilities        []models.MetricType   `json:"capabilities"`
	SyncState           models.SyncState      `json:"sync_state"`
	NeedsAttention      bool                  `json:"needs_attention"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	FailureRate         float64               `json:"failure_rate"`
	FailureWindow       time.Duration         `json:"failure_window"`
	NextSyncAt          *time.Time            `json:"next_sync_at,omitempty"`
	Settings            models.DeviceSettings `json:"settings"`
}

// LinkDevice authenticates with the vendor and registers a new connected device, due for
// its first sync immediately.
func (o *Orchestrator) LinkDevice(ctx context.Context, userID string, vendor models.Vendor, creds adapter.Credentials, name string) (*models.WearableDevice, error) {
	a, err := o.adapters.Get(vendor)
	if err != nil {
		return nil, err
	}
	token, err := o.authenticate(ctx, a, creds)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	dev := models.NewWearableDevice(userID, vendor, creds.ExternalID, adapter.CapabilitiesOf(a))
	if name != "" {
		dev.Name = name
	}
	dev.Token = string(token)
	dev.CreatedAt = now
	dev.UpdatedAt = now
	if err := o.store.CreateDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	sched := &models.SyncSchedule{
		DeviceID:   dev.ID,
		UserID:     userID,
		Cadence:    o.cadence(dev),
		NextSyncAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.UpsertSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	o.logger.Info("device linked",
		zap.String("user_id", userID),
		zap.String("device_id", dev.ID.String()),
		zap.String("vendor", string(vendor)))
	return dev, nil
}

func (o *Orchestrator) authenticate(ctx context.Context, a adapter.Adapter, creds adapter.Credentials) (adapter.Token, error) {
	var token adapter.Token
	_, err := o.call(ctx, nil, a.Vendor(), "authenticate", func(callCtx context.Context) error {
		var aerr error
		token, aerr = a.Authenticate(callCtx, creds)
		return aerr
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// owned loads deviceID and checks it belongs to userID.
func (o *Orchestrator) owned(ctx context.Context, op, userID string, deviceID uuid.UUID) (*models.WearableDevice, error) {
	dev, err := o.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, syncerr.New(syncerr.DeviceNotConnected, op, "device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if dev.UserID != userID {
		return nil, syncerr.New(syncerr.PermissionDenied, op, "device belongs to another user")
	}
	return dev, nil
}

// Reconnect re-authenticates a disconnected device and makes it due immediately.
func (o *Orchestrator) Reconnect(ctx context.Context, userID string, deviceID uuid.UUID, creds adapter.Credentials) (*models.WearableDevice, error) {
	dev, err := o.owned(ctx, "reconnect", userID, deviceID)
	if err != nil {
		return nil, err
	}
	a, err := o.adapters.Get(dev.Vendor)
	if err != nil {
		return nil, err
	}
	if creds.ExternalID == "" {
		creds.ExternalID = dev.ExternalID
	}
	token, err := o.authenticate(ctx, a, creds)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	dev.Token = string(token)
	dev.Status = models.DeviceConnected
	dev.StatusReason = ""
	dev.DeletedAt = nil
	dev.ConsecutiveFailures = 0
	dev.NeedsAttention = false
	dev.SyncState = models.SyncStateIdle
	dev.UpdatedAt = now
	if err := o.store.UpdateDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}

	sched, err := o.store.GetSchedule(ctx, dev.ID)
	if errors.Is(err, storage.ErrNotFound) {
		sched = &models.SyncSchedule{DeviceID: dev.ID, UserID: dev.UserID, CreatedAt: now}
	} else if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	sched.Cadence = o.cadence(dev)
	sched.BackoffDelay = 0
	sched.NextSyncAt = now
	sched.UpdatedAt = now
	if err := o.store.UpsertSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	o.logger.Info("device reconnected", zap.String("device_id", dev.ID.String()))
	return dev, nil
}

// Disconnect soft-deletes a device and tells any in-flight sync to stop after its current
// call. History referencing the device is kept.
func (o *Orchestrator) Disconnect(ctx context.Context, userID string, deviceID uuid.UUID) error {
	dev, err := o.owned(ctx, "disconnect", userID, deviceID)
	if err != nil {
		return err
	}
	o.signalAbort(deviceID)

	now := o.now().UTC()
	if err := o.store.MarkDisconnected(ctx, dev.ID, models.ReasonUserDisconnect, now); err != nil {
		return fmt.Errorf("update device: %w", err)
	}

	o.logger.Info("device disconnected", zap.String("device_id", dev.ID.String()))
	return nil
}

// DeviceStatus reports a device's connection and sync state.
func (o *Orchestrator) DeviceStatus(ctx context.Context, deviceID uuid.UUID) (*DeviceInfo, error) {
	dev, err := o.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, syncerr.New(syncerr.DeviceNotConnected, "status", "device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	info := &DeviceInfo{
		DeviceID:            dev.ID,
		UserID:              dev.UserID,
		Vendor:              dev.Vendor,
		Name:                dev.Name,
		Status:              dev.Status,
		StatusReason:        dev.StatusReason,
		BatteryLevel:        dev.BatteryLevel,
		LastSyncAt:          dev.LastSyncAt,
		Capabilities:        dev.Capabilities,
		SyncState:           dev.SyncState,
		NeedsAttention:      dev.NeedsAttention,
		ConsecutiveFailures: dev.ConsecutiveFailures,
		Settings:            dev.Settings,
	}
	if o.isSyncing(deviceID) {
		info.SyncState = models.SyncStateSyncing
	}
	info.FailureWindow = o.cfg.FailureWindow
	info.FailureRate, err = o.ledger.FailureRate(ctx, deviceID, o.cfg.FailureWindow, o.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failure rate: %w", err)
	}

	sched, err := o.store.GetSchedule(ctx, deviceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if sched != nil && dev.IsConnected() {
		next := sched.NextSyncAt
		info.NextSyncAt = &next
	}
	return info, nil
}

// UpdateSettings replaces a device's sync settings. A cadence change re-arms the schedule
// from the last run.
func (o *Orchestrator) UpdateSettings(ctx context.Context, userID string, deviceID uuid.UUID, settings models.DeviceSettings) (bool, error) {
	dev, err := o.owned(ctx, "settings", userID, deviceID)
	if err != nil {
		return false, err
	}
	for _, mt := range settings.MetricTypes {
		if !dev.HasCapability(mt) {
			return false, syncerr.New(syncerr.DataInvalid, "settings",
				fmt.Sprintf("device cannot supply metric type %s", mt))
		}
	}

	now := o.now().UTC()
	dev.Settings = settings
	if err := o.store.UpdateDeviceSettings(ctx, dev.ID, settings, now); err != nil {
		return false, fmt.Errorf("update device: %w", err)
	}

	sched, err := o.store.GetSchedule(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get schedule: %w", err)
	}
	cadence := o.cadence(dev)
	if cadence != sched.Cadence {
		from := now
		if sched.LastRunAt != nil {
			from = *sched.LastRunAt
		}
		wait := cadence
		if sched.BackoffDelay > wait {
			wait = sched.BackoffDelay
		}
		sched.Cadence = cadence
		sched.NextSyncAt = from.Add(wait)
		sched.UpdatedAt = now
		if err := o.store.UpsertSchedule(ctx, sched); err != nil {
			return false, fmt.Errorf("update schedule: %w", err)
		}
	}
	return true, nil
}

// RecordManual merges a user-entered reading. Manual readings are sticky against later
// automatic ones for the same bucket.
func (o *Orchestrator) RecordManual(ctx context.Context, userID string, sample models.RawSample) (resolve.Outcome, error) {
	sample.Source = models.SourceManual
	if sample.Confidence == 0 {
		sample.Confidence = 1
	}
	res := normalize.Normalize(userID, models.ManualDeviceID, []models.RawSample{sample}, o.now().UTC())
	if len(res.Rejected) > 0 {
		return resolve.Outcome{}, res.Rejected[0].Err
	}
	if len(res.Metrics) == 0 {
		return resolve.Outcome{}, syncerr.New(syncerr.DataInvalid, "record", "no metric produced")
	}

	out, err := o.timeline.Merge(ctx, res.Metrics[0])
	if err != nil {
		return resolve.Outcome{}, err
	}
	if out.Conflict != nil {
		metrics.ConflictsTotal.WithLabelValues(string(out.Conflict.Type), string(out.Conflict.Policy)).Inc()
	}
	if out.Action != resolve.ActionNoop && out.Canonical.DeviceID == models.ManualDeviceID {
		o.pushManual(ctx, userID, out.Canonical)
	}
	return out, nil
}

// pushManual writes a user-entered reading back to every connected device of userID that
// can supply its metric type. The key covers the device and the reading's revision, so a
// replay sends nothing. Failures are logged; the reading is already on the timeline.
func (o *Orchestrator) pushManual(ctx context.Context, userID string, m *models.HealthMetric) {
	devices, err := o.store.ListDevices(ctx, userID)
	if err != nil {
		o.logger.Warn("list devices for push", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, dev := range devices {
		if !dev.IsConnected() || dev.Token == "" || !dev.HasCapability(m.MetricType) {
			continue
		}
		a, err := o.adapters.Get(dev.Vendor)
		if err != nil {
			continue
		}
		batch := adapter.PushBatch{
			IdempotencyKey: fmt.Sprintf("%s:%s:%d", dev.ID, m.ID, m.UpdatedAt.UnixNano()),
			Metrics:        []*models.HealthMetric{m},
		}
		var ack adapter.Ack
		_, err = o.call(ctx, nil, dev.Vendor, "push", func(callCtx context.Context) error {
			var perr error
			ack, perr = a.PushMetrics(callCtx, adapter.Token(dev.Token), batch)
			return perr
		})
		log := o.logger.With(
			zap.String("device_id", dev.ID.String()),
			zap.String("vendor", string(dev.Vendor)),
			zap.String("metric_type", string(m.MetricType)))
		if err != nil {
			metrics.PushesTotal.WithLabelValues(string(dev.Vendor), string(syncerr.KindOf(err))).Inc()
			log.Warn("push failed", zap.Error(err))
			continue
		}
		result := "ok"
		if ack.Duplicate {
			result = "duplicate"
		}
		metrics.PushesTotal.WithLabelValues(string(dev.Vendor), result).Inc()
		log.Debug("pushed manual reading", zap.Int("accepted", ack.Accepted))
	}
}
