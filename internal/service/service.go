// ABOUTME: Caller-facing surface of the sync core: sync, status, data, correlation, settings.
// ABOUTME: Validates input, enforces device ownership, and delegates to the core components.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/adapter"
	"github.com/harperreed/healthsync/internal/correlate"
	"github.com/harperreed/healthsync/internal/ledger"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/orchestrator"
	"github.com/harperreed/healthsync/internal/resolve"
	"github.com/harperreed/healthsync/internal/storage"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Store is the persistence the service reads directly.
type Store interface {
	storage.Repository
	ExportJSON(ctx context.Context, userID string) ([]byte, error)
	ExportYAML(ctx context.Context, userID string) ([]byte, error)
}

// HealthDataQuery filters the canonical timeline. StartDate is inclusive and EndDate
// exclusive.
type HealthDataQuery struct {
	UserID      string              `json:"user_id" validate:"required"`
	DeviceID    string              `json:"device_id,omitempty"`
	MetricTypes []models.MetricType `json:"metric_types,omitempty" validate:"omitempty,dive,metric_type"`
	StartDate   *time.Time          `json:"start_date,omitempty"`
	EndDate     *time.Time          `json:"end_date,omitempty"`
	Source      models.Source       `json:"source,omitempty" validate:"omitempty,source"`
	Limit       int                 `json:"limit" validate:"gte=0,lte=1000"`
	Offset      int                 `json:"offset" validate:"gte=0"`
}

// CorrelationQuery selects a correlation analysis.
type CorrelationQuery struct {
	UserID              string                 `json:"user_id" validate:"required"`
	CorrelationType     models.CorrelationType `json:"correlation_type" validate:"required,correlation_type"`
	StartDate           *time.Time             `json:"start_date,omitempty"`
	EndDate             *time.Time             `json:"end_date,omitempty"`
	ConfidenceThreshold *float64               `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// LinkRequest registers a device with a vendor.
type LinkRequest struct {
	UserID     string        `json:"user_id" validate:"required"`
	Vendor     models.Vendor `json:"vendor" validate:"required,vendor"`
	ExternalID string        `json:"external_id" validate:"required"`
	Code       string        `json:"code"`
	Name       string        `json:"name" validate:"max=100"`
}

// ManualEntry is a user-entered reading.
type ManualEntry struct {
	UserID     string            `json:"user_id" validate:"required"`
	MetricType models.MetricType `json:"metric_type" validate:"required,metric_type"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	OccurredAt time.Time         `json:"occurred_at" validate:"required"`
}

// Service wires the core components behind one API.
type Service struct {
	store    Store
	orch     *orchestrator.Orchestrator
	analyzer *correlate.Analyzer
	timeline *resolve.Timeline
	ledger   *ledger.Ledger
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a service.
func New(store Store, orch *orchestrator.Orchestrator, analyzer *correlate.Analyzer,
	timeline *resolve.Timeline, l *ledger.Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		orch:     orch,
		analyzer: analyzer,
		timeline: timeline,
		ledger:   l,
		now:      time.Now,
		logger:   logger,
	}
}

// SyncDevice runs a user-triggered sync of one device.
func (s *Service) SyncDevice(ctx context.Context, userID string, deviceID uuid.UUID) (*models.SyncResult, error) {
	if userID == "" {
		return nil, syncerr.New(syncerr.DataInvalid, "sync", "user id is required")
	}
	return s.orch.SyncDevice(ctx, userID, deviceID, models.TriggerUser)
}

// DeviceStatus reports one of the user's devices.
func (s *Service) DeviceStatus(ctx context.Context, userID string, deviceID uuid.UUID) (*orchestrator.DeviceInfo, error) {
	info, err := s.orch.DeviceStatus(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if info.UserID != userID {
		return nil, syncerr.New(syncerr.PermissionDenied, "status", "device belongs to another user")
	}
	return info, nil
}

// ListDevices reports every device the user has linked, including disconnected ones.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]*orchestrator.DeviceInfo, error) {
	if userID == "" {
		return nil, syncerr.New(syncerr.DataInvalid, "devices", "user id is required")
	}
	devices, err := s.store.ListDevices(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*orchestrator.DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		info, err := s.orch.DeviceStatus(ctx, dev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// HealthData returns canonical metrics matching q, most recent first.
func (s *Service) HealthData(ctx context.Context, q HealthDataQuery) ([]*models.HealthMetric, error) {
	if err := check("health_data", q); err != nil {
		return nil, err
	}
	if q.StartDate != nil && q.EndDate != nil && !q.EndDate.After(*q.StartDate) {
		return nil, syncerr.New(syncerr.DataInvalid, "health_data", "end_date must be after start_date")
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return s.store.QueryMetrics(ctx, storage.MetricQuery{
		UserID:      q.UserID,
		DeviceID:    q.DeviceID,
		MetricTypes: q.MetricTypes,
		Start:       q.StartDate,
		End:         q.EndDate,
		Source:      q.Source,
		Limit:       limit,
		Offset:      q.Offset,
	})
}

// CorrelationAnalysis returns the analysis for q, served from cache when fresh.
func (s *Service) CorrelationAnalysis(ctx context.Context, q CorrelationQuery) (*models.CorrelationAnalysis, error) {
	if err := check("correlation", q); err != nil {
		return nil, err
	}
	cq := correlate.Query{
		UserID:              q.UserID,
		Type:                q.CorrelationType,
		ConfidenceThreshold: q.ConfidenceThreshold,
	}
	if q.StartDate != nil {
		cq.Start = *q.StartDate
	}
	if q.EndDate != nil {
		cq.End = *q.EndDate
	}
	if !cq.Start.IsZero() && !cq.End.IsZero() && !cq.End.After(cq.Start) {
		return nil, syncerr.New(syncerr.DataInvalid, "correlation", "end_date must be after start_date")
	}
	return s.analyzer.Latest(ctx, cq)
}

// DeviceSettings replaces a device's sync settings.
func (s *Service) DeviceSettings(ctx context.Context, userID string, deviceID uuid.UUID, settings models.DeviceSettings) (bool, error) {
	if err := check("settings", settings); err != nil {
		return false, err
	}
	return s.orch.UpdateSettings(ctx, userID, deviceID, settings)
}

// LinkDevice authenticates with the vendor and registers a new device.
func (s *Service) LinkDevice(ctx context.Context, req LinkRequest) (*models.WearableDevice, error) {
	if err := check("link", req); err != nil {
		return nil, err
	}
	return s.orch.LinkDevice(ctx, req.UserID, req.Vendor,
		adapter.Credentials{ExternalID: req.ExternalID, Code: req.Code}, req.Name)
}

// ReconnectDevice re-authenticates a disconnected device.
func (s *Service) ReconnectDevice(ctx context.Context, userID string, deviceID uuid.UUID, code string) (*models.WearableDevice, error) {
	return s.orch.Reconnect(ctx, userID, deviceID, adapter.Credentials{Code: code})
}

// DisconnectDevice unlinks a device. Its synced history is kept.
func (s *Service) DisconnectDevice(ctx context.Context, userID string, deviceID uuid.UUID) error {
	return s.orch.Disconnect(ctx, userID, deviceID)
}

// RecordManual merges a user-entered reading into the timeline.
func (s *Service) RecordManual(ctx context.Context, e ManualEntry) (*models.HealthMetric, error) {
	if err := check("record", e); err != nil {
		return nil, err
	}
	unit := e.Unit
	if unit == "" {
		unit = models.MetricUnits[e.MetricType]
	}
	out, err := s.orch.RecordManual(ctx, e.UserID, models.RawSample{
		MetricType: e.MetricType,
		Value:      e.Value,
		Unit:       unit,
		OccurredAt: e.OccurredAt,
		RecordedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return out.Canonical, nil
}

// Conflicts lists the user's conflict audit, newest first.
func (s *Service) Conflicts(ctx context.Context, userID string, limit int) ([]*models.ConflictResolution, error) {
	if userID == "" {
		return nil, syncerr.New(syncerr.DataInvalid, "conflicts", "user id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.store.ListConflicts(ctx, userID, limit)
}

// ResolveConflict replaces the value a conflict decided with the user's choice.
func (s *Service) ResolveConflict(ctx context.Context, userID string, conflictID uuid.UUID, value float64) (*models.ConflictResolution, error) {
	c, err := s.store.GetConflict(ctx, conflictID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, syncerr.New(syncerr.DataInvalid, "resolve", "conflict not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	if c.UserID != userID {
		return nil, syncerr.New(syncerr.PermissionDenied, "resolve", "conflict belongs to another user")
	}
	if r, ok := models.MetricRanges[c.MetricType]; ok && !r.Contains(value) {
		return nil, syncerr.New(syncerr.DataInvalid, "resolve",
			fmt.Sprintf("%s value %g outside plausible range", c.MetricType, value))
	}

	out, err := s.timeline.Override(ctx, conflictID, value, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("conflict overridden",
		zap.String("user_id", userID),
		zap.String("conflict_id", conflictID.String()),
		zap.Float64("value", value))
	return out.Conflict, nil
}

// SyncHistory returns a device's most recent ledger entries, newest first.
func (s *Service) SyncHistory(ctx context.Context, userID string, deviceID uuid.UUID, limit int) ([]*models.SyncLog, error) {
	if _, err := s.DeviceStatus(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.ledger.LastN(ctx, deviceID, limit)
}

// VerifyLedger checks a device's ledger hash chain.
func (s *Service) VerifyLedger(ctx context.Context, userID string, deviceID uuid.UUID) (*ledger.VerifyReport, error) {
	if _, err := s.DeviceStatus(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	return s.ledger.Verify(ctx, deviceID)
}

// Export renders a user's data as "json" or "yaml".
func (s *Service) Export(ctx context.Context, userID, format string) ([]byte, error) {
	switch format {
	case "", "json":
		return s.store.ExportJSON(ctx, userID)
	case "yaml", "yml":
		return s.store.ExportYAML(ctx, userID)
	default:
		return nil, syncerr.New(syncerr.DataInvalid, "export", fmt.Sprintf("unsupported format %q", format))
	}
}
