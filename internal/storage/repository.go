// ABOUTME: Repository interface for the sync core's durable state.
// ABOUTME: One collection per entity: metrics, devices, schedules, sync logs, conflicts, correlations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MetricQuery filters the canonical timeline.
type MetricQuery struct {
	UserID      string
	DeviceID    string
	MetricTypes []models.MetricType
	Start       *time.Time
	End         *time.Time
	Source      models.Source
	Limit       int
	Offset      int
}

// Repository defines the storage interface for the sync core.
// This interface allows swapping implementations (e.g., for testing).
type Repository interface {
	// Canonical timeline
	GetMetric(ctx context.Context, id uuid.UUID) (*models.HealthMetric, error)
	GetMetricInBucket(ctx context.Context, userID string, metricType models.MetricType, bucketStart time.Time) (*models.HealthMetric, error)
	QueryMetrics(ctx context.Context, q MetricQuery) ([]*models.HealthMetric, error)
	ApplyMerge(ctx context.Context, m *models.HealthMetric, c *models.ConflictResolution) error

	// Conflict audit
	GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictResolution, error)
	ListConflicts(ctx context.Context, userID string, limit int) ([]*models.ConflictResolution, error)

	// Devices
	CreateDevice(ctx context.Context, d *models.WearableDevice) error
	GetDevice(ctx context.Context, id uuid.UUID) (*models.WearableDevice, error)
	UpdateDevice(ctx context.Context, d *models.WearableDevice) error
	ListDevices(ctx context.Context, userID string) ([]*models.WearableDevice, error)

	// Schedules
	UpsertSchedule(ctx context.Context, s *models.SyncSchedule) error
	GetSchedule(ctx context.Context, deviceID uuid.UUID) (*models.SyncSchedule, error)
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.SyncSchedule, error)

	// Sync ledger
	AppendSyncLog(ctx context.Context, l *models.SyncLog) error
	ListSyncLogs(ctx context.Context, deviceID uuid.UUID, limit int) ([]*models.SyncLog, error)
	ListSyncLogsSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]*models.SyncLog, error)

	// Correlations
	AppendCorrelation(ctx context.Context, a *models.CorrelationAnalysis) error
	LatestCorrelation(ctx context.Context, userID string, ct models.CorrelationType, start, end time.Time) (*models.CorrelationAnalysis, error)

	// Nutrition (read-only view over the timeline's nutrition metric types)
	NutritionDays(ctx context.Context, userID string, start, end time.Time) ([]models.NutritionDay, error)

	// Export
	GetAllData(ctx context.Context, userID string) (*ExportData, error)

	// Lifecycle
	Close() error
}
