// ABOUTME: WearableDevice, DeviceSettings, and SyncSchedule models.
// ABOUTME: Devices are linked per user, soft-disabled on disconnect, never hard-deleted.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Vendor is the closed set of supported wearable vendors.
type Vendor string

const (
	VendorAppleHealth  Vendor = "apple_health"
	VendorGoogleFit    Vendor = "google_fit"
	VendorFitbit       Vendor = "fitbit"
	VendorGarmin       Vendor = "garmin"
	VendorGenericOAuth Vendor = "generic_oauth"
)

// AllVendors lists every supported vendor.
var AllVendors = []Vendor{VendorAppleHealth, VendorGoogleFit, VendorFitbit, VendorGarmin, VendorGenericOAuth}

// IsValidVendor checks if a string names a supported vendor.
func IsValidVendor(s string) bool {
	for _, v := range AllVendors {
		if string(v) == s {
			return true
		}
	}
	return false
}

// DeviceStatus is the connection status of a device.
type DeviceStatus string

const (
	DeviceConnected    DeviceStatus = "connected"
	DeviceDisconnected DeviceStatus = "disconnected"
)

// Reasons recorded alongside a disconnected status.
const (
	ReasonReauthRequired = "reauth_required"
	ReasonUserDisconnect = "user_disconnect"
)

// SyncState is the per-device orchestration state.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateScheduled SyncState = "scheduled"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateSuccess   SyncState = "success"
	SyncStateFailed    SyncState = "failed"
	SyncStatePartial   SyncState = "partial"
)

// DeviceSettings are the user-adjustable sync preferences of a device.
type DeviceSettings struct {
	SyncEnabled    bool         `json:"sync_enabled" yaml:"sync_enabled"`
	CadenceMinutes int          `json:"cadence_minutes" yaml:"cadence_minutes" validate:"gte=0,lte=10080"`
	MetricTypes    []MetricType `json:"metric_types,omitempty" yaml:"metric_types,omitempty"`
	Priority       int          `json:"priority" yaml:"priority" validate:"gte=0,lte=100"`
}

// WearableDevice identifies a (user, vendor, device-instance) pairing.
type WearableDevice struct {
	ID                  uuid.UUID      `json:"id"`
	UserID              string         `json:"user_id"`
	Vendor              Vendor         `json:"vendor"`
	ExternalID          string         `json:"external_id"`
	Name                string         `json:"name"`
	Status              DeviceStatus   `json:"status"`
	StatusReason        string         `json:"status_reason,omitempty"`
	Capabilities        []MetricType   `json:"capabilities"`
	Token               string         `json:"-" yaml:"-"`
	BatteryLevel        *int           `json:"battery_level,omitempty"`
	LastSyncAt          *time.Time     `json:"last_sync_at,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	NeedsAttention      bool           `json:"needs_attention"`
	SyncState           SyncState      `json:"sync_state"`
	Settings            DeviceSettings `json:"settings"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           *time.Time     `json:"deleted_at,omitempty"`
}

// NewWearableDevice creates a connected device with default settings.
func NewWearableDevice(userID string, vendor Vendor, externalID string, capabilities []MetricType) *WearableDevice {
	now := time.Now().UTC()
	return &WearableDevice{
		ID:           uuid.New(),
		UserID:       userID,
		Vendor:       vendor,
		ExternalID:   externalID,
		Name:         string(vendor) + ":" + externalID,
		Status:       DeviceConnected,
		Capabilities: capabilities,
		SyncState:    SyncStateIdle,
		Settings:     DeviceSettings{SyncEnabled: true},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasCapability reports whether the device can supply the metric type.
func (d *WearableDevice) HasCapability(mt MetricType) bool {
	for _, c := range d.Capabilities {
		if c == mt {
			return true
		}
	}
	return false
}

// SyncTypes returns the metric types a sync should fetch: the configured subset of
// capabilities, or all capabilities when none is configured.
func (d *WearableDevice) SyncTypes() []MetricType {
	if len(d.Settings.MetricTypes) == 0 {
		return append([]MetricType(nil), d.Capabilities...)
	}
	var types []MetricType
	for _, mt := range d.Settings.MetricTypes {
		if d.HasCapability(mt) {
			types = append(types, mt)
		}
	}
	return types
}

// IsConnected reports whether automatic syncs may run for this device.
func (d *WearableDevice) IsConnected() bool {
	return d.Status == DeviceConnected && d.DeletedAt == nil
}

// SyncSchedule is the per-device cadence and next-due timestamp.
type SyncSchedule struct {
	DeviceID     uuid.UUID     `json:"device_id"`
	UserID       string        `json:"user_id"`
	Cadence      time.Duration `json:"cadence"`
	NextSyncAt   time.Time     `json:"next_sync_at"`
	BackoffDelay time.Duration `json:"backoff_delay"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IsDue reports whether the schedule should run at now.
func (s *SyncSchedule) IsDue(now time.Time) bool {
	return !now.Before(s.NextSyncAt)
}
