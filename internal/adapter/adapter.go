// ABOUTME: Device Adapter abstraction over wearable vendor APIs.
// ABOUTME: The rest of the system only sees Adapter; vendors differ by VendorProfile.
package adapter

import (
	"context"
	"time"

	"github.com/harperreed/healthsync/internal/models"
)

// Credentials are what a user hands over when linking a device.
type Credentials struct {
	ExternalID string `json:"external_id"`
	Code       string `json:"code"`
}

// Token is an opaque vendor access token.
type Token string

// Window is a half-open [Start, End) fetch range.
type Window struct {
	Start time.Time
	End   time.Time
}

// PushBatch is a set of canonical metrics written back to a vendor.
type PushBatch struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	Metrics        []*models.HealthMetric `json:"metrics"`
}

// Ack is a vendor's acknowledgement of a push.
type Ack struct {
	IdempotencyKey string `json:"idempotency_key"`
	Accepted       int    `json:"accepted"`
	Duplicate      bool   `json:"duplicate"`
}

// Adapter is the capability set every vendor integration provides.
type Adapter interface {
	Vendor() models.Vendor
	Authenticate(ctx context.Context, creds Credentials) (Token, error)
	FetchMetrics(ctx context.Context, token Token, types []models.MetricType, w Window) ([]models.RawSample, error)
	PushMetrics(ctx context.Context, token Token, batch PushBatch) (Ack, error)
}

// BatteryReporter is implemented by adapters whose vendor reports device battery level.
type BatteryReporter interface {
	BatteryLevel(ctx context.Context, token Token) (int, error)
}

// CapabilityReporter is implemented by adapters that know which metric types they serve.
type CapabilityReporter interface {
	Capabilities() []models.MetricType
}

// CapabilitiesOf returns the metric types a can serve, or every metric type when a does
// not say.
func CapabilitiesOf(a Adapter) []models.MetricType {
	if r, ok := a.(CapabilityReporter); ok {
		if caps := r.Capabilities(); len(caps) > 0 {
			return append([]models.MetricType(nil), caps...)
		}
	}
	return append([]models.MetricType(nil), models.AllMetricTypes...)
}
