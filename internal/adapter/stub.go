// ABOUTME: Stub is a scriptable in-process Adapter.
// ABOUTME: Used by tests and the demo command to simulate vendor behaviour without a network.
package adapter

import (
	"context"
	"sync"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
)

// Stub serves canned samples and scripted failures.
type Stub struct {
	VendorName models.Vendor

	mu       sync.Mutex
	samples  map[models.MetricType][]models.RawSample
	failures map[models.MetricType][]error
	authErr  error
	battery  *int
	pushed   map[string]Ack
	batches  []PushBatch
	calls    map[models.MetricType]int
	caps     []models.MetricType
	// OnFetch, when set, runs at the start of every fetch.
	OnFetch func(ctx context.Context, types []models.MetricType)
}

// NewStub creates a stub for vendor.
func NewStub(vendor models.Vendor) *Stub {
	return &Stub{
		VendorName: vendor,
		samples:    make(map[models.MetricType][]models.RawSample),
		failures:   make(map[models.MetricType][]error),
		pushed:     make(map[string]Ack),
		calls:      make(map[models.MetricType]int),
	}
}

// Vendor returns the stub's vendor.
func (s *Stub) Vendor() models.Vendor {
	return s.VendorName
}

// AddSamples queues samples returned for their metric type on every fetch.
func (s *Stub) AddSamples(samples ...models.RawSample) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		s.samples[sample.MetricType] = append(s.samples[sample.MetricType], sample)
	}
	return s
}

// SetSamples replaces the samples served for a metric type.
func (s *Stub) SetSamples(mt models.MetricType, samples []models.RawSample) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[mt] = samples
	return s
}

// FailNext makes the next fetches of mt fail with errs, one per call, in order.
func (s *Stub) FailNext(mt models.MetricType, errs ...error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[mt] = append(s.failures[mt], errs...)
	return s
}

// FailAuth makes Authenticate fail with err.
func (s *Stub) FailAuth(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authErr = err
	return s
}

// SetBattery sets the reported battery level.
func (s *Stub) SetBattery(level int) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = &level
	return s
}

// SetCapabilities sets the metric types the stub reports serving.
func (s *Stub) SetCapabilities(types ...models.MetricType) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = types
	return s
}

// Capabilities returns the configured capabilities.
func (s *Stub) Capabilities() []models.MetricType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MetricType(nil), s.caps...)
}

// Calls returns how many times mt was fetched.
func (s *Stub) Calls(mt models.MetricType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[mt]
}

// Authenticate returns a token derived from the external id.
func (s *Stub) Authenticate(_ context.Context, creds Credentials) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authErr != nil {
		return "", s.authErr
	}
	if creds.ExternalID == "" {
		return "", syncerr.New(syncerr.AuthFailed, "authenticate", "missing external id")
	}
	return Token("stub-" + creds.ExternalID), nil
}

// FetchMetrics returns the queued samples of the requested types that fall in w.
func (s *Stub) FetchMetrics(ctx context.Context, _ Token, types []models.MetricType, w Window) ([]models.RawSample, error) {
	if s.OnFetch != nil {
		s.OnFetch(ctx, types)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.RawSample
	for _, mt := range types {
		s.calls[mt]++
		if errs := s.failures[mt]; len(errs) > 0 {
			s.failures[mt] = errs[1:]
			return nil, errs[0]
		}
		for _, sample := range s.samples[mt] {
			if !w.Start.IsZero() && sample.OccurredAt.Before(w.Start) {
				continue
			}
			if !w.End.IsZero() && !sample.OccurredAt.Before(w.End) {
				continue
			}
			out = append(out, sample)
		}
	}
	return out, nil
}

// PushMetrics acknowledges a batch once per idempotency key.
func (s *Stub) PushMetrics(_ context.Context, _ Token, batch PushBatch) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ack, ok := s.pushed[batch.IdempotencyKey]; ok {
		ack.Duplicate = true
		return ack, nil
	}
	ack := Ack{IdempotencyKey: batch.IdempotencyKey, Accepted: len(batch.Metrics)}
	s.pushed[batch.IdempotencyKey] = ack
	s.batches = append(s.batches, batch)
	return ack, nil
}

// Pushed returns the batches accepted so far, duplicates excluded.
func (s *Stub) Pushed() []PushBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PushBatch(nil), s.batches...)
}

// BatteryLevel returns the scripted battery level.
func (s *Stub) BatteryLevel(_ context.Context, _ Token) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery == nil {
		return 0, syncerr.New(syncerr.UnknownError, "battery", "not reported")
	}
	return *s.battery, nil
}
