// ABOUTME: Limiter bounds concurrent and per-second external calls for each vendor.
// ABOUTME: A weighted semaphore caps in-flight calls; a token bucket caps request rate.
package orchestrator

import (
	"context"
	"sync"

	"github.com/harperreed/healthsync/internal/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type vendorLimiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

// Limiter holds one semaphore and one rate limiter per vendor.
type Limiter struct {
	mu       sync.Mutex
	defaults VendorLimits
	limits   map[models.Vendor]VendorLimits
	vendors  map[models.Vendor]*vendorLimiter
}

// NewLimiter creates a limiter. Vendors missing from limits use defaults.
func NewLimiter(defaults VendorLimits, limits map[models.Vendor]VendorLimits) *Limiter {
	return &Limiter{
		defaults: defaults,
		limits:   limits,
		vendors:  make(map[models.Vendor]*vendorLimiter),
	}
}

func (l *Limiter) get(vendor models.Vendor) *vendorLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if vl, ok := l.vendors[vendor]; ok {
		return vl
	}

	cfg, ok := l.limits[vendor]
	if !ok {
		cfg = l.defaults
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	vl := &vendorLimiter{
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		rate: rate.NewLimiter(limit, burst),
	}
	l.vendors[vendor] = vl
	return vl
}

// Acquire blocks until a call to vendor may start. The returned func releases the slot.
func (l *Limiter) Acquire(ctx context.Context, vendor models.Vendor) (func(), error) {
	vl := l.get(vendor)
	if err := vl.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := vl.rate.Wait(ctx); err != nil {
		vl.sem.Release(1)
		return nil, err
	}
	return func() { vl.sem.Release(1) }, nil
}
