// ABOUTME: Registry maps a device's stored Vendor to its Adapter.
// ABOUTME: Built once at startup and read concurrently afterwards.
package adapter

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/harperreed/healthsync/internal/idempotency"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
)

// Registry holds one Adapter per vendor.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Vendor]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Vendor]Adapter)}
}

// NewHTTPRegistry registers an HTTPAdapter for every built-in profile. baseURLs overrides
// profile base URLs per vendor.
func NewHTTPRegistry(client *http.Client, baseURLs map[models.Vendor]string, keys *idempotency.Store, logger *zap.Logger) *Registry {
	r := NewRegistry()
	for vendor, profile := range Profiles() {
		if u, ok := baseURLs[vendor]; ok && u != "" {
			profile.BaseURL = u
		}
		r.Register(NewHTTPAdapter(profile, client, keys, logger))
	}
	return r
}

// Register adds or replaces the adapter for its vendor.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Vendor()] = a
}

// Get returns the adapter for vendor.
func (r *Registry) Get(vendor models.Vendor) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[vendor]
	if !ok {
		return nil, syncerr.New(syncerr.UnknownError, "registry", fmt.Sprintf("no adapter for vendor %s", vendor))
	}
	return a, nil
}
