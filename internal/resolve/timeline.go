// ABOUTME: Timeline applies resolver outcomes to storage.
// ABOUTME: The only writer of canonical metrics; merges serialize per (user, metric type).
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/storage"
	"go.uber.org/zap"
)

// Store is the slice of storage the timeline needs.
type Store interface {
	GetMetric(ctx context.Context, id uuid.UUID) (*models.HealthMetric, error)
	GetMetricInBucket(ctx context.Context, userID string, metricType models.MetricType, bucketStart time.Time) (*models.HealthMetric, error)
	ApplyMerge(ctx context.Context, m *models.HealthMetric, c *models.ConflictResolution) error
	GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictResolution, error)
}

// Timeline is the canonical per-user metric history.
type Timeline struct {
	store  Store
	policy Policy
	locks  *keyedMutex
	logger *zap.Logger
}

// NewTimeline creates a timeline over store.
func NewTimeline(store Store, policy Policy, logger *zap.Logger) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeline{store: store, policy: policy, locks: newKeyedMutex(), logger: logger}
}

// Policy returns the resolver tunables in use.
func (t *Timeline) Policy() Policy {
	return t.policy
}

// Merge resolves incoming against the stored bucket and persists the outcome atomically.
func (t *Timeline) Merge(ctx context.Context, incoming *models.HealthMetric) (Outcome, error) {
	unlock := t.locks.Lock(incoming.UserID + "|" + string(incoming.MetricType))
	defer unlock()

	existing, err := t.store.GetMetricInBucket(ctx, incoming.UserID, incoming.MetricType, incoming.BucketStart)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, fmt.Errorf("load bucket: %w", err)
	}
	if errors.Is(err, storage.ErrNotFound) {
		existing = nil
	}

	out := Resolve(existing, incoming, t.policy)
	if out.Action == ActionNoop {
		return out, nil
	}
	if err := t.store.ApplyMerge(ctx, out.Canonical, out.Conflict); err != nil {
		return Outcome{}, fmt.Errorf("apply merge: %w", err)
	}

	if out.Conflict != nil {
		t.logger.Debug("conflict resolved",
			zap.String("user_id", incoming.UserID),
			zap.String("metric_type", string(incoming.MetricType)),
			zap.String("type", string(out.Conflict.Type)),
			zap.String("policy", string(out.Conflict.Policy)),
			zap.Float64("value", out.Canonical.Value))
	}
	return out, nil
}

// Override lets a user replace the canonical value decided by a conflict. It records a new
// conflict row superseding conflictID and returns it.
func (t *Timeline) Override(ctx context.Context, conflictID uuid.UUID, value float64, at time.Time) (Outcome, error) {
	prior, err := t.store.GetConflict(ctx, conflictID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get conflict: %w", err)
	}

	unlock := t.locks.Lock(prior.UserID + "|" + string(prior.MetricType))
	defer unlock()

	canonical, err := t.store.GetMetric(ctx, prior.CanonicalID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get canonical metric: %w", err)
	}

	out := Override(canonical, prior, value, at)
	if err := t.store.ApplyMerge(ctx, out.Canonical, out.Conflict); err != nil {
		return Outcome{}, fmt.Errorf("apply override: %w", err)
	}
	return out, nil
}

// keyedMutex hands out one mutex per key and drops it when no holder remains.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is held and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
