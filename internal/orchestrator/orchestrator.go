// ABOUTME: Sync Orchestrator driving each device through idle, syncing and outcome states.
// ABOUTME: Fetches per metric type concurrently, merges in arrival order, records the ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/adapter"
	"github.com/harperreed/healthsync/internal/ledger"
	"github.com/harperreed/healthsync/internal/metrics"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/normalize"
	"github.com/harperreed/healthsync/internal/notify"
	"github.com/harperreed/healthsync/internal/resolve"
	"github.com/harperreed/healthsync/internal/storage"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxRecordedErrors bounds the per-sample errors kept on one ledger entry.
const maxRecordedErrors = 50

// Store is the slice of storage the orchestrator needs.
type Store interface {
	CreateDevice(ctx context.Context, dev *models.WearableDevice) error
	GetDevice(ctx context.Context, id uuid.UUID) (*models.WearableDevice, error)
	UpdateDevice(ctx context.Context, dev *models.WearableDevice) error
	ListDevices(ctx context.Context, userID string) ([]*models.WearableDevice, error)
	SetSyncState(ctx context.Context, id uuid.UUID, state models.SyncState, at time.Time) (bool, error)
	RecordSyncOutcome(ctx context.Context, o storage.SyncOutcome) (bool, error)
	MarkDisconnected(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	UpdateDeviceSettings(ctx context.Context, id uuid.UUID, settings models.DeviceSettings, at time.Time) error
	UpsertSchedule(ctx context.Context, s *models.SyncSchedule) error
	GetSchedule(ctx context.Context, deviceID uuid.UUID) (*models.SyncSchedule, error)
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.SyncSchedule, error)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithRandom replaces the jitter source, which must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(o *Orchestrator) { o.random = random }
}

// Orchestrator schedules and runs device syncs.
type Orchestrator struct {
	store    Store
	adapters *adapter.Registry
	timeline *resolve.Timeline
	ledger   *ledger.Ledger
	notifier notify.Notifier
	limiter  *Limiter
	cfg      Config
	logger   *zap.Logger

	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	random func() float64

	mu       sync.Mutex
	inflight map[uuid.UUID]*run

	// poll loop coordination
	loopMu   sync.Mutex
	running  bool
	stopCh   chan struct{}
	stoppedC chan struct{}
}

// New creates an orchestrator. A nil notifier logs alerts.
func New(store Store, adapters *adapter.Registry, timeline *resolve.Timeline, l *ledger.Ledger,
	notifier notify.Notifier, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		store:    store,
		adapters: adapters,
		timeline: timeline,
		ledger:   l,
		notifier: notifier,
		limiter:  NewLimiter(cfg.DefaultLimits, cfg.Vendors),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    defaultSleep,
		random:   rand.Float64,
		inflight: make(map[uuid.UUID]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// run is the in-flight state of one device sync.
type run struct {
	aborted atomic.Bool
}

func (r *run) abort() {
	r.aborted.Store(true)
}

func (r *run) isAborted() bool {
	return r.aborted.Load()
}

func (o *Orchestrator) begin(deviceID uuid.UUID) (*run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[deviceID]; busy {
		return nil, false
	}
	r := &run{}
	o.inflight[deviceID] = r
	return r, true
}

func (o *Orchestrator) end(deviceID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, deviceID)
}

func (o *Orchestrator) isSyncing(deviceID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[deviceID]
	return ok
}

// signalAbort asks an in-flight sync of deviceID to stop after its current call.
func (o *Orchestrator) signalAbort(deviceID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.inflight[deviceID]; ok {
		r.abort()
	}
}

// batch is the result of fetching one metric type.
type batch struct {
	metricType models.MetricType
	samples    []models.RawSample
	attempts   int
	err        error
}

// tally accumulates counts across batches.
type tally struct {
	processed, added, updated, failed, conflicts int
	typesOK, typesFailed                         int
	attempts                                     int
	errs                                         []models.SyncError
	authErr                                      error
}

func (t *tally) addError(kind syncerr.Kind, mt models.MetricType, err error) {
	if len(t.errs) >= maxRecordedErrors {
		return
	}
	t.errs = append(t.errs, models.SyncError{Kind: string(kind), MetricType: mt, Message: err.Error()})
}

// SyncDevice runs one sync of deviceID on behalf of userID. The run is registered before
// the device is read so a concurrent Disconnect always reaches it.
func (o *Orchestrator) SyncDevice(ctx context.Context, userID string, deviceID uuid.UUID, trigger models.Trigger) (*models.SyncResult, error) {
	r, ok := o.begin(deviceID)
	if !ok {
		return nil, syncerr.New(syncerr.SyncFailed, "sync", "sync already in progress")
	}
	defer o.end(deviceID)

	dev, err := o.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, syncerr.New(syncerr.DeviceNotConnected, "sync", "device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if dev.UserID != userID {
		return nil, syncerr.New(syncerr.PermissionDenied, "sync", "device belongs to another user")
	}
	if !dev.IsConnected() {
		return nil, syncerr.New(syncerr.DeviceNotConnected, "sync", fmt.Sprintf("device is %s", dev.Status))
	}
	if dev.Token == "" {
		return nil, syncerr.New(syncerr.DeviceNotConnected, "sync", "device has no credentials")
	}
	a, err := o.adapters.Get(dev.Vendor)
	if err != nil {
		return nil, err
	}

	started := o.now().UTC()
	marked, err := o.store.SetSyncState(ctx, deviceID, models.SyncStateSyncing, started)
	if err != nil {
		return nil, fmt.Errorf("mark device syncing: %w", err)
	}
	if !marked {
		return nil, syncerr.New(syncerr.DeviceNotConnected, "sync", "device was disconnected")
	}
	dev.SyncState = models.SyncStateSyncing

	metrics.SyncsInFlight.Inc()
	defer metrics.SyncsInFlight.Dec()

	log := o.logger.With(
		zap.String("user_id", userID),
		zap.String("device_id", deviceID.String()),
		zap.String("vendor", string(dev.Vendor)),
		zap.String("trigger", string(trigger)))
	log.Info("sync started")

	t := o.execute(ctx, r, dev, a, started, log)
	return o.finish(ctx, r, dev, trigger, started, t, log)
}

// execute fetches every metric type concurrently and merges batches as they arrive.
func (o *Orchestrator) execute(ctx context.Context, r *run, dev *models.WearableDevice, a adapter.Adapter, started time.Time, log *zap.Logger) *tally {
	types := dev.SyncTypes()
	window := o.window(dev, started)
	token := adapter.Token(dev.Token)

	batches := make(chan batch, len(types))
	var g errgroup.Group
	for _, mt := range types {
		g.Go(func() error {
			var samples []models.RawSample
			attempts, err := o.call(ctx, r, dev.Vendor, "fetch", func(callCtx context.Context) error {
				var ferr error
				samples, ferr = a.FetchMetrics(callCtx, token, []models.MetricType{mt}, window)
				return ferr
			})
			if err != nil && syncerr.RequiresReauth(syncerr.KindOf(err)) {
				r.abort()
			}
			batches <- batch{metricType: mt, samples: samples, attempts: attempts, err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(batches)
	}()

	t := &tally{}
	for b := range batches {
		t.attempts += b.attempts
		if b.err != nil {
			kind := syncerr.KindOf(b.err)
			if errors.Is(b.err, errAborted) {
				kind = syncerr.SyncFailed
			}
			if syncerr.RequiresReauth(kind) && t.authErr == nil {
				t.authErr = b.err
			}
			t.typesFailed++
			t.addError(kind, b.metricType, b.err)
			log.Warn("fetch failed",
				zap.String("metric_type", string(b.metricType)),
				zap.String("kind", string(kind)),
				zap.Int("attempts", b.attempts),
				zap.Error(b.err))
			continue
		}
		if r.isAborted() {
			t.typesFailed++
			t.addError(syncerr.SyncFailed, b.metricType, errAborted)
			continue
		}
		o.mergeBatch(ctx, dev, b, t, log)
		t.typesOK++
	}

	if !r.isAborted() {
		o.refreshBattery(ctx, dev, a, token, log)
	}
	return t
}

// window is the fetch range: the lookback period, widened back to the last successful
// sync when that is older.
func (o *Orchestrator) window(dev *models.WearableDevice, now time.Time) adapter.Window {
	start := now.Add(-o.cfg.Lookback)
	if dev.LastSyncAt != nil && dev.LastSyncAt.Before(start) {
		start = *dev.LastSyncAt
	}
	return adapter.Window{Start: start, End: now}
}

// mergeBatch normalizes one batch and merges every metric into the timeline. Metrics
// already merged stay merged when a later one fails.
func (o *Orchestrator) mergeBatch(ctx context.Context, dev *models.WearableDevice, b batch, t *tally, log *zap.Logger) {
	res := normalize.Normalize(dev.UserID, dev.ID.String(), b.samples, o.now().UTC())
	t.processed += len(b.samples)
	t.failed += len(res.Rejected)
	for _, rej := range res.Rejected {
		t.addError(syncerr.DataInvalid, b.metricType, rej.Err)
	}

	for _, m := range res.Metrics {
		out, err := o.timeline.Merge(ctx, m)
		if err != nil {
			t.failed++
			t.addError(syncerr.SyncFailed, m.MetricType, err)
			log.Error("merge failed", zap.String("metric_type", string(m.MetricType)), zap.Error(err))
			continue
		}
		switch out.Action {
		case resolve.ActionInsert:
			t.added++
		case resolve.ActionUpdate:
			t.updated++
		}
		if out.Conflict != nil {
			t.conflicts++
			metrics.ConflictsTotal.WithLabelValues(string(out.Conflict.Type), string(out.Conflict.Policy)).Inc()
		}
	}
}

// refreshBattery makes one best-effort battery read.
func (o *Orchestrator) refreshBattery(ctx context.Context, dev *models.WearableDevice, a adapter.Adapter, token adapter.Token, log *zap.Logger) {
	br, ok := a.(adapter.BatteryReporter)
	if !ok {
		return
	}
	var level int
	err := o.callOnce(ctx, dev.Vendor, func(callCtx context.Context) error {
		var berr error
		level, berr = br.BatteryLevel(callCtx, token)
		return berr
	})
	if err != nil {
		log.Debug("battery level unavailable", zap.Error(err))
		return
	}
	dev.BatteryLevel = &level
}

// finish records the run in the ledger and updates the device and its schedule.
func (o *Orchestrator) finish(ctx context.Context, r *run, dev *models.WearableDevice, trigger models.Trigger,
	started time.Time, t *tally, log *zap.Logger) (*models.SyncResult, error) {
	finished := o.now().UTC()
	status := outcome(t, r)

	entry := &models.SyncLog{
		UserID:            dev.UserID,
		DeviceID:          dev.ID,
		Trigger:           trigger,
		Status:            status,
		RecordsProcessed:  t.processed,
		RecordsAdded:      t.added,
		RecordsUpdated:    t.updated,
		RecordsFailed:     t.failed,
		ConflictsDetected: t.conflicts,
		Attempts:          t.attempts,
		DurationMs:        finished.Sub(started).Milliseconds(),
		Errors:            t.errs,
		StartedAt:         started,
		FinishedAt:        finished,
	}
	if err := o.ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append sync log: %w", err)
	}

	if err := o.updateAfterRun(ctx, dev, status, t, finished, log); err != nil {
		return nil, err
	}
	if err := o.reschedule(ctx, dev, status, finished); err != nil {
		return nil, err
	}

	vendor := string(dev.Vendor)
	metrics.SyncsTotal.WithLabelValues(vendor, string(trigger), string(status)).Inc()
	metrics.SyncDuration.WithLabelValues(vendor).Observe(finished.Sub(started).Seconds())
	metrics.RecordsTotal.WithLabelValues(vendor, "added").Add(float64(t.added))
	metrics.RecordsTotal.WithLabelValues(vendor, "updated").Add(float64(t.updated))
	metrics.RecordsTotal.WithLabelValues(vendor, "failed").Add(float64(t.failed))

	log.Info("sync finished",
		zap.String("status", string(status)),
		zap.Int("processed", t.processed),
		zap.Int("added", t.added),
		zap.Int("updated", t.updated),
		zap.Int("failed", t.failed),
		zap.Int("conflicts", t.conflicts),
		zap.Int64("duration_ms", entry.DurationMs))

	return &models.SyncResult{
		Success:          status != models.SyncFailed,
		Status:           status,
		SyncLogID:        entry.ID,
		RecordsProcessed: t.processed,
		RecordsAdded:     t.added,
		RecordsUpdated:   t.updated,
		RecordsFailed:    t.failed,
		Conflicts:        t.conflicts,
		Errors:           t.errs,
		DurationMs:       entry.DurationMs,
	}, nil
}

// outcome maps a run's tally to its ledger status.
func outcome(t *tally, r *run) models.SyncStatus {
	switch {
	case t.authErr != nil:
		return models.SyncFailed
	case t.typesFailed > 0 && t.typesOK == 0:
		return models.SyncFailed
	case t.typesFailed > 0 || t.failed > 0 || r.isAborted():
		return models.SyncPartial
	default:
		return models.SyncSuccess
	}
}

func stateFor(status models.SyncStatus) models.SyncState {
	switch status {
	case models.SyncSuccess:
		return models.SyncStateSuccess
	case models.SyncPartial:
		return models.SyncStatePartial
	default:
		return models.SyncStateFailed
	}
}

// updateAfterRun records the outcome on the device with a targeted write, so a concurrent
// disconnect is never overwritten.
func (o *Orchestrator) updateAfterRun(ctx context.Context, ran *models.WearableDevice, status models.SyncStatus,
	t *tally, now time.Time, log *zap.Logger) error {
	dev, err := o.store.GetDevice(ctx, ran.ID)
	if err != nil {
		return fmt.Errorf("reload device: %w", err)
	}

	failures, err := o.ledger.ConsecutiveFailures(ctx, dev.ID)
	if err != nil {
		return fmt.Errorf("count failures: %w", err)
	}

	wasFlagged := dev.NeedsAttention
	dev.NeedsAttention = failures >= o.cfg.AlertAfterFailures
	var lastSync *time.Time
	if status != models.SyncFailed {
		at := now
		lastSync = &at
	}
	reauth, err := o.store.RecordSyncOutcome(ctx, storage.SyncOutcome{
		DeviceID:            dev.ID,
		State:               stateFor(status),
		ConsecutiveFailures: failures,
		NeedsAttention:      dev.NeedsAttention,
		BatteryLevel:        ran.BatteryLevel,
		LastSyncAt:          lastSync,
		ReauthRequired:      t.authErr != nil,
		At:                  now,
	})
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}

	lastErr := ""
	if len(t.errs) > 0 {
		lastErr = t.errs[len(t.errs)-1].Message
	}
	if reauth {
		log.Warn("device disconnected, re-authentication required", zap.Error(t.authErr))
		o.alert(ctx, notify.Alert{
			Kind:      notify.AlertReauthRequired,
			UserID:    dev.UserID,
			DeviceID:  dev.ID,
			Vendor:    dev.Vendor,
			LastError: t.authErr.Error(),
			RaisedAt:  now,
		})
	}
	if dev.NeedsAttention && !wasFlagged {
		metrics.AttentionAlertsTotal.WithLabelValues(string(dev.Vendor)).Inc()
		o.alert(ctx, notify.Alert{
			Kind:                notify.AlertNeedsAttention,
			UserID:              dev.UserID,
			DeviceID:            dev.ID,
			Vendor:              dev.Vendor,
			ConsecutiveFailures: failures,
			LastError:           lastErr,
			RaisedAt:            now,
		})
	}
	return nil
}

func (o *Orchestrator) alert(ctx context.Context, a notify.Alert) {
	if err := o.notifier.Notify(ctx, a); err != nil {
		o.logger.Error("send alert failed",
			zap.String("device_id", a.DeviceID.String()),
			zap.String("kind", string(a.Kind)),
			zap.Error(err))
	}
}

// cadence is the device's configured sync interval.
func (o *Orchestrator) cadence(dev *models.WearableDevice) time.Duration {
	if dev.Settings.CadenceMinutes > 0 {
		return time.Duration(dev.Settings.CadenceMinutes) * time.Minute
	}
	return o.cfg.DefaultCadence
}

// reschedule sets the next run at cadence, widened by the backoff of consecutive failed runs.
func (o *Orchestrator) reschedule(ctx context.Context, dev *models.WearableDevice, status models.SyncStatus, now time.Time) error {
	sched, err := o.store.GetSchedule(ctx, dev.ID)
	if errors.Is(err, storage.ErrNotFound) {
		sched = &models.SyncSchedule{DeviceID: dev.ID, UserID: dev.UserID, CreatedAt: now}
	} else if err != nil {
		return fmt.Errorf("get schedule: %w", err)
	}

	sched.Cadence = o.cadence(dev)
	if status == models.SyncFailed {
		sched.BackoffDelay = NextBackoff(o.cfg.ScheduleBackoff, sched.BackoffDelay)
	} else {
		sched.BackoffDelay = 0
	}
	wait := sched.Cadence
	if sched.BackoffDelay > wait {
		wait = sched.BackoffDelay
	}
	at := now
	sched.LastRunAt = &at
	sched.NextSyncAt = now.Add(wait)
	sched.UpdatedAt = now

	if err := o.store.UpsertSchedule(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}
