package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/adapter"
	"github.com/harperreed/healthsync/internal/ledger"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/notify"
	"github.com/harperreed/healthsync/internal/resolve"
	"github.com/harperreed/healthsync/internal/storage"
	"github.com/harperreed/healthsync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) kinds() []notify.AlertKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []notify.AlertKind
	for _, a := range n.alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

type harness struct {
	o        *Orchestrator
	db       *storage.DB
	ledger   *ledger.Ledger
	stub     *adapter.Stub
	clock    *fakeClock
	notifier *recordingNotifier

	mu     sync.Mutex
	sleeps []time.Duration
}

func (h *harness) delays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Vendors = nil
	cfg.DefaultLimits = VendorLimits{MaxConcurrent: 4}
	cfg.Retry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second, Jitter: 0}
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "healthsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:       db,
		ledger:   ledger.New(db),
		stub:     adapter.NewStub(models.VendorFitbit).SetCapabilities(models.MetricHeartRate),
		clock:    &fakeClock{now: baseTime},
		notifier: &recordingNotifier{},
	}
	registry := adapter.NewRegistry()
	registry.Register(h.stub)
	timeline := resolve.NewTimeline(db, resolve.DefaultPolicy(), nil)

	all := append([]Option{
		WithClock(h.clock.Now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
		WithRandom(func() float64 { return 0.5 }),
	}, opts...)
	h.o = New(db, registry, timeline, h.ledger, h.notifier, cfg, nil, all...)
	return h
}

func (h *harness) link(t *testing.T, externalID string) *models.WearableDevice {
	t.Helper()
	dev, err := h.o.LinkDevice(context.Background(), "u1", models.VendorFitbit, adapter.Credentials{ExternalID: externalID}, "")
	require.NoError(t, err)
	return dev
}

func heartRates(values ...float64) []models.RawSample {
	var out []models.RawSample
	for i, v := range values {
		out = append(out, models.RawSample{
			MetricType: models.MetricHeartRate,
			Value:      v,
			Unit:       "bpm",
			OccurredAt: baseTime.Add(-4*time.Hour + time.Duration(i)*time.Minute),
			Confidence: 0.9,
		})
	}
	return out
}

func TestSyncDeviceIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60, 62, 64)...)
	dev := h.link(t, "watch-1")

	first, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSuccess, first.Status)
	assert.Equal(t, 3, first.RecordsAdded)

	h.clock.Advance(time.Hour)
	second, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, 3, second.RecordsProcessed)
	assert.Zero(t, second.RecordsAdded)
	assert.Zero(t, second.RecordsUpdated)
	assert.Zero(t, second.Conflicts)
}

func TestPartialFailureIsolation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.stub.AddSamples(heartRates(60, 61, 62, 63, 500, 65, 66, 67, 68, 69)...)
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(context.Background(), "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.SyncPartial, res.Status)
	assert.Equal(t, 10, res.RecordsProcessed)
	assert.Equal(t, 9, res.RecordsAdded)
	assert.Equal(t, 1, res.RecordsFailed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, string(syncerr.DataInvalid), res.Errors[0].Kind)
}

func TestFailedMetricTypeDoesNotRollBackOthers(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.SetCapabilities(models.MetricHeartRate, models.MetricSteps)
	h.stub.AddSamples(heartRates(60, 61)...)
	netErr := syncerr.New(syncerr.NetworkError, "fetch", "connection reset")
	h.stub.FailNext(models.MetricSteps, netErr, netErr, netErr)
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPartial, res.Status)
	assert.Equal(t, 2, res.RecordsAdded)
	assert.Equal(t, 3, h.stub.Calls(models.MetricSteps))

	stored, err := h.db.QueryMetrics(ctx, storage.MetricQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRateLimitedBackoffIsNonDecreasingAndCapped(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second, Jitter: 0.5}
	randoms := []float64{0.9, 0.0, 0.9, 0.0}
	var i int
	h := newHarness(t, cfg, WithRandom(func() float64 {
		r := randoms[i%len(randoms)]
		i++
		return r
	}))
	limited := syncerr.RateLimitedAfter("fetch", 0)
	h.stub.FailNext(models.MetricHeartRate, limited, limited, limited, limited, limited, limited)
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(context.Background(), "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, res.Status)
	assert.Equal(t, 5, h.stub.Calls(models.MetricHeartRate))

	delays := h.delays()
	require.Len(t, delays, 4)
	for i, d := range delays {
		if d > cfg.Retry.MaxDelay {
			t.Errorf("delay %d = %v exceeds cap %v", i, d, cfg.Retry.MaxDelay)
		}
		if i > 0 && d < delays[i-1] {
			t.Errorf("delay %d = %v is less than previous %v", i, d, delays[i-1])
		}
	}
}

func TestRetryAfterHintIsHonoured(t *testing.T) {
	h := newHarness(t, testConfig())
	h.stub.AddSamples(heartRates(60)...)
	h.stub.FailNext(models.MetricHeartRate, syncerr.RateLimitedAfter("fetch", 20*time.Second))
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(context.Background(), "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSuccess, res.Status)
	assert.Equal(t, []time.Duration{20 * time.Second}, h.delays())
}

func TestUnknownErrorIsRetriedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 5
	h := newHarness(t, cfg)
	boom := errors.New("boom")
	h.stub.FailNext(models.MetricHeartRate, boom, boom, boom)
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(context.Background(), "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, res.Status)
	assert.Equal(t, 2, h.stub.Calls(models.MetricHeartRate))
}

func TestThreeNetworkFailuresWidenScheduleWithoutDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.ScheduleBackoff = BackoffConfig{Base: 15 * time.Minute, Max: 24 * time.Hour}
	h := newHarness(t, cfg)
	ctx := context.Background()
	netErr := syncerr.New(syncerr.NetworkError, "fetch", "timeout")
	h.stub.FailNext(models.MetricHeartRate, netErr, netErr, netErr)
	dev := h.link(t, "watch-1")

	for i := 0; i < 3; i++ {
		res, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerSchedule)
		require.NoError(t, err)
		assert.Equal(t, models.SyncFailed, res.Status)
		h.clock.Advance(time.Hour)
	}

	logs, err := h.ledger.LastN(ctx, dev.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, models.SyncFailed, l.Status)
	}

	sched, err := h.db.GetSchedule(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, sched.BackoffDelay)

	got, err := h.db.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceConnected, got.Status)
	assert.True(t, got.NeedsAttention)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	assert.Equal(t, []notify.AlertKind{notify.AlertNeedsAttention}, h.notifier.kinds())
}

func TestSuccessResetsScheduleBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60)...)
	h.stub.FailNext(models.MetricHeartRate, syncerr.New(syncerr.NetworkError, "fetch", "timeout"))
	dev := h.link(t, "watch-1")

	_, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerSchedule)
	require.NoError(t, err)
	sched, err := h.db.GetSchedule(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.ScheduleBackoff.Base, sched.BackoffDelay)

	_, err = h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerSchedule)
	require.NoError(t, err)
	sched, err = h.db.GetSchedule(ctx, dev.ID)
	require.NoError(t, err)
	assert.Zero(t, sched.BackoffDelay)
	assert.True(t, sched.NextSyncAt.Equal(baseTime.Add(cfg.DefaultCadence)))
}

func TestAuthFailureDisconnectsDevice(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60)...)
	h.stub.FailNext(models.MetricHeartRate, syncerr.New(syncerr.AuthFailed, "fetch", "token revoked"))
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, res.Status)
	assert.Equal(t, 1, h.stub.Calls(models.MetricHeartRate))

	got, err := h.db.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceDisconnected, got.Status)
	assert.Equal(t, models.ReasonReauthRequired, got.StatusReason)
	assert.Contains(t, h.notifier.kinds(), notify.AlertReauthRequired)

	_, err = h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	assert.True(t, syncerr.Has(err, syncerr.DeviceNotConnected))

	_, err = h.o.Reconnect(ctx, "u1", dev.ID, adapter.Credentials{})
	require.NoError(t, err)
	res, err = h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsAdded)
}

func TestDeviceNotConnectedRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	dev := h.link(t, "watch-1")
	require.NoError(t, h.o.Disconnect(ctx, "u1", dev.ID))

	_, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	assert.True(t, syncerr.Has(err, syncerr.DeviceNotConnected))
	assert.Zero(t, h.stub.Calls(models.MetricHeartRate))

	_, err = h.o.SyncDevice(ctx, "u1", uuid.New(), models.TriggerUser)
	assert.True(t, syncerr.Has(err, syncerr.DeviceNotConnected))

	logs, err := h.ledger.LastN(ctx, dev.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSyncDeviceRejectsOtherUsers(t *testing.T) {
	h := newHarness(t, testConfig())
	dev := h.link(t, "watch-1")

	_, err := h.o.SyncDevice(context.Background(), "someone-else", dev.ID, models.TriggerUser)
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))
}

func TestConcurrentSyncOfSameDeviceIsRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60)...)
	dev := h.link(t, "watch-1")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.stub.OnFetch = func(context.Context, []models.MetricType) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan *models.SyncResult)
	go func() {
		res, _ := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
		done <- res
	}()
	<-entered

	_, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	assert.True(t, syncerr.Has(err, syncerr.SyncFailed))
	assert.ErrorContains(t, err, "already in progress")

	info, err := h.o.DeviceStatus(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateSyncing, info.SyncState)

	close(release)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, 1, res.RecordsAdded)
}

func TestDisconnectAbortsInFlightSync(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.SetCapabilities(models.MetricHeartRate, models.MetricSteps)
	h.stub.AddSamples(heartRates(60, 61)...)
	dev := h.link(t, "watch-1")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.stub.OnFetch = func(context.Context, []models.MetricType) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan *models.SyncResult)
	go func() {
		res, _ := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
		done <- res
	}()
	<-entered
	require.NoError(t, h.o.Disconnect(ctx, "u1", dev.ID))
	close(release)

	res := <-done
	require.NotNil(t, res)
	assert.Zero(t, res.RecordsAdded)
	assert.Equal(t, models.SyncFailed, res.Status)

	stored, err := h.db.QueryMetrics(ctx, storage.MetricQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := h.db.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceDisconnected, got.Status)
	assert.Equal(t, models.ReasonUserDisconnect, got.StatusReason)
	assert.NotNil(t, got.DeletedAt)
}

// disconnectingStore disconnects the device right after the first GetDevice returns, so
// the caller holds a copy that is already stale.
type disconnectingStore struct {
	*storage.DB
	armed      atomic.Bool
	disconnect func()
}

func (s *disconnectingStore) GetDevice(ctx context.Context, id uuid.UUID) (*models.WearableDevice, error) {
	dev, err := s.DB.GetDevice(ctx, id)
	if s.armed.CompareAndSwap(true, false) {
		s.disconnect()
	}
	return dev, err
}

// overStore builds an orchestrator that shares the harness adapters and clock but reads
// devices through store.
func (h *harness) overStore(store Store) *Orchestrator {
	registry := adapter.NewRegistry()
	registry.Register(h.stub)
	timeline := resolve.NewTimeline(h.db, resolve.DefaultPolicy(), nil)
	return New(store, registry, timeline, h.ledger, h.notifier, testConfig(), nil,
		WithClock(h.clock.Now),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithRandom(func() float64 { return 0.5 }))
}

func TestDisconnectDuringDeviceReadWins(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, o *Orchestrator, dev *models.WearableDevice) error
	}{
		{
			name: "user sync",
			run: func(ctx context.Context, o *Orchestrator, dev *models.WearableDevice) error {
				_, err := o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
				if !syncerr.Has(err, syncerr.DeviceNotConnected) {
					return fmt.Errorf("SyncDevice error = %v, want DeviceNotConnected", err)
				}
				return nil
			},
		},
		{
			name: "scheduled run",
			run: func(ctx context.Context, o *Orchestrator, _ *models.WearableDevice) error {
				n, err := o.RunDue(ctx)
				if err != nil {
					return err
				}
				if n != 0 {
					return fmt.Errorf("RunDue ran %d syncs, want 0", n)
				}
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			ctx := context.Background()
			h.stub.AddSamples(heartRates(60, 61)...)
			dev := h.link(t, "watch-1")

			store := &disconnectingStore{DB: h.db}
			o := h.overStore(store)
			store.disconnect = func() { require.NoError(t, o.Disconnect(ctx, "u1", dev.ID)) }
			store.armed.Store(true)

			require.NoError(t, tt.run(ctx, o, dev))

			got, err := h.db.GetDevice(ctx, dev.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeviceDisconnected, got.Status)
			assert.Equal(t, models.ReasonUserDisconnect, got.StatusReason)
			assert.Empty(t, got.Token)
			assert.NotNil(t, got.DeletedAt)
			assert.Zero(t, h.stub.Calls(models.MetricHeartRate))

			stored, err := h.db.QueryMetrics(ctx, storage.MetricQuery{UserID: "u1"})
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestSyncOutcomeDoesNotOverwriteSettings(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60)...)
	dev := h.link(t, "watch-1")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.stub.OnFetch = func(context.Context, []models.MetricType) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan error)
	go func() {
		_, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
		done <- err
	}()
	<-entered
	_, err := h.o.UpdateSettings(ctx, "u1", dev.ID, models.DeviceSettings{SyncEnabled: true, CadenceMinutes: 90})
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-done)

	got, err := h.db.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, got.Settings.CadenceMinutes)
	assert.Equal(t, models.SyncStateSuccess, got.SyncState)
}

func TestDeviceStatusReportsFailureRate(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60)...)
	netErr := syncerr.New(syncerr.NetworkError, "fetch", "connection reset")
	h.stub.FailNext(models.MetricHeartRate, netErr, netErr, netErr)
	dev := h.link(t, "watch-1")

	res, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	require.Equal(t, models.SyncFailed, res.Status)

	info, err := h.o.DeviceStatus(ctx, dev.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, info.FailureRate, 1e-9)
	assert.Equal(t, 24*time.Hour, info.FailureWindow)

	h.clock.Advance(time.Hour)
	res, err = h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	require.Equal(t, models.SyncSuccess, res.Status)

	info, err = h.o.DeviceStatus(ctx, dev.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, info.FailureRate, 1e-9)

	h.clock.Advance(48 * time.Hour)
	info, err = h.o.DeviceStatus(ctx, dev.ID)
	require.NoError(t, err)
	assert.Zero(t, info.FailureRate)
}

func TestDeviceStatusReportsBatteryAndSchedule(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60)...)
	h.stub.SetBattery(80)
	dev := h.link(t, "watch-1")

	_, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)

	info, err := h.o.DeviceStatus(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceConnected, info.Status)
	require.NotNil(t, info.BatteryLevel)
	assert.Equal(t, 80, *info.BatteryLevel)
	require.NotNil(t, info.LastSyncAt)
	assert.True(t, info.LastSyncAt.Equal(baseTime))
	require.NotNil(t, info.NextSyncAt)
	assert.True(t, info.NextSyncAt.Equal(baseTime.Add(time.Hour)))
	assert.Equal(t, models.SyncStateSuccess, info.SyncState)
	assert.Equal(t, []models.MetricType{models.MetricHeartRate}, info.Capabilities)
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	dev := h.link(t, "watch-1")

	ok, err := h.o.UpdateSettings(ctx, "u1", dev.ID, models.DeviceSettings{SyncEnabled: true, CadenceMinutes: 30})
	require.NoError(t, err)
	assert.True(t, ok)
	sched, err := h.db.GetSchedule(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, sched.Cadence)
	assert.True(t, sched.NextSyncAt.Equal(baseTime.Add(30*time.Minute)))

	_, err = h.o.UpdateSettings(ctx, "u1", dev.ID, models.DeviceSettings{MetricTypes: []models.MetricType{models.MetricWeight}})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))

	_, err = h.o.UpdateSettings(ctx, "u2", dev.ID, models.DeviceSettings{})
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))
}

func TestManualEntryIsStickyAgainstDeviceSync(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	h.stub.SetCapabilities(models.MetricWeight)
	h.stub.AddSamples(models.RawSample{MetricType: models.MetricWeight, Value: 71.2, Unit: "kg", OccurredAt: day.Add(2 * time.Hour)})
	dev := h.link(t, "scale-1")

	out, err := h.o.RecordManual(ctx, "u1", models.RawSample{MetricType: models.MetricWeight, Value: 70.0, Unit: "kg", OccurredAt: day})
	require.NoError(t, err)
	assert.Equal(t, resolve.ActionInsert, out.Action)

	res, err := h.o.SyncDevice(ctx, "u1", dev.ID, models.TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsUpdated)
	assert.Equal(t, 1, res.Conflicts)

	m, err := h.db.GetMetricInBucket(ctx, "u1", models.MetricWeight, models.MetricWeight.BucketStart(day))
	require.NoError(t, err)
	assert.InDelta(t, 70.0, m.Value, 1e-9)
	assert.Equal(t, models.SourceManual, m.Source)

	conflicts, err := h.db.ListConflicts(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.PolicyServerWins, conflicts[0].Policy)
}

func TestRecordManualPushesToCapableDevices(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.SetCapabilities(models.MetricWeight)
	scale := h.link(t, "scale-1")
	h.stub.SetCapabilities(models.MetricHeartRate)
	h.link(t, "watch-1")

	reading := models.RawSample{MetricType: models.MetricWeight, Value: 70.0, Unit: "kg", OccurredAt: baseTime.Add(-time.Hour)}
	out, err := h.o.RecordManual(ctx, "u1", reading)
	require.NoError(t, err)

	pushed := h.stub.Pushed()
	require.Len(t, pushed, 1)
	require.Len(t, pushed[0].Metrics, 1)
	assert.Equal(t, out.Canonical.ID, pushed[0].Metrics[0].ID)
	assert.Contains(t, pushed[0].IdempotencyKey, scale.ID.String())

	_, err = h.o.RecordManual(ctx, "u1", reading)
	require.NoError(t, err)
	assert.Len(t, h.stub.Pushed(), 1)

	require.NoError(t, h.o.Disconnect(ctx, "u1", scale.ID))
	h.clock.Advance(time.Minute)
	reading.Value = 70.4
	_, err = h.o.RecordManual(ctx, "u1", reading)
	require.NoError(t, err)
	assert.Len(t, h.stub.Pushed(), 1)
}

func TestRecordManualRejectsInvalid(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.o.RecordManual(context.Background(), "u1", models.RawSample{
		MetricType: models.MetricWeight, Value: 9000, Unit: "kg", OccurredAt: baseTime,
	})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
}

func TestRunDueSyncsDueDevicesOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.stub.AddSamples(heartRates(60, 61)...)
	a := h.link(t, "watch-1")
	b := h.link(t, "watch-2")

	n, err := h.o.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.o.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		last, err := h.ledger.Last(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, models.TriggerSchedule, last.Trigger)
	}

	stored, err := h.db.QueryMetrics(ctx, storage.MetricQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, m := range stored {
		assert.ElementsMatch(t, []string{a.ID.String(), b.ID.String()}, m.Provenance())
	}
}

func TestRunDueSkipsDisabledDevices(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	dev := h.link(t, "watch-1")
	_, err := h.o.UpdateSettings(ctx, "u1", dev.ID, models.DeviceSettings{SyncEnabled: false})
	require.NoError(t, err)

	n, err := h.o.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.stub.Calls(models.MetricHeartRate))
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.o.Start(ctx))
	assert.True(t, h.o.IsRunning())
	assert.ErrorIs(t, h.o.Start(ctx), ErrAlreadyRunning)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.o.Stop(stopCtx))
	assert.False(t, h.o.IsRunning())
	assert.NoError(t, h.o.Stop(stopCtx))
}
