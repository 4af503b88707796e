package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fixture struct {
	svc  *Service
	db   *storage.DB
	stub *adapter.Stub
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "healthsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stub := adapter.NewStub(models.VendorGarmin).
		SetCapabilities(models.MetricHeartRate, models.MetricSteps).
		SetBattery(64)
	registry := adapter.NewRegistry()
	registry.Register(stub)

	timeline := resolve.NewTimeline(db, resolve.DefaultPolicy(), nil)
	l := ledger.New(db)
	cfg := orchestrator.DefaultConfig()
	cfg.Vendors = nil
	cfg.DefaultLimits = orchestrator.VendorLimits{MaxConcurrent: 4}
	orch := orchestrator.New(db, registry, timeline, l, nil, cfg, nil)
	analyzer := correlate.NewAnalyzer(db, db, db, correlate.DefaultConfig(), nil)
	return &fixture{
		svc:  New(db, orch, analyzer, timeline, l, nil),
		db:   db,
		stub: stub,
	}
}

func (f *fixture) link(t *testing.T, userID string) *models.WearableDevice {
	t.Helper()
	dev, err := f.svc.LinkDevice(context.Background(), LinkRequest{
		UserID:     userID,
		Vendor:     models.VendorGarmin,
		ExternalID: "watch-" + userID,
	})
	require.NoError(t, err)
	return dev
}

func samples(mt models.MetricType, unit string, at time.Time, values ...float64) []models.RawSample {
	var out []models.RawSample
	for i, v := range values {
		out = append(out, models.RawSample{
			MetricType: mt,
			Value:      v,
			Unit:       unit,
			OccurredAt: at.Add(time.Duration(i) * time.Hour),
			Confidence: 0.9,
		})
	}
	return out
}

func TestSyncThenQueryHealthData(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	dev := f.link(t, "alice")

	base := time.Now().UTC().Add(-12 * time.Hour).Truncate(time.Hour)
	f.stub.AddSamples(samples(models.MetricHeartRate, "bpm", base, 61, 64, 70)...)
	f.stub.AddSamples(samples(models.MetricSteps, "", base, 1200, 800)...)

	res, err := f.svc.SyncDevice(ctx, "alice", dev.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.RecordsAdded)

	all, err := f.svc.HealthData(ctx, HealthDataQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	hr, err := f.svc.HealthData(ctx, HealthDataQuery{
		UserID:      "alice",
		MetricTypes: []models.MetricType{models.MetricHeartRate},
	})
	require.NoError(t, err)
	require.Len(t, hr, 3)
	assert.Equal(t, 70.0, hr[0].Value, "most recent first")

	start := base.Add(time.Hour)
	end := base.Add(2 * time.Hour)
	window, err := f.svc.HealthData(ctx, HealthDataQuery{UserID: "alice", StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	paged, err := f.svc.HealthData(ctx, HealthDataQuery{UserID: "alice", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	other, err := f.svc.HealthData(ctx, HealthDataQuery{UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHealthDataValidation(t *testing.T) {
	f := setupService(t)
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	tests := []struct {
		name string
		q    HealthDataQuery
	}{
		{"missing user", HealthDataQuery{}},
		{"unknown metric type", HealthDataQuery{UserID: "u1", MetricTypes: []models.MetricType{"blood_sugar"}}},
		{"unknown source", HealthDataQuery{UserID: "u1", Source: "scraped"}},
		{"negative offset", HealthDataQuery{UserID: "u1", Offset: -1}},
		{"limit too large", HealthDataQuery{UserID: "u1", Limit: 5000}},
		{"end before start", HealthDataQuery{UserID: "u1", StartDate: &start, EndDate: &before}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.HealthData(context.Background(), tt.q)
			if !syncerr.Has(err, syncerr.DataInvalid) {
				t.Errorf("HealthData() error = %v, want DataInvalid", err)
			}
		})
	}
}

func TestDeviceStatusEnforcesOwnership(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	dev := f.link(t, "alice")

	info, err := f.svc.DeviceStatus(ctx, "alice", dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceConnected, info.Status)
	assert.ElementsMatch(t, []models.MetricType{models.MetricHeartRate, models.MetricSteps}, info.Capabilities)
	require.NotNil(t, info.NextSyncAt)

	_, err = f.svc.DeviceStatus(ctx, "bob", dev.ID)
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))

	_, err = f.svc.DeviceStatus(ctx, "alice", uuid.New())
	assert.True(t, syncerr.Has(err, syncerr.DeviceNotConnected))

	_, err = f.svc.SyncDevice(ctx, "bob", dev.ID)
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))
}

func TestListDevices(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.link(t, "alice")
	f.link(t, "bob")

	devices, err := f.svc.ListDevices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "alice", devices[0].UserID)

	_, err = f.svc.ListDevices(ctx, "")
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
}

func TestLinkDeviceValidation(t *testing.T) {
	f := setupService(t)
	_, err := f.svc.LinkDevice(context.Background(), LinkRequest{UserID: "alice", Vendor: "pebble", ExternalID: "x"})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
	assert.Contains(t, err.Error(), "vendor")

	_, err = f.svc.LinkDevice(context.Background(), LinkRequest{UserID: "alice", Vendor: models.VendorGarmin})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
}

func TestCorrelationAnalysis(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	res, err := f.svc.CorrelationAnalysis(ctx, CorrelationQuery{
		UserID:          "alice",
		CorrelationType: models.CorrelationActivityNutrition,
	})
	require.NoError(t, err)
	assert.Zero(t, res.SampleSize)
	assert.True(t, res.LowConfidence)
	assert.Zero(t, res.Score)

	again, err := f.svc.CorrelationAnalysis(ctx, CorrelationQuery{
		UserID:          "alice",
		CorrelationType: models.CorrelationActivityNutrition,
	})
	require.NoError(t, err)
	assert.Equal(t, res.ID, again.ID, "fresh analysis served from cache")
}

func TestCorrelationAnalysisValidation(t *testing.T) {
	f := setupService(t)
	tooHigh := 1.5
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -3)

	tests := []struct {
		name string
		q    CorrelationQuery
	}{
		{"missing user", CorrelationQuery{CorrelationType: models.CorrelationSleepNutrition}},
		{"missing type", CorrelationQuery{UserID: "u1"}},
		{"unknown type", CorrelationQuery{UserID: "u1", CorrelationType: "mood_nutrition"}},
		{"threshold above one", CorrelationQuery{UserID: "u1", CorrelationType: models.CorrelationSleepNutrition, ConfidenceThreshold: &tooHigh}},
		{"inverted window", CorrelationQuery{UserID: "u1", CorrelationType: models.CorrelationSleepNutrition, StartDate: &start, EndDate: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CorrelationAnalysis(context.Background(), tt.q)
			if !syncerr.Has(err, syncerr.DataInvalid) {
				t.Errorf("CorrelationAnalysis() error = %v, want DataInvalid", err)
			}
		})
	}
}

func TestDeviceSettings(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	dev := f.link(t, "alice")

	ok, err := f.svc.DeviceSettings(ctx, "alice", dev.ID, models.DeviceSettings{
		SyncEnabled:    true,
		CadenceMinutes: 30,
		MetricTypes:    []models.MetricType{models.MetricSteps},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := f.svc.DeviceStatus(ctx, "alice", dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, info.Settings.CadenceMinutes)

	ok, err = f.svc.DeviceSettings(ctx, "alice", dev.ID, models.DeviceSettings{SyncEnabled: true, CadenceMinutes: -5})
	assert.False(t, ok)
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))

	ok, err = f.svc.DeviceSettings(ctx, "alice", dev.ID, models.DeviceSettings{
		SyncEnabled: true,
		MetricTypes: []models.MetricType{models.MetricWeight},
	})
	assert.False(t, ok)
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))

	_, err = f.svc.DeviceSettings(ctx, "bob", dev.ID, models.DeviceSettings{SyncEnabled: false})
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))
}

func TestRecordManualAndResolveConflict(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	first, err := f.svc.RecordManual(ctx, ManualEntry{UserID: "alice", MetricType: models.MetricHeartRate, Value: 70, OccurredAt: at})
	require.NoError(t, err)
	assert.Equal(t, "bpm", first.Unit)

	second, err := f.svc.RecordManual(ctx, ManualEntry{UserID: "alice", MetricType: models.MetricHeartRate, Value: 75, OccurredAt: at})
	require.NoError(t, err)
	assert.Equal(t, 75.0, second.Value)
	assert.Equal(t, first.ID, second.ID, "same bucket keeps one canonical record")

	conflicts, err := f.svc.Conflicts(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.PolicyClientWins, conflicts[0].Policy)

	_, err = f.svc.ResolveConflict(ctx, "bob", conflicts[0].ID, 72)
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))

	_, err = f.svc.ResolveConflict(ctx, "alice", conflicts[0].ID, 900)
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))

	override, err := f.svc.ResolveConflict(ctx, "alice", conflicts[0].ID, 72)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyUserOverride, override.Policy)
	require.NotNil(t, override.SupersedesID)
	assert.Equal(t, conflicts[0].ID, *override.SupersedesID)

	data, err := f.svc.HealthData(ctx, HealthDataQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, 72.0, data[0].Value)

	_, err = f.svc.RecordManual(ctx, ManualEntry{UserID: "alice", MetricType: "vibes", Value: 1, OccurredAt: at})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
}

func TestSyncHistoryAndVerifyLedger(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	dev := f.link(t, "alice")

	for i := 0; i < 3; i++ {
		_, err := f.svc.SyncDevice(ctx, "alice", dev.ID)
		require.NoError(t, err)
	}

	history, err := f.svc.SyncHistory(ctx, "alice", dev.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	report, err := f.svc.VerifyLedger(ctx, "alice", dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Entries)

	_, err = f.svc.SyncHistory(ctx, "bob", dev.ID, 0)
	assert.True(t, syncerr.Has(err, syncerr.PermissionDenied))
}

func TestExport(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.link(t, "alice")

	out, err := f.svc.Export(ctx, "alice", "json")
	require.NoError(t, err)
	var data storage.ExportData
	require.NoError(t, json.Unmarshal(out, &data))
	assert.Equal(t, "alice", data.UserID)
	assert.Len(t, data.Devices, 1)

	out, err = f.svc.Export(ctx, "alice", "yaml")
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "healthsync", doc["tool"])

	_, err = f.svc.Export(ctx, "alice", "csv")
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
}
