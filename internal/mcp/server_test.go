// ABOUTME: Tests for MCP server, tools, and resources.
// ABOUTME: Covers NewServer, tool handlers, and resource handlers against a stub vendor.
package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/harperreed/healthsync/internal/adapter"
	"github.com/harperreed/healthsync/internal/app"
	"github.com/harperreed/healthsync/internal/config"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/orchestrator"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/harperreed/healthsync/internal/syncerr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "casey"

type testEnv struct {
	server *Server
	app    *app.App
	stub   *adapter.Stub
}

// setupTestServer wires a server over a temp data dir with a Garmin stub.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	stub := adapter.NewStub(models.VendorGarmin).
		SetCapabilities(models.MetricHeartRate, models.MetricSteps).
		SetBattery(80)
	registry := adapter.NewRegistry()
	registry.Register(stub)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Orchestrator.Vendors = nil
	cfg.Orchestrator.DefaultLimits = orchestrator.VendorLimits{MaxConcurrent: 4}

	a, err := app.Open(cfg, nil, app.WithRegistry(registry))
	if err != nil {
		t.Fatalf("Failed to open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	server, err := NewServer(a.Service, testUser)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testEnv{server: server, app: a, stub: stub}
}

func (e *testEnv) link(t *testing.T) *models.WearableDevice {
	t.Helper()
	dev, err := e.app.Service.LinkDevice(context.Background(), service.LinkRequest{
		UserID:     testUser,
		Vendor:     models.VendorGarmin,
		ExternalID: "fenix-7",
	})
	require.NoError(t, err)
	return dev
}

func TestNewServer(t *testing.T) {
	env := setupTestServer(t)

	if env.server.mcpServer == nil {
		t.Error("Expected non-nil mcpServer")
	}
	if env.server.svc == nil {
		t.Error("Expected non-nil svc")
	}

	if _, err := NewServer(nil, testUser); err == nil {
		t.Error("Expected error for nil service")
	}
	if _, err := NewServer(env.app.Service, ""); err == nil {
		t.Error("Expected error for empty user")
	}
}

func TestHandleAddMetric(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		input     addMetricInput
		wantUnit  string
		wantValue float64
		wantErr   bool
		errSubstr string
	}{
		{
			name:      "valid weight metric",
			input:     addMetricInput{MetricType: "weight", Value: 82.5},
			wantUnit:  "kg",
			wantValue: 82.5,
		},
		{
			name:      "converted from pounds",
			input:     addMetricInput{MetricType: "weight", Value: 220.462, Unit: "lb", OccurredAt: "2025-01-31"},
			wantUnit:  "kg",
			wantValue: 100,
		},
		{
			name:      "RFC3339 timestamp",
			input:     addMetricInput{MetricType: "hrv", Value: 48, OccurredAt: "2025-01-31T08:00:00Z"},
			wantUnit:  "ms",
			wantValue: 48,
		},
		{
			name:      "simple timestamp",
			input:     addMetricInput{MetricType: "steps", Value: 10000, OccurredAt: "2025-01-31 08:00"},
			wantUnit:  "steps",
			wantValue: 10000,
		},
		{
			name:      "invalid metric type",
			input:     addMetricInput{MetricType: "invalid_type", Value: 100},
			wantErr:   true,
			errSubstr: "metric_type",
		},
		{
			name:      "invalid timestamp",
			input:     addMetricInput{MetricType: "weight", Value: 80, OccurredAt: "yesterday-ish"},
			wantErr:   true,
			errSubstr: "occurred_at",
		},
		{
			name:      "out of range",
			input:     addMetricInput{MetricType: "heart_rate", Value: 900},
			wantErr:   true,
			errSubstr: string(syncerr.DataInvalid),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, output, err := env.server.handleAddMetric(ctx, &mcp.CallToolRequest{}, tt.input)

			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				} else if !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("Error %q should contain %q", err.Error(), tt.errSubstr)
				}
				return
			}

			require.NoError(t, err)
			if output.MetricType != tt.input.MetricType {
				t.Errorf("MetricType = %s, want %s", output.MetricType, tt.input.MetricType)
			}
			assert.InDelta(t, tt.wantValue, output.Value, 0.001)
			assert.Equal(t, tt.wantUnit, output.Unit)
			assert.Len(t, output.ID, 8)
			assert.NotEmpty(t, output.Message)
		})
	}
}

func TestHandleSyncDeviceThenHealthData(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	dev := env.link(t)

	base := time.Now().UTC().Add(-6 * time.Hour).Truncate(time.Hour)
	env.stub.AddSamples(
		models.RawSample{MetricType: models.MetricHeartRate, Value: 62, Unit: "bpm", OccurredAt: base, Confidence: 0.9},
		models.RawSample{MetricType: models.MetricHeartRate, Value: 66, Unit: "bpm", OccurredAt: base.Add(time.Hour), Confidence: 0.9},
		models.RawSample{MetricType: models.MetricSteps, Value: 900, OccurredAt: base, Confidence: 0.9},
	)

	_, out, err := env.server.handleSyncDevice(ctx, &mcp.CallToolRequest{}, deviceInput{DeviceID: dev.ID.String()})
	require.NoError(t, err)
	res, ok := out.(*models.SyncResult)
	require.True(t, ok, "sync output is %T", out)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.RecordsAdded)

	_, data, err := env.server.handleHealthData(ctx, &mcp.CallToolRequest{}, healthDataInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, data.Count)

	_, hr, err := env.server.handleHealthData(ctx, &mcp.CallToolRequest{}, healthDataInput{
		MetricTypes: []string{"heart_rate"},
		StartDate:   base.Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, 1, hr.Count)
	assert.Equal(t, 66.0, hr.Metrics[0].Value)
}

func TestHandleHealthDataEmpty(t *testing.T) {
	env := setupTestServer(t)

	_, out, err := env.server.handleHealthData(context.Background(), &mcp.CallToolRequest{}, healthDataInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Count)
	assert.NotNil(t, out.Metrics, "empty list should marshal as []")
}

func TestHandleHealthDataInvalid(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input healthDataInput
	}{
		{"bad type", healthDataInput{MetricTypes: []string{"vibes"}}},
		{"bad source", healthDataInput{Source: "telepathy"}},
		{"bad start", healthDataInput{StartDate: "last tuesday"}},
		{"end before start", healthDataInput{StartDate: "2025-02-01", EndDate: "2025-01-01"}},
		{"limit too high", healthDataInput{Limit: 5000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.server.handleHealthData(ctx, &mcp.CallToolRequest{}, tt.input)
			if !syncerr.Has(err, syncerr.DataInvalid) {
				t.Errorf("err = %v, want data_invalid", err)
			}
		})
	}
}

func TestHandleDeviceStatusAndList(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, out, err := env.server.handleListDevices(ctx, &mcp.CallToolRequest{}, struct{}{})
	require.NoError(t, err)
	assert.Contains(t, out, "message")

	dev := env.link(t)

	_, out, err = env.server.handleListDevices(ctx, &mcp.CallToolRequest{}, struct{}{})
	require.NoError(t, err)
	assert.Contains(t, out, "devices")

	_, status, err := env.server.handleDeviceStatus(ctx, &mcp.CallToolRequest{}, deviceInput{DeviceID: dev.ID.String()})
	require.NoError(t, err)
	require.NotNil(t, status)

	_, _, err = env.server.handleDeviceStatus(ctx, &mcp.CallToolRequest{}, deviceInput{DeviceID: "not-a-uuid"})
	if !syncerr.Has(err, syncerr.DataInvalid) {
		t.Errorf("err = %v, want data_invalid", err)
	}
}

func TestHandleDeviceSettings(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	dev := env.link(t)

	_, out, err := env.server.handleDeviceSettings(ctx, &mcp.CallToolRequest{}, settingsInput{
		DeviceID:       dev.ID.String(),
		SyncEnabled:    true,
		CadenceMinutes: 45,
		MetricTypes:    []string{"steps"},
	})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Contains(t, out.Message, dev.ID.String()[:8])

	info, err := env.app.Service.DeviceStatus(ctx, testUser, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, info.Settings.CadenceMinutes)
	assert.Equal(t, []models.MetricType{models.MetricSteps}, info.Settings.MetricTypes)

	_, _, err = env.server.handleDeviceSettings(ctx, &mcp.CallToolRequest{}, settingsInput{
		DeviceID:    dev.ID.String(),
		SyncEnabled: true,
		MetricTypes: []string{"weight"},
	})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid), "garmin stub cannot supply weight")
}

func TestHandleCorrelation(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, out, err := env.server.handleCorrelation(ctx, &mcp.CallToolRequest{}, correlationInput{
		CorrelationType: "sleep_nutrition",
		StartDate:       "2025-01-01",
		EndDate:         "2025-01-31",
	})
	require.NoError(t, err)
	res, ok := out.(*models.CorrelationAnalysis)
	require.True(t, ok, "correlation output is %T", out)
	assert.Equal(t, models.CorrelationSleepNutrition, res.Type)
	assert.Equal(t, 0.0, res.Confidence)
	assert.NotEmpty(t, res.Insights)

	_, _, err = env.server.handleCorrelation(ctx, &mcp.CallToolRequest{}, correlationInput{CorrelationType: "mood_weather"})
	assert.True(t, syncerr.Has(err, syncerr.DataInvalid))
}

func TestHandleListAndResolveConflict(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, out, err := env.server.handleListConflicts(ctx, &mcp.CallToolRequest{}, listConflictsInput{})
	require.NoError(t, err)
	assert.Contains(t, out, "message")

	for _, v := range []float64{70, 75} {
		_, _, err := env.server.handleAddMetric(ctx, &mcp.CallToolRequest{}, addMetricInput{
			MetricType: "heart_rate",
			Value:      v,
			OccurredAt: "2025-01-31 08:00",
		})
		require.NoError(t, err)
	}

	_, out, err = env.server.handleListConflicts(ctx, &mcp.CallToolRequest{}, listConflictsInput{})
	require.NoError(t, err)
	listed, ok := out.(map[string]interface{})
	require.True(t, ok)
	conflicts, ok := listed["conflicts"].([]*models.ConflictResolution)
	require.True(t, ok)
	require.Len(t, conflicts, 1)

	_, res, err := env.server.handleResolveConflict(ctx, &mcp.CallToolRequest{}, resolveConflictInput{
		ConflictID: conflicts[0].ID.String(),
		Value:      72,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Message, "72.00")

	_, _, err = env.server.handleResolveConflict(ctx, &mcp.CallToolRequest{}, resolveConflictInput{ConflictID: "nope", Value: 72})
	assert.Error(t, err)
}

func TestHandleDevicesResource(t *testing.T) {
	env := setupTestServer(t)
	env.link(t)

	result, err := env.server.handleDevicesResource(context.Background(), &mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "healthsync://devices", result.Contents[0].URI)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &body))
	assert.Equal(t, 1, body.Count)
}

func TestHandleTodayResourceFiltersOldData(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.app.Service.RecordManual(ctx, service.ManualEntry{
		UserID: testUser, MetricType: models.MetricWeight, Value: 82, OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = env.app.Service.RecordManual(ctx, service.ManualEntry{
		UserID: testUser, MetricType: models.MetricWeight, Value: 83, OccurredAt: time.Now().AddDate(0, 0, -3),
	})
	require.NoError(t, err)

	result, err := env.server.handleTodayResource(ctx, &mcp.ReadResourceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "healthsync://today", result.Contents[0].URI)

	var body struct {
		Date  string `json:"date"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &body))
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), body.Date)
	assert.Equal(t, 1, body.Count)
}

func TestHandleSummaryResource(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	env.link(t)

	for _, e := range []struct {
		mt    models.MetricType
		value float64
	}{
		{models.MetricWeight, 82},
		{models.MetricSteps, 4000},
		{models.MetricCalories, 2100},
		{models.MetricMood, 7},
	} {
		_, err := env.app.Service.RecordManual(ctx, service.ManualEntry{
			UserID: testUser, MetricType: e.mt, Value: e.value, OccurredAt: time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)
	}

	result, err := env.server.handleSummaryResource(ctx, &mcp.ReadResourceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "healthsync://summary", result.Contents[0].URI)

	var body struct {
		Metrics map[string]map[string]struct {
			Value float64 `json:"value"`
		} `json:"metrics"`
		NeedsAttention struct {
			Devices []string `json:"devices"`
		} `json:"needs_attention"`
		Summary struct {
			TotalMetricTypes int `json:"total_metric_types"`
			DeviceCount      int `json:"device_count"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &body))

	assert.Equal(t, 82.0, body.Metrics["biometrics"]["weight"].Value)
	assert.Equal(t, 4000.0, body.Metrics["activity"]["steps"].Value)
	assert.Equal(t, 2100.0, body.Metrics["nutrition"]["calories"].Value)
	assert.Equal(t, 7.0, body.Metrics["mental"]["mood"].Value)
	assert.Equal(t, 4, body.Summary.TotalMetricTypes)
	assert.Equal(t, 1, body.Summary.DeviceCount)
	assert.Empty(t, body.NeedsAttention.Devices)
}

func TestHandleSummaryResourceEmpty(t *testing.T) {
	env := setupTestServer(t)

	result, err := env.server.handleSummaryResource(context.Background(), &mcp.ReadResourceRequest{})
	require.NoError(t, err)
	if !strings.Contains(result.Contents[0].Text, `"total_metric_types": 0`) {
		t.Errorf("expected zero metric types in %s", result.Contents[0].Text)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2025-01-31T08:00:00Z", time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC), false},
		{"2025-01-31 08:00", time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC), false},
		{"2025-01-31", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), false},
		{"31/01/2025", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
