// ABOUTME: MCP tool implementations for device sync, health data, and correlations.
// ABOUTME: Each tool validates its arguments and delegates to the service layer.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/harperreed/healthsync/internal/syncerr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "sync_device",
		Description: "Sync one linked wearable device now and report what changed",
	}, s.handleSyncDevice)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "device_status",
		Description: "Get a device's connection state, battery, last sync, and next scheduled sync",
	}, s.handleDeviceStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_devices",
		Description: "List every linked device with its sync state",
	}, s.handleListDevices)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "health_data",
		Description: "Query the conflict-resolved health timeline",
	}, s.handleHealthData)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "correlation_analysis",
		Description: "Correlate sleep, heart rate, or activity with daily nutrition intake",
	}, s.handleCorrelation)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "device_settings",
		Description: "Change a device's sync cadence, enabled state, or metric types",
	}, s.handleDeviceSettings)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_metric",
		Description: "Record a manual health reading; manual values win over later device readings",
	}, s.handleAddMetric)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_conflicts",
		Description: "List recent conflicts the resolver settled",
	}, s.handleListConflicts)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resolve_conflict",
		Description: "Override the value a conflict settled on",
	}, s.handleResolveConflict)
}

// Tool input/output types

type deviceInput struct {
	DeviceID string `json:"device_id" jsonschema:"Device ID"`
}

type healthDataInput struct {
	DeviceID    string   `json:"device_id,omitempty" jsonschema:"Only readings won by this device"`
	MetricTypes []string `json:"metric_types,omitempty" jsonschema:"Metric types to include"`
	StartDate   string   `json:"start_date,omitempty" jsonschema:"Inclusive start (RFC 3339 or YYYY-MM-DD)"`
	EndDate     string   `json:"end_date,omitempty" jsonschema:"Exclusive end (RFC 3339 or YYYY-MM-DD)"`
	Source      string   `json:"source,omitempty" jsonschema:"manual, automatic, or workout"`
	Limit       int      `json:"limit,omitempty" jsonschema:"Max results (default 100)"`
	Offset      int      `json:"offset,omitempty" jsonschema:"Results to skip"`
}

type metricsOutput struct {
	Count   int                    `json:"count"`
	Metrics []*models.HealthMetric `json:"metrics"`
}

type correlationInput struct {
	CorrelationType     string   `json:"correlation_type" jsonschema:"sleep_nutrition, heart_rate_nutrition, or activity_nutrition"`
	StartDate           string   `json:"start_date,omitempty" jsonschema:"Window start (YYYY-MM-DD), defaults to 30 days ago"`
	EndDate             string   `json:"end_date,omitempty" jsonschema:"Window end (YYYY-MM-DD), defaults to today"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" jsonschema:"Flag results below this confidence (0-1)"`
}

type settingsInput struct {
	DeviceID       string   `json:"device_id" jsonschema:"Device ID"`
	SyncEnabled    bool     `json:"sync_enabled" jsonschema:"Whether scheduled syncs run"`
	CadenceMinutes int      `json:"cadence_minutes,omitempty" jsonschema:"Minutes between scheduled syncs (0 uses the default)"`
	MetricTypes    []string `json:"metric_types,omitempty" jsonschema:"Metric types to sync (default all the device supports)"`
	Priority       int      `json:"priority,omitempty" jsonschema:"Device priority 0-100"`
}

type addMetricInput struct {
	MetricType string  `json:"metric_type" jsonschema:"Type of metric (weight, heart_rate, steps, sleep_hours, calories, ...)"`
	Value      float64 `json:"value" jsonschema:"The metric value"`
	Unit       string  `json:"unit,omitempty" jsonschema:"Unit of the value, defaults to the canonical unit"`
	OccurredAt string  `json:"occurred_at,omitempty" jsonschema:"Timestamp (ISO 8601), defaults to now"`
}

type metricOutput struct {
	ID         string  `json:"id"`
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Message    string  `json:"message"`
}

type listConflictsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Max results (default 20)"`
}

type resolveConflictInput struct {
	ConflictID string  `json:"conflict_id" jsonschema:"Conflict ID"`
	Value      float64 `json:"value" jsonschema:"The value to keep"`
}

type simpleOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Tool handlers

func (s *Server) handleSyncDevice(ctx context.Context, req *mcp.CallToolRequest, input deviceInput) (*mcp.CallToolResult, any, error) {
	id, err := parseID("device_id", input.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.svc.SyncDevice(ctx, s.userID, id)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) handleDeviceStatus(ctx context.Context, req *mcp.CallToolRequest, input deviceInput) (*mcp.CallToolResult, any, error) {
	id, err := parseID("device_id", input.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.svc.DeviceStatus(ctx, s.userID, id)
	if err != nil {
		return nil, nil, err
	}
	return nil, info, nil
}

func (s *Server) handleListDevices(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	devices, err := s.svc.ListDevices(ctx, s.userID)
	if err != nil {
		return nil, nil, err
	}
	if len(devices) == 0 {
		return nil, map[string]interface{}{"message": "No devices linked."}, nil
	}
	return nil, map[string]interface{}{"devices": devices}, nil
}

func (s *Server) handleHealthData(ctx context.Context, req *mcp.CallToolRequest, input healthDataInput) (*mcp.CallToolResult, metricsOutput, error) {
	q := service.HealthDataQuery{
		UserID:   s.userID,
		DeviceID: input.DeviceID,
		Source:   models.Source(input.Source),
		Limit:    input.Limit,
		Offset:   input.Offset,
	}
	for _, mt := range input.MetricTypes {
		q.MetricTypes = append(q.MetricTypes, models.MetricType(mt))
	}
	var err error
	if q.StartDate, err = parseOptionalTime("start_date", input.StartDate); err != nil {
		return nil, metricsOutput{}, err
	}
	if q.EndDate, err = parseOptionalTime("end_date", input.EndDate); err != nil {
		return nil, metricsOutput{}, err
	}

	metrics, err := s.svc.HealthData(ctx, q)
	if err != nil {
		return nil, metricsOutput{}, err
	}
	if metrics == nil {
		metrics = []*models.HealthMetric{}
	}
	return nil, metricsOutput{Count: len(metrics), Metrics: metrics}, nil
}

func (s *Server) handleCorrelation(ctx context.Context, req *mcp.CallToolRequest, input correlationInput) (*mcp.CallToolResult, any, error) {
	q := service.CorrelationQuery{
		UserID:              s.userID,
		CorrelationType:     models.CorrelationType(input.CorrelationType),
		ConfidenceThreshold: input.ConfidenceThreshold,
	}
	var err error
	if q.StartDate, err = parseOptionalTime("start_date", input.StartDate); err != nil {
		return nil, nil, err
	}
	if q.EndDate, err = parseOptionalTime("end_date", input.EndDate); err != nil {
		return nil, nil, err
	}

	res, err := s.svc.CorrelationAnalysis(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) handleDeviceSettings(ctx context.Context, req *mcp.CallToolRequest, input settingsInput) (*mcp.CallToolResult, simpleOutput, error) {
	id, err := parseID("device_id", input.DeviceID)
	if err != nil {
		return nil, simpleOutput{}, err
	}
	settings := models.DeviceSettings{
		SyncEnabled:    input.SyncEnabled,
		CadenceMinutes: input.CadenceMinutes,
		Priority:       input.Priority,
	}
	for _, mt := range input.MetricTypes {
		settings.MetricTypes = append(settings.MetricTypes, models.MetricType(mt))
	}

	ok, err := s.svc.DeviceSettings(ctx, s.userID, id, settings)
	if err != nil {
		return nil, simpleOutput{}, err
	}
	return nil, simpleOutput{OK: ok, Message: fmt.Sprintf("Updated settings for device %s", id.String()[:8])}, nil
}

func (s *Server) handleAddMetric(ctx context.Context, req *mcp.CallToolRequest, input addMetricInput) (*mcp.CallToolResult, metricOutput, error) {
	at := time.Now()
	if input.OccurredAt != "" {
		t, err := parseTime(input.OccurredAt)
		if err != nil {
			return nil, metricOutput{}, syncerr.New(syncerr.DataInvalid, "add_metric", fmt.Sprintf("invalid occurred_at %q", input.OccurredAt))
		}
		at = t
	}

	m, err := s.svc.RecordManual(ctx, service.ManualEntry{
		UserID:     s.userID,
		MetricType: models.MetricType(input.MetricType),
		Value:      input.Value,
		Unit:       input.Unit,
		OccurredAt: at,
	})
	if err != nil {
		return nil, metricOutput{}, err
	}

	return nil, metricOutput{
		ID:         m.ID.String()[:8],
		MetricType: string(m.MetricType),
		Value:      m.Value,
		Unit:       m.Unit,
		Message:    fmt.Sprintf("Recorded %s: %.2f %s (ID: %s)", m.MetricType, m.Value, m.Unit, m.ID.String()[:8]),
	}, nil
}

func (s *Server) handleListConflicts(ctx context.Context, req *mcp.CallToolRequest, input listConflictsInput) (*mcp.CallToolResult, any, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}
	conflicts, err := s.svc.Conflicts(ctx, s.userID, input.Limit)
	if err != nil {
		return nil, nil, err
	}
	if len(conflicts) == 0 {
		return nil, map[string]interface{}{"message": "No conflicts recorded."}, nil
	}
	return nil, map[string]interface{}{"conflicts": conflicts}, nil
}

func (s *Server) handleResolveConflict(ctx context.Context, req *mcp.CallToolRequest, input resolveConflictInput) (*mcp.CallToolResult, simpleOutput, error) {
	id, err := parseID("conflict_id", input.ConflictID)
	if err != nil {
		return nil, simpleOutput{}, err
	}
	c, err := s.svc.ResolveConflict(ctx, s.userID, id, input.Value)
	if err != nil {
		return nil, simpleOutput{}, err
	}
	return nil, simpleOutput{
		OK:      true,
		Message: fmt.Sprintf("Set %s to %.2f (conflict %s)", c.MetricType, input.Value, c.ID.String()[:8]),
	}, nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, syncerr.New(syncerr.DataInvalid, field, fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func parseOptionalTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, syncerr.New(syncerr.DataInvalid, field, fmt.Sprintf("invalid date %q", s))
	}
	return &t, nil
}
