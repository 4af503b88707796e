// ABOUTME: MCP resource implementations for the healthsync core.
// ABOUTME: Provides healthsync://devices, healthsync://today, and healthsync://summary resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerResources() {
	// healthsync://devices - every linked device with sync state
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "healthsync://devices",
		Name:        "Linked Devices",
		Description: "Linked wearables with connection state, battery, and next sync",
		MIMEType:    "application/json",
	}, s.handleDevicesResource)

	// healthsync://today - timeline entries since midnight UTC
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "healthsync://today",
		Name:        "Today's Health Data",
		Description: "Conflict-resolved readings since midnight UTC",
		MIMEType:    "application/json",
	}, s.handleTodayResource)

	// healthsync://summary - latest of each metric type plus devices needing attention
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "healthsync://summary",
		Name:        "Health Summary Dashboard",
		Description: "Latest value for each metric type and any devices needing attention",
		MIMEType:    "application/json",
	}, s.handleSummaryResource)
}

var categories = []struct {
	name  string
	types []models.MetricType
}{
	{"biometrics", []models.MetricType{
		models.MetricWeight, models.MetricBodyFat, models.MetricBPSys, models.MetricBPDia,
		models.MetricHeartRate, models.MetricHRV, models.MetricTemperature,
	}},
	{"activity", []models.MetricType{
		models.MetricSteps, models.MetricDistance, models.MetricSleepHours, models.MetricActiveCalories,
	}},
	{"nutrition", []models.MetricType{
		models.MetricWater, models.MetricCalories, models.MetricProtein, models.MetricCarbs, models.MetricFat,
	}},
	{"mental", []models.MetricType{
		models.MetricMood, models.MetricEnergy, models.MetricStress, models.MetricAnxiety,
		models.MetricFocus, models.MetricMeditation,
	}},
}

// Resource handlers

func (s *Server) handleDevicesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	devices, err := s.svc.ListDevices(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return jsonResource("healthsync://devices", map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleTodayResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)

	metrics, err := s.svc.HealthData(ctx, service.HealthDataQuery{
		UserID:    s.userID,
		StartDate: &todayStart,
		Limit:     1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}

	return jsonResource("healthsync://today", map[string]interface{}{
		"date":    todayStart.Format("2006-01-02"),
		"metrics": metrics,
		"count":   len(metrics),
	})
}

func (s *Server) handleSummaryResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	grouped := make(map[string]interface{}, len(categories))
	total := 0
	for _, cat := range categories {
		latest := make(map[string]interface{})
		for _, mt := range cat.types {
			metrics, err := s.svc.HealthData(ctx, service.HealthDataQuery{
				UserID:      s.userID,
				MetricTypes: []models.MetricType{mt},
				Limit:       1,
			})
			if err != nil || len(metrics) == 0 {
				continue
			}
			m := metrics[0]
			latest[string(mt)] = map[string]interface{}{
				"value":       m.Value,
				"unit":        m.Unit,
				"occurred_at": m.OccurredAt.Format(time.RFC3339),
				"source":      m.Source,
				"devices":     m.Provenance(),
			}
		}
		total += len(latest)
		grouped[cat.name] = latest
	}

	devices, err := s.svc.ListDevices(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	var attention []string
	for _, d := range devices {
		if d.NeedsAttention || d.StatusReason == models.ReasonReauthRequired {
			attention = append(attention, d.DeviceID.String())
		}
	}

	return jsonResource("healthsync://summary", map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"metrics":      grouped,
		"needs_attention": map[string]interface{}{
			"devices": attention,
		},
		"summary": map[string]int{
			"total_metric_types": total,
			"device_count":       len(devices),
		},
	})
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
