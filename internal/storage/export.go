// ABOUTME: Export functionality for synced health data.
// ABOUTME: Supports JSON and YAML export of the timeline, devices, ledger, and conflict audit.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"gopkg.in/yaml.v3"
)

// ExportData represents the full export format.
type ExportData struct {
	Version    string                       `json:"version" yaml:"version"`
	ExportedAt time.Time                    `json:"exported_at" yaml:"exported_at"`
	Tool       string                       `json:"tool" yaml:"tool"`
	UserID     string                       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Devices    []*models.WearableDevice     `json:"devices" yaml:"devices"`
	Metrics    []*models.HealthMetric       `json:"metrics" yaml:"metrics"`
	SyncLogs   []*models.SyncLog            `json:"sync_logs" yaml:"sync_logs"`
	Conflicts  []*models.ConflictResolution `json:"conflicts" yaml:"conflicts"`
}

// GetAllData retrieves all data for a user. An empty userID exports everyone.
func (d *DB) GetAllData(ctx context.Context, userID string) (*ExportData, error) {
	metrics, err := d.QueryMetrics(ctx, MetricQuery{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}

	devices, err := d.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var logs []*models.SyncLog
	if userID == "" {
		logs, err = d.ListSyncLogs(ctx, uuid.Nil, 0)
		if err != nil {
			return nil, fmt.Errorf("list sync logs: %w", err)
		}
	} else {
		for _, dev := range devices {
			devLogs, err := d.ListSyncLogs(ctx, dev.ID, 0)
			if err != nil {
				return nil, fmt.Errorf("list sync logs: %w", err)
			}
			logs = append(logs, devLogs...)
		}
	}

	conflicts, err := d.ListConflicts(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}

	return &ExportData{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Tool:       "healthsync",
		UserID:     userID,
		Devices:    devices,
		Metrics:    metrics,
		SyncLogs:   logs,
		Conflicts:  conflicts,
	}, nil
}

// ExportJSON exports a user's data as JSON.
func (d *DB) ExportJSON(ctx context.Context, userID string) ([]byte, error) {
	data, err := d.GetAllData(ctx, userID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(data, "", "  ")
}

// ExportYAML exports a user's data as YAML with metrics grouped by type.
func (d *DB) ExportYAML(ctx context.Context, userID string) ([]byte, error) {
	data, err := d.GetAllData(ctx, userID)
	if err != nil {
		return nil, err
	}

	yamlData := struct {
		Version    string                  `yaml:"version"`
		ExportedAt string                  `yaml:"exported_at"`
		Tool       string                  `yaml:"tool"`
		Devices    []yamlDevice            `yaml:"devices"`
		Metrics    map[string][]yamlMetric `yaml:"metrics"`
		SyncLogs   []yamlSyncLog           `yaml:"sync_logs"`
		Conflicts  int                     `yaml:"conflicts"`
	}{
		Version:    data.Version,
		ExportedAt: data.ExportedAt.Format(time.RFC3339),
		Tool:       data.Tool,
		Devices:    make([]yamlDevice, 0, len(data.Devices)),
		Metrics:    make(map[string][]yamlMetric),
		SyncLogs:   make([]yamlSyncLog, 0, len(data.SyncLogs)),
		Conflicts:  len(data.Conflicts),
	}

	for _, dev := range data.Devices {
		yamlData.Devices = append(yamlData.Devices, yamlDevice{
			ID:     dev.ID.String()[:8],
			Vendor: string(dev.Vendor),
			Name:   dev.Name,
			Status: string(dev.Status),
		})
	}

	for _, m := range data.Metrics {
		mt := string(m.MetricType)
		ym := yamlMetric{
			ID:         m.ID.String()[:8],
			Value:      m.Value,
			Unit:       m.Unit,
			OccurredAt: m.OccurredAt.Format(time.RFC3339),
			Source:     string(m.Source),
			Devices:    m.Provenance(),
		}
		if m.Notes != nil {
			ym.Notes = *m.Notes
		}
		yamlData.Metrics[mt] = append(yamlData.Metrics[mt], ym)
	}

	for _, l := range data.SyncLogs {
		yamlData.SyncLogs = append(yamlData.SyncLogs, yamlSyncLog{
			ID:        l.ID,
			Device:    l.DeviceID.String()[:8],
			Status:    string(l.Status),
			Processed: l.RecordsProcessed,
			Failed:    l.RecordsFailed,
			StartedAt: l.StartedAt.Format(time.RFC3339),
		})
	}

	return yaml.Marshal(yamlData)
}

type yamlDevice struct {
	ID     string `yaml:"id"`
	Vendor string `yaml:"vendor"`
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

type yamlMetric struct {
	ID         string   `yaml:"id"`
	Value      float64  `yaml:"value"`
	Unit       string   `yaml:"unit"`
	OccurredAt string   `yaml:"occurred_at"`
	Source     string   `yaml:"source"`
	Devices    []string `yaml:"devices,omitempty"`
	Notes      string   `yaml:"notes,omitempty"`
}

type yamlSyncLog struct {
	ID        string `yaml:"id"`
	Device    string `yaml:"device"`
	Status    string `yaml:"status"`
	Processed int    `yaml:"processed"`
	Failed    int    `yaml:"failed"`
	StartedAt string `yaml:"started_at"`
}
