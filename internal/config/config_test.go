// ABOUTME: Tests for healthsync configuration management.
// ABOUTME: Covers defaults, YAML overlay, save/load, validation, and path expansion.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfigHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestDefaultFillsEverySection(t *testing.T) {
	cfg := Default()
	assert.Equal(t, orchestrator.DefaultConfig(), cfg.Orchestrator)
	assert.Equal(t, 0.1, cfg.Resolver.MergeMargin)
	assert.Equal(t, 5, cfg.Correlation.MinPairedDays)
	assert.Equal(t, 6*time.Hour, cfg.Correlation.CacheTTL)
	assert.NotEmpty(t, cfg.Notify.Topic)
	assert.False(t, cfg.KafkaEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestGetDataDir(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name    string
		dataDir string
		want    string
	}{
		{"explicit", "/tmp/healthsync-test", "/tmp/healthsync-test"},
		{"tilde", "~/healthsync-data", filepath.Join(home, "healthsync-data")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DataDir: tt.dataDir}
			if got := cfg.GetDataDir(); got != tt.want {
				t.Errorf("GetDataDir() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := (&Config{}).GetDataDir(); got == "" {
		t.Error("GetDataDir() returned empty string")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/srv/hs"}
	assert.Equal(t, "/srv/hs/healthsync.db", cfg.DBPath())
	assert.Equal(t, "/srv/hs/idempotency", cfg.IdempotencyDir())
}

func TestGetUserID(t *testing.T) {
	t.Setenv("USER", "casey")
	assert.Equal(t, "casey", (&Config{}).GetUserID())
	assert.Equal(t, "sam", (&Config{UserID: "sam"}).GetUserID())

	t.Setenv("USER", "")
	assert.Equal(t, "local", (&Config{}).GetUserID())
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/tmp/foo", "/tmp/foo"},
		{"~", home},
		{"~/data/healthsync", filepath.Join(home, "data/healthsync")},
		{"data/healthsync", "data/healthsync"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	dir := withConfigHome(t)
	assert.Equal(t, filepath.Join(dir, "healthsync", "config.yaml"), GetConfigPath())
}

func TestLoadNonExistentConfigReturnsDefaults(t *testing.T) {
	withConfigHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := withConfigHome(t)
	path := filepath.Join(dir, "healthsync", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/healthsync
orchestrator:
  workers: 8
  retry:
    max_attempts: 6
    base_delay: 250ms
  vendors:
    google_fit:
      max_concurrent: 1
      requests_per_second: 0.5
      burst: 1
resolver:
  merge_margin: 0.2
correlation:
  cache_ttl: 1h
notify:
  kafka_brokers: ["kafka-1:9092", "kafka-2:9092"]
vendor_urls:
  garmin: http://localhost:8080
`), 0600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/healthsync", cfg.DataDir)
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, 6, cfg.Orchestrator.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Orchestrator.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.Retry.MaxDelay, "unset fields keep defaults")
	assert.Equal(t, 1, cfg.Orchestrator.Vendors[models.VendorGoogleFit].MaxConcurrent)
	assert.Contains(t, cfg.Orchestrator.Vendors, models.VendorFitbit)
	assert.Equal(t, 0.2, cfg.Resolver.MergeMargin)
	assert.Equal(t, 0.01, cfg.Resolver.ValueTolerance)
	assert.Equal(t, time.Hour, cfg.Correlation.CacheTTL)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "healthsync.alerts", cfg.Notify.Topic)
	assert.Equal(t, "http://localhost:8080", cfg.VendorURLs[models.VendorGarmin])
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := withConfigHome(t)
	path := filepath.Join(dir, "healthsync", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte("orchestrator: [not, a, map"), 0600))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown vendor url", func(c *Config) { c.VendorURLs = map[models.Vendor]string{"pebble": "http://x"} }},
		{"unknown vendor limits", func(c *Config) {
			c.Orchestrator.Vendors["pebble"] = orchestrator.VendorLimits{MaxConcurrent: 1}
		}},
		{"negative workers", func(c *Config) { c.Orchestrator.Workers = -1 }},
		{"negative margin", func(c *Config) { c.Resolver.MergeMargin = -0.1 }},
		{"kafka without topic", func(c *Config) {
			c.Notify.Brokers = []string{"kafka:9092"}
			c.Notify.Topic = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	withConfigHome(t)

	cfg := Default()
	cfg.DataDir = "/tmp/healthsync-data"
	cfg.UserID = "casey"
	cfg.Orchestrator.PollInterval = time.Minute
	require.NoError(t, cfg.Save())

	info, err := os.Stat(GetConfigPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestOpenStorage(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	db, err := cfg.OpenStorage()
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(cfg.DBPath())
	assert.NoError(t, err)
}
