// ABOUTME: healthsync configuration management loaded from a YAML file.
// ABOUTME: Every section has defaults; the file only overrides what it names.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harperreed/healthsync/internal/correlate"
	"github.com/harperreed/healthsync/internal/idempotency"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/notify"
	"github.com/harperreed/healthsync/internal/orchestrator"
	"github.com/harperreed/healthsync/internal/resolve"
	"github.com/harperreed/healthsync/internal/storage"
	"gopkg.in/yaml.v3"
)

// Config stores healthsync configuration.
type Config struct {
	// DataDir is the root directory for data storage.
	// SQLite puts healthsync.db here and Badger keeps push keys under idempotency/.
	// Supports ~ expansion for home directory. Defaults to ~/.local/share/healthsync.
	DataDir string `yaml:"data_dir,omitempty"`

	// UserID is the local user when no auth layer supplies one.
	UserID string `yaml:"user_id,omitempty"`

	// MetricsAddr is where `serve` exposes Prometheus metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`

	// VendorURLs overrides the built-in API base URL per vendor.
	VendorURLs map[models.Vendor]string `yaml:"vendor_urls,omitempty"`

	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Resolver     resolve.Policy      `yaml:"resolver"`
	Correlation  correlate.Config    `yaml:"correlation"`
	Notify       notify.KafkaConfig  `yaml:"notify"`
}

// Default returns a configuration with every section filled in.
func Default() *Config {
	return &Config{
		MetricsAddr:    ":9464",
		HTTPTimeout:    30 * time.Second,
		IdempotencyTTL: idempotency.DefaultTTL,
		Orchestrator:   orchestrator.DefaultConfig(),
		Resolver:       resolve.DefaultPolicy(),
		Correlation:    correlate.DefaultConfig(),
		Notify:         notify.KafkaConfig{Topic: "healthsync.alerts", WriteTimeout: 10 * time.Second},
	}
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return storage.DataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetUserID returns the configured user, falling back to $USER and then "local".
func (c *Config) GetUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "healthsync.db")
}

// IdempotencyDir returns the Badger directory for push idempotency keys.
func (c *Config) IdempotencyDir() string {
	return filepath.Join(c.GetDataDir(), "idempotency")
}

// KafkaEnabled reports whether alerts go to Kafka rather than the log.
func (c *Config) KafkaEnabled() bool {
	return len(c.Notify.Brokers) > 0
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	for vendor := range c.VendorURLs {
		if !models.IsValidVendor(string(vendor)) {
			return fmt.Errorf("vendor_urls: unknown vendor %q", vendor)
		}
	}
	for vendor := range c.Orchestrator.Vendors {
		if !models.IsValidVendor(string(vendor)) {
			return fmt.Errorf("orchestrator.vendors: unknown vendor %q", vendor)
		}
	}
	if c.Orchestrator.Workers < 0 {
		return errors.New("orchestrator.workers must not be negative")
	}
	if c.Resolver.MergeMargin < 0 || c.Resolver.ValueTolerance < 0 {
		return errors.New("resolver margins must not be negative")
	}
	if c.KafkaEnabled() && c.Notify.Topic == "" {
		return errors.New("notify.topic is required when kafka_brokers is set")
	}
	return nil
}

// OpenStorage opens the SQLite store in the data directory.
func (c *Config) OpenStorage() (*storage.DB, error) {
	return storage.Open(c.DBPath())
}

// OpenIdempotency opens the Badger push-key store in the data directory.
func (c *Config) OpenIdempotency() (*idempotency.Store, error) {
	return idempotency.Open(c.IdempotencyDir(), c.IdempotencyTTL)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "healthsync", "config.yaml")
}

// Load reads config from disk, overlaying it on the defaults.
func Load() (*Config, error) {
	return LoadFile(GetConfigPath())
}

// LoadFile reads config from path, overlaying it on the defaults. A missing file yields
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to disk.
func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
