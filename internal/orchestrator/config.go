// ABOUTME: Orchestrator configuration: workers, timeouts, retry budget, schedule backoff.
// ABOUTME: DefaultConfig fills every field; zero values passed to New fall back to it.
package orchestrator

import (
	"time"

	"github.com/harperreed/healthsync/internal/models"
)

// RetryConfig controls retries of a single adapter call.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// Jitter adds up to this fraction of the delay, in [0, 1].
	Jitter float64 `yaml:"jitter"`
}

// BackoffConfig widens the schedule after consecutive failed runs.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// VendorLimits bounds the external calls made to one vendor.
type VendorLimits struct {
	MaxConcurrent     int     `yaml:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Config holds configuration for the orchestrator.
type Config struct {
	Workers            int                            `yaml:"workers"`
	PollInterval       time.Duration                  `yaml:"poll_interval"`
	BatchSize          int                            `yaml:"batch_size"`
	CallTimeout        time.Duration                  `yaml:"call_timeout"`
	DefaultCadence     time.Duration                  `yaml:"default_cadence"`
	Lookback           time.Duration                  `yaml:"lookback"`
	Retry              RetryConfig                    `yaml:"retry"`
	ScheduleBackoff    BackoffConfig                  `yaml:"schedule_backoff"`
	AlertAfterFailures int                            `yaml:"alert_after_failures"`
	FailureWindow      time.Duration                  `yaml:"failure_window"`
	DefaultLimits      VendorLimits                   `yaml:"default_limits"`
	Vendors            map[models.Vendor]VendorLimits `yaml:"vendors,omitempty"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		PollInterval:   30 * time.Second,
		BatchSize:      100,
		CallTimeout:    30 * time.Second,
		DefaultCadence: time.Hour,
		Lookback:       7 * 24 * time.Hour,
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Jitter:      0.2,
		},
		ScheduleBackoff: BackoffConfig{
			Base: 15 * time.Minute,
			Max:  24 * time.Hour,
		},
		AlertAfterFailures: 3,
		FailureWindow:      24 * time.Hour,
		DefaultLimits: VendorLimits{
			MaxConcurrent:     4,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Vendors: map[models.Vendor]VendorLimits{
			models.VendorFitbit: {MaxConcurrent: 2, RequestsPerSecond: 150.0 / 3600, Burst: 10},
			models.VendorGarmin: {MaxConcurrent: 2, RequestsPerSecond: 1, Burst: 2},
		},
	}
}

// withDefaults replaces zero fields with their defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.DefaultCadence <= 0 {
		c.DefaultCadence = d.DefaultCadence
	}
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.Jitter < 0 {
		c.Retry.Jitter = 0
	}
	if c.Retry.Jitter > 1 {
		c.Retry.Jitter = 1
	}
	if c.ScheduleBackoff.Base <= 0 {
		c.ScheduleBackoff.Base = d.ScheduleBackoff.Base
	}
	if c.ScheduleBackoff.Max <= 0 {
		c.ScheduleBackoff.Max = d.ScheduleBackoff.Max
	}
	if c.AlertAfterFailures <= 0 {
		c.AlertAfterFailures = d.AlertAfterFailures
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.DefaultLimits.MaxConcurrent <= 0 {
		c.DefaultLimits = d.DefaultLimits
	}
	return c
}
