// ABOUTME: Builds the healthsync component graph from a Config.
// ABOUTME: Shared by the CLI commands, the MCP server, and end-to-end tests.
package app

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/harperreed/healthsync/internal/adapter"
	"github.com/harperreed/healthsync/internal/config"
	"github.com/harperreed/healthsync/internal/correlate"
	"github.com/harperreed/healthsync/internal/idempotency"
	"github.com/harperreed/healthsync/internal/ledger"
	"github.com/harperreed/healthsync/internal/notify"
	"github.com/harperreed/healthsync/internal/orchestrator"
	"github.com/harperreed/healthsync/internal/resolve"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/harperreed/healthsync/internal/storage"
	"go.uber.org/zap"
)

// App holds every long-lived component.
type App struct {
	Config       *config.Config
	DB           *storage.DB
	Keys         *idempotency.Store
	Registry     *adapter.Registry
	Timeline     *resolve.Timeline
	Ledger       *ledger.Ledger
	Notifier     notify.Notifier
	Orchestrator *orchestrator.Orchestrator
	Analyzer     *correlate.Analyzer
	Service      *service.Service
	Logger       *zap.Logger

	closers []func() error
}

type options struct {
	registry *adapter.Registry
	notifier notify.Notifier
	orchOpts []orchestrator.Option
}

// Option customizes Open.
type Option func(*options)

// WithRegistry uses the given adapters instead of the HTTP vendor clients.
func WithRegistry(r *adapter.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithNotifier overrides the alert sink chosen from config.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithOrchestratorOptions passes options through to the orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(o *options) { o.orchOpts = append(o.orchOpts, opts...) }
}

// Open creates the data directory and wires storage, adapters, resolver, ledger,
// notifier, orchestrator, analyzer and service. Close releases everything it opened.
func Open(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.GetDataDir(), 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	db, err := cfg.OpenStorage()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	a.Registry = o.registry
	if a.Registry == nil {
		keys, err := cfg.OpenIdempotency()
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open idempotency store: %w", err)
		}
		a.Keys = keys
		a.closers = append(a.closers, keys.Close)
		client := &http.Client{Timeout: cfg.HTTPTimeout}
		a.Registry = adapter.NewHTTPRegistry(client, cfg.VendorURLs, keys, logger.Named("adapter"))
	}

	a.Notifier = o.notifier
	if a.Notifier == nil {
		if cfg.KafkaEnabled() {
			kn, err := notify.NewKafkaNotifier(cfg.Notify, logger.Named("notify"))
			if err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("kafka notifier: %w", err)
			}
			a.Notifier = kn
			a.closers = append(a.closers, kn.Close)
		} else {
			a.Notifier = notify.NewLogNotifier(logger.Named("notify"))
		}
	}

	a.Timeline = resolve.NewTimeline(db, cfg.Resolver, logger.Named("resolve"))
	a.Ledger = ledger.New(db)
	a.Orchestrator = orchestrator.New(db, a.Registry, a.Timeline, a.Ledger, a.Notifier,
		cfg.Orchestrator, logger.Named("orchestrator"), o.orchOpts...)
	a.Analyzer = correlate.NewAnalyzer(db, db, db, cfg.Correlation, logger.Named("correlate"))
	a.Service = service.New(db, a.Orchestrator, a.Analyzer, a.Timeline, a.Ledger, logger.Named("service"))

	logger.Debug("app opened",
		zap.String("db", cfg.DBPath()),
		zap.Bool("kafka", cfg.KafkaEnabled()),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
