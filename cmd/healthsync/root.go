// ABOUTME: Root Cobra command for healthsync CLI.
// ABOUTME: Loads config, builds the zap logger, and opens the app via PersistentPre/PostRunE.
package main

import (
	"fmt"

	"github.com/harperreed/healthsync/internal/app"
	"github.com/harperreed/healthsync/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// annotationNoApp marks commands that only need config, not storage.
const annotationNoApp = "healthsync/no-app"

var (
	cfgFile  string
	dataDir  string
	userFlag string
	verbose  bool

	cfg         *config.Config
	logger      *zap.Logger
	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "healthsync",
	Short: "Wearable health data sync",
	Long: `healthsync pulls readings from your wearables into one conflict-resolved
health timeline and correlates it with what you eat.

SUPPORTED VENDORS:

  apple_health, google_fit, fitbit, garmin, generic_oauth

QUICK START:

  $ healthsync device link garmin fenix-7 --code <oauth-code>
  $ healthsync sync                      # Sync every connected device now
  $ healthsync list --type heart_rate    # See the merged timeline
  $ healthsync add weight 82.5           # Manual readings win over devices
  $ healthsync correlate sleep_nutrition # Does sleep track next-day intake?

CONFLICTS:

  When two devices disagree about the same reading, the resolver keeps one
  canonical value and records why.

  $ healthsync conflicts                 # What was decided
  $ healthsync conflicts resolve abc123 72

BACKGROUND SYNC:

  $ healthsync serve                     # Scheduled syncs plus /metrics

MCP INTEGRATION:

  Run 'healthsync mcp' to expose the same operations to MCP-compatible
  AI assistants over stdio.

CONFIGURATION:

  Settings are read from ~/.config/healthsync/config.yaml. Run
  'healthsync config init' to write one with every default filled in.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip app init for commands that don't need it
		if cmd.Name() == "help" || cmd.Annotations[annotationNoApp] == "true" {
			return loadConfig()
		}
		return openApp(nil)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

func loadConfig() error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFile(config.ExpandPath(cfgFile))
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if userFlag != "" {
		cfg.UserID = userFlag
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc = zap.NewDevelopmentConfig()
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// openApp loads config, lets tweak adjust it, and wires every component with opts.
func openApp(tweak func(*config.Config), opts ...app.Option) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if tweak != nil {
		tweak(cfg)
	}
	var err error
	logger, err = newLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	application, err = app.Open(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}
	return nil
}

func closeApp() error {
	var err error
	if application != nil {
		err = application.Close()
		application = nil
	}
	if logger != nil {
		_ = logger.Sync()
		logger = nil
	}
	return err
}

// userID is the user every command acts for.
func userID() string {
	return cfg.GetUserID()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/healthsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user to act as (default $USER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
}
