// ABOUTME: CLI command for starting MCP server.
// ABOUTME: Runs stdio-based MCP server for AI assistant integration.
package main

import (
	"os/signal"
	"syscall"

	"github.com/harperreed/healthsync/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server",
	Long: `Start the Model Context Protocol (MCP) server for AI assistant integration.

The server acts for the configured user and communicates via stdin/stdout.
Logs go to stderr so they never corrupt the protocol stream.

CLIENT CONFIGURATION:

  {
    "mcpServers": {
      "healthsync": {
        "command": "healthsync",
        "args": ["mcp"]
      }
    }
  }

AVAILABLE TOOLS:

  sync_device           Sync one device now
  device_status         Connection state, battery, last and next sync
  list_devices          Every linked device
  health_data           Query the conflict-resolved timeline
  correlation_analysis  Sleep, heart rate, or activity vs. nutrition
  device_settings       Change cadence, enabled state, or metric types
  add_metric            Record a manual reading
  list_conflicts        Recent resolver decisions
  resolve_conflict      Override a resolver decision

AVAILABLE RESOURCES:

  healthsync://devices   Linked devices
  healthsync://today     Today's readings
  healthsync://summary   Latest value per metric and devices needing attention`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(application.Service, userID())
		if err != nil {
			return err
		}

		// Handle shutdown signals
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return server.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
