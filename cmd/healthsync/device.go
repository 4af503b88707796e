// ABOUTME: CLI commands for managing linked wearable devices.
// ABOUTME: Link, list, status, settings, disconnect and reconnect, addressed by ID prefix.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/orchestrator"
	"github.com/harperreed/healthsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	linkCode        string
	linkName        string
	reconnectCode   string
	settingsEnable  bool
	settingsCadence int
	settingsTypes   string
	settingsPrio    int
)

var deviceCmd = &cobra.Command{
	Use:     "device",
	Aliases: []string{"devices", "d"},
	Short:   "Manage linked devices",
	Long: `Link wearables and manage how they sync.

Devices are addressed by ID or by a unique ID prefix, as shown in the first
column of 'healthsync device list'.

EXAMPLES:

  healthsync device link fitbit 8XYZ12 --code <oauth-code>
  healthsync device list
  healthsync device status 3f2a
  healthsync device settings 3f2a --cadence 30 --types heart_rate,steps
  healthsync device disconnect 3f2a
  healthsync device reconnect 3f2a --code <new-code>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return deviceListCmd.RunE(cmd, args)
	},
}

var deviceLinkCmd = &cobra.Command{
	Use:   "link <vendor> <external-id>",
	Short: "Link a device",
	Long: `Link a device with its vendor. The vendor must be one of:
apple_health, google_fit, fitbit, garmin, generic_oauth.

The first sync is scheduled immediately.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := application.Service.LinkDevice(cmd.Context(), service.LinkRequest{
			UserID:     userID(),
			Vendor:     models.Vendor(args[0]),
			ExternalID: args[1],
			Code:       linkCode,
			Name:       linkName,
		})
		if err != nil {
			return fmt.Errorf("failed to link device: %w", err)
		}

		out := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprintf(out, "✓ Linked %s\n", dev.Name)
		fmt.Fprintf(out, "  %s %s (%d metric types)\n",
			color.New(color.Faint).Sprint(dev.ID.String()[:8]),
			dev.Vendor, len(dev.Capabilities))
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List linked devices",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := application.Service.ListDevices(cmd.Context(), userID())
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(devices) == 0 {
			fmt.Fprintln(out, "No devices linked.")
			return nil
		}

		faint := color.New(color.Faint)
		for _, d := range devices {
			fmt.Fprintf(out, "%s %s %s %s %s\n",
				faint.Sprint(d.DeviceID.String()[:8]),
				padRight(string(d.Vendor), 14),
				padRight(truncate(d.Name, 24), 24),
				statusLabel(d),
				faint.Sprint(lastSyncLabel(d.LastSyncAt)))
		}
		return nil
	},
}

var deviceStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a device's sync status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveDeviceID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		info, err := application.Service.DeviceStatus(cmd.Context(), userID(), id)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		printDeviceInfo(cmd, info)
		return nil
	},
}

var deviceSettingsCmd = &cobra.Command{
	Use:   "settings <id>",
	Short: "Change a device's sync settings",
	Long: `Change how a device syncs. Only the flags you pass are changed.

  --enabled    turn scheduled syncs on or off (--enabled=false)
  --cadence    minutes between scheduled syncs (0 uses the default)
  --types      comma-separated metric types to sync (must be supported by the device)
  --priority   0-100, informational`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveDeviceID(ctx, args[0])
		if err != nil {
			return err
		}
		info, err := application.Service.DeviceStatus(ctx, userID(), id)
		if err != nil {
			return fmt.Errorf("failed to get device: %w", err)
		}

		settings := info.Settings
		flags := cmd.Flags()
		if flags.Changed("enabled") {
			settings.SyncEnabled = settingsEnable
		}
		if flags.Changed("cadence") {
			settings.CadenceMinutes = settingsCadence
		}
		if flags.Changed("priority") {
			settings.Priority = settingsPrio
		}
		if flags.Changed("types") {
			settings.MetricTypes = nil
			for _, t := range splitList(settingsTypes) {
				settings.MetricTypes = append(settings.MetricTypes, models.MetricType(t))
			}
		}

		if _, err := application.Service.DeviceSettings(ctx, userID(), id, settings); err != nil {
			return fmt.Errorf("failed to update settings: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Updated settings for %s\n", id.String()[:8])
		return nil
	},
}

var deviceDisconnectCmd = &cobra.Command{
	Use:     "disconnect <id>",
	Aliases: []string{"unlink"},
	Short:   "Disconnect a device",
	Long: `Disconnect a device. Any sync in progress is stopped, scheduled syncs stop,
and readings already merged stay in the timeline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveDeviceID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := application.Service.DisconnectDevice(cmd.Context(), userID(), id); err != nil {
			return fmt.Errorf("failed to disconnect: %w", err)
		}
		color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "✗ Disconnected %s\n", id.String()[:8])
		return nil
	},
}

var deviceReconnectCmd = &cobra.Command{
	Use:   "reconnect <id>",
	Short: "Re-authenticate a disconnected device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveDeviceID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		dev, err := application.Service.ReconnectDevice(cmd.Context(), userID(), id, reconnectCode)
		if err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Reconnected %s\n", dev.Name)
		return nil
	},
}

// resolveDeviceID accepts a full UUID or a unique prefix of one of the user's devices.
func resolveDeviceID(ctx context.Context, idOrPrefix string) (uuid.UUID, error) {
	if id, err := uuid.Parse(idOrPrefix); err == nil {
		return id, nil
	}
	devices, err := application.Service.ListDevices(ctx, userID())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list devices: %w", err)
	}
	var matches []uuid.UUID
	for _, d := range devices {
		if strings.HasPrefix(d.DeviceID.String(), strings.ToLower(idOrPrefix)) {
			matches = append(matches, d.DeviceID)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("device not found: %s", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return uuid.Nil, fmt.Errorf("ambiguous device prefix %s matches %d devices", idOrPrefix, len(matches))
	}
}

func statusLabel(d *orchestrator.DeviceInfo) string {
	switch {
	case d.Status == models.DeviceDisconnected:
		label := "disconnected"
		if d.StatusReason != "" {
			label += " (" + d.StatusReason + ")"
		}
		return color.RedString("%s", label)
	case d.NeedsAttention:
		return color.YellowString("%s, needs attention", d.SyncState)
	default:
		return color.GreenString("%s", d.SyncState)
	}
}

func lastSyncLabel(t *time.Time) string {
	if t == nil {
		return "never synced"
	}
	return "synced " + t.Local().Format("2006-01-02 15:04")
}

func printDeviceInfo(cmd *cobra.Command, d *orchestrator.DeviceInfo) {
	out := cmd.OutOrStdout()
	faint := color.New(color.Faint)

	fmt.Fprintf(out, "%s %s\n", color.New(color.Bold).Sprint(d.Name), faint.Sprint(d.DeviceID.String()))
	fmt.Fprintf(out, "  Vendor:     %s\n", d.Vendor)
	fmt.Fprintf(out, "  Status:     %s\n", statusLabel(d))
	if d.BatteryLevel != nil {
		fmt.Fprintf(out, "  Battery:    %d%%\n", *d.BatteryLevel)
	}
	fmt.Fprintf(out, "  Last sync:  %s\n", lastSyncLabel(d.LastSyncAt))
	if d.NextSyncAt != nil {
		fmt.Fprintf(out, "  Next sync:  %s\n", d.NextSyncAt.Local().Format("2006-01-02 15:04"))
	}
	if d.ConsecutiveFailures > 0 {
		fmt.Fprintf(out, "  Failures:   %d in a row\n", d.ConsecutiveFailures)
	}
	fmt.Fprintf(out, "  Fail rate:  %s\n", failureRateLabel(d))
	types := make([]string, len(d.Capabilities))
	for i, mt := range d.Capabilities {
		types[i] = string(mt)
	}
	fmt.Fprintf(out, "  Metrics:    %s\n", strings.Join(types, ", "))
	enabled := "on"
	if !d.Settings.SyncEnabled {
		enabled = "off"
	}
	fmt.Fprintf(out, "  Scheduled:  %s, every %s\n", enabled, cadenceLabel(d.Settings.CadenceMinutes))
}

func failureRateLabel(d *orchestrator.DeviceInfo) string {
	return fmt.Sprintf("%.0f%% over %s", d.FailureRate*100, d.FailureWindow)
}

func cadenceLabel(minutes int) string {
	if minutes <= 0 {
		return "default interval"
	}
	return (time.Duration(minutes) * time.Minute).String()
}

func init() {
	deviceLinkCmd.Flags().StringVar(&linkCode, "code", "", "OAuth authorization code")
	deviceLinkCmd.Flags().StringVar(&linkName, "name", "", "display name")
	deviceReconnectCmd.Flags().StringVar(&reconnectCode, "code", "", "new OAuth authorization code")
	deviceSettingsCmd.Flags().BoolVar(&settingsEnable, "enabled", true, "run scheduled syncs")
	deviceSettingsCmd.Flags().IntVar(&settingsCadence, "cadence", 0, "minutes between scheduled syncs")
	deviceSettingsCmd.Flags().StringVar(&settingsTypes, "types", "", "metric types to sync (comma-separated)")
	deviceSettingsCmd.Flags().IntVar(&settingsPrio, "priority", 0, "device priority (0-100)")

	deviceCmd.AddCommand(deviceLinkCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceStatusCmd)
	deviceCmd.AddCommand(deviceSettingsCmd)
	deviceCmd.AddCommand(deviceDisconnectCmd)
	deviceCmd.AddCommand(deviceReconnectCmd)
	rootCmd.AddCommand(deviceCmd)
}
