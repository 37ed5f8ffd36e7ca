package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aeroledger/aeroledger/server/internal/api"
	"github.com/aeroledger/aeroledger/server/internal/healing"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var (
	historyLimit int
	auditLimit   int
)

var statusCmd = &cobra.Command{
	Use:   "status <device>",
	Short: "Show a device's buffer, healing state and diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var resp api.StatusResponse
		if err := newClient().get(ctx, "/api/v1/sensor/status/"+url.PathEscape(args[0]), &resp); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), resp)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var resp api.DevicesResponse
		if err := newClient().get(ctx, "/api/v1/dashboard/devices", &resp); err != nil {
			return err
		}
		printDevices(cmd.OutOrStdout(), resp)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <device>",
	Short: "Show a device's recent readings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var resp api.HistoryResponse
		path := "/api/v1/sensor/history/" + url.PathEscape(args[0]) + "?limit=" + strconv.Itoa(historyLimit)
		if err := newClient().get(ctx, path, &resp); err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), resp)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit [device]",
	Short: "Show recent audit events, optionally for one device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		path := "/api/v1/dashboard/audit"
		if len(args) == 1 {
			path += "/" + url.PathEscape(args[0])
		}
		path += "?limit=" + strconv.Itoa(auditLimit)
		var resp api.AuditResponse
		if err := newClient().get(ctx, path, &resp); err != nil {
			return err
		}
		printAudit(cmd.OutOrStdout(), resp)
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show firing and recently resolved alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var resp api.AlertsResponse
		if err := newClient().get(ctx, "/api/v1/dashboard/alerts", &resp); err != nil {
			return err
		}
		printAlerts(cmd.OutOrStdout(), resp)
		return nil
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Force or release a device's fan",
}

var overrideSetCmd = &cobra.Command{
	Use:   "set <device> <on|off> <intensity>",
	Short: "Force the fan state until cleared",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		intensity, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("intensity %q: %w", args[2], err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var resp api.ControlResponse
		req := api.OverrideRequest{DeviceID: args[0], On: on, Intensity: intensity}
		if err := newClient().do(ctx, http.MethodPost, "/api/v1/control/override", req, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s fan %s at %d%%\n",
			green("✓"), args[0], onOffLabel(resp.On), resp.Intensity)
		return nil
	},
}

var overrideClearCmd = &cobra.Command{
	Use:   "clear <device>",
	Short: "Return the device to automatic control",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := newClient().do(ctx, http.MethodDelete, "/api/v1/control/override/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s back on automatic control\n", green("✓"), args[0])
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <device>",
	Short: "Clear a device's ignored sensors and safe-mode latch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		id := url.PathEscape(args[0])
		var before healing.Snapshot
		if err := newClient().get(ctx, "/api/v1/healing/"+id, &before); err != nil {
			return err
		}
		if err := newClient().do(ctx, http.MethodPost, "/api/v1/healing/"+id+"/reset", nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s healing state reset (was: safe_mode=%t, ignored=%v)\n",
			green("✓"), args[0], before.SafeMode, before.IgnoredChannels)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "number of readings")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of events")
}

// --- printers ---------------------------------------------------------------

func printStatus(w io.Writer, s api.StatusResponse) {
	fmt.Fprintf(w, "\n%s\n\n", cyan("=== "+s.DeviceID+" ==="))

	online := green("● online")
	if !s.Online {
		online = red("○ offline")
	}
	fmt.Fprintf(w, "  %s  last seen %s (%v ago)\n", online,
		s.LastSeen.Format("2006-01-02 15:04:05"), time.Since(s.LastSeen).Round(time.Second))
	fmt.Fprintf(w, "  Readings:   %d / %d\n", s.ReadingCount, s.BufferSize)

	mode := green("normal")
	if s.SafeMode {
		mode = red("SAFE MODE")
	}
	fmt.Fprintf(w, "  Mode:       %s\n", mode)
	if len(s.IgnoredChannels) > 0 {
		fmt.Fprintf(w, "  Ignored:    %s\n", yellow(fmt.Sprint(s.IgnoredChannels)))
	}
	if s.Control != nil {
		fan := fmt.Sprintf("%s at %d%%", onOffLabel(s.Control.On), s.Control.Intensity)
		if s.Control.OverrideActive {
			fan += " " + yellow("(manual override)")
		}
		fmt.Fprintf(w, "  Fan:        %s\n", fan)
	}

	fmt.Fprintf(w, "\n%s\n", yellow("Diagnostics:"))
	for _, h := range s.Diagnostics {
		fmt.Fprintf(w, "  %s %s\n", levelIcon(h.Level), h.Title)
		fmt.Fprintf(w, "    %s\n", gray(h.Detail))
	}
	fmt.Fprintln(w)
}

func printDevices(w io.Writer, r api.DevicesResponse) {
	if len(r.Devices) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("No devices"))
		return
	}
	for _, d := range r.Devices {
		icon := green("●")
		if !d.Online {
			icon = gray("○")
		}
		if d.SafeMode {
			icon = red("⚠")
		}
		extra := ""
		if len(d.IgnoredChannels) > 0 {
			extra += " " + yellow(fmt.Sprintf("ignored=%v", d.IgnoredChannels))
		}
		if d.OverrideActive {
			extra += " " + yellow("override")
		}
		fmt.Fprintf(w, "  %s %-20s fan %-3s %3d%%  readings %d%s\n",
			icon, d.DeviceID, onOffLabel(d.FanOn), d.FanIntensity, d.ReadingCount, extra)
	}
}

func printHistory(w io.Writer, r api.HistoryResponse) {
	if len(r.Readings) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("No readings"))
		return
	}
	fmt.Fprintf(w, "  %-20s %8s %8s %8s %8s\n", "TIME", "PM2.5", "CO2", "CO", "VOC")
	for _, s := range r.Readings {
		fmt.Fprintf(w, "  %-20s %8.1f %8.0f %8.1f %8.0f\n",
			s.Timestamp.Format("2006-01-02 15:04:05"), s.PM25, s.CO2, s.CO, s.VOC)
	}
}

func printAudit(w io.Writer, r api.AuditResponse) {
	if len(r.Logs) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("No audit events"))
		return
	}
	for _, e := range r.Logs {
		kind := green(string(e.Kind))
		if e.Kind == "fault" {
			kind = red(string(e.Kind))
		}
		fmt.Fprintf(w, "  %s %-8s %-16s %s\n", e.Timestamp.Format("15:04:05"), kind, e.DeviceID, gray(e.ID))
		switch e.Kind {
		case "fault":
			fmt.Fprintf(w, "    %v: %v\n", e.Data["fault_type"], e.Data["healing_action"])
		default:
			fmt.Fprintf(w, "    fan_on=%v intensity=%v %v\n", e.Data["fan_on"], e.Data["fan_intensity"], gray(e.Data["reasoning"]))
		}
	}
}

func printAlerts(w io.Writer, r api.AlertsResponse) {
	if len(r.Alerts) == 0 {
		fmt.Fprintf(w, "  %s\n", green("No alerts"))
		return
	}
	for _, a := range r.Alerts {
		state := red(a.State)
		if a.State == "resolved" {
			state = gray(a.State)
		}
		fmt.Fprintf(w, "  %s %s %-8s %-16s %s\n", levelIcon(a.Severity), a.FiredAt.Format("15:04:05"), state, a.DeviceID, a.Message)
	}
}

func levelIcon(level string) string {
	switch level {
	case "critical":
		return red("✗")
	case "warning":
		return yellow("⚠")
	case "info":
		return cyan("ℹ")
	default:
		return green("✓")
	}
}

func onOffLabel(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("fan state %q: want on or off", s)
}
