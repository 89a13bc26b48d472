package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/usecase"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	var noDaemon bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start monitoring (launches the background monitor)",
		Long: `Registers the daily schedule for the selected apps and enters monitoring.
The background monitor is started if it is not already running; it measures
usage and enforces cooldowns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				out := cmd.OutOrStdout()
				if err := a.manager.StartMonitoring(); err != nil {
					switch {
					case errors.Is(err, domain.ErrNoAppsSelected):
						return fmt.Errorf("%w\nSelect apps first, e.g. '%s settings set --categories short-video'",
							err, infra.AppName)
					case errors.Is(err, domain.ErrNotAuthorized):
						return fmt.Errorf("%w\nThe process table is not visible to this user", err)
					}
					return err
				}

				fmt.Fprintf(out, "Monitoring started (threshold %d min, cooldown %d min)\n",
					a.manager.Settings().ThresholdMinutes, a.manager.Settings().CooldownMinutes)

				if noDaemon {
					return nil
				}
				alive, _ := a.registry.IsAlive()
				if alive {
					fmt.Fprintln(out, "Background monitor: already running")
					return nil
				}
				if err := daemon.StartDaemon(daemonArgs(opts)...); err != nil {
					return fmt.Errorf("failed to start background monitor: %w", err)
				}
				fmt.Fprintln(out, "Background monitor: started")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "Only record the state; do not spawn the background monitor")
	return cmd
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop monitoring and the background monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.manager.StopMonitoring(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Monitoring stopped")
				stopMonitorProcess(cmd.OutOrStdout(), a)
				return nil
			})
		},
	}
}

// stopMonitorProcess asks a live background monitor to exit.
func stopMonitorProcess(out io.Writer, a *app) {
	entry, err := a.registry.GetAll()
	if err != nil || entry == nil || !a.pm.IsRunning(entry.MonitorPID) {
		return
	}
	proc, err := os.FindProcess(entry.MonitorPID)
	if err == nil {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		a.logger.Warn("failed to signal background monitor", zap.Int("pid", entry.MonitorPID), zap.Error(err))
		return
	}
	fmt.Fprintln(out, "Background monitor: stopping")
}

func newPauseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause monitoring (only while monitoring)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.manager.PauseMonitoring(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Monitoring paused")
				return nil
			})
		},
	}
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume paused monitoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.manager.ResumeMonitoring(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Monitoring resumed")
				return nil
			})
		},
	}
}

func newOverrideCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "override",
		Short: "Use one override to interrupt the current cooldown",
		Long: `Grants a short override while a cooldown is active. Only available in soft
mode and while overrides remain for today. Exits with status 1 when denied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				out := cmd.OutOrStdout()
				if !a.manager.UseOverride() {
					fmt.Fprintf(out, "Override denied: %s\n", denialReason(a.manager.Snapshot()))
					return errOverrideDenied
				}
				snap := a.manager.Snapshot()
				fmt.Fprintf(out, "Override granted for %s (%d left today)\n",
					formatDuration(snap.OverrideRemaining), snap.OverridesRemaining)
				return nil
			})
		},
	}
}

// denialReason explains why UseOverride said no.
func denialReason(s usecase.Snapshot) string {
	switch {
	case !s.Settings.SoftModeEnabled:
		return "soft mode is off"
	case s.Runtime.CurrentState != domain.StateCooldownActive:
		return fmt.Sprintf("no cooldown is active (state: %s)", s.Runtime.CurrentState)
	case s.OverridesRemaining <= 0:
		return fmt.Sprintf("all %d overrides used today", s.Settings.OverridesPerDay)
	default:
		return "not allowed right now"
	}
}

// statusView is the --json form of the status command.
type statusView struct {
	State              domain.State      `json:"state"`
	CooldownEndTime    *time.Time        `json:"cooldownEndTime,omitempty"`
	OverrideEndTime    *time.Time        `json:"overrideEndTime,omitempty"`
	OverridesRemaining int               `json:"overridesRemaining"`
	OverridesPerDay    int               `json:"overridesPerDay"`
	MonitorRunning     bool              `json:"monitorRunning"`
	MonitorPID         int               `json:"monitorPid,omitempty"`
	LastHeartbeat      *time.Time        `json:"lastHeartbeat,omitempty"`
	Selection          domain.Selection  `json:"selection"`
	Today              domain.DailyStats `json:"today"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show state, timers, overrides and monitor liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				a.manager.Refresh()
				snap := a.manager.Snapshot()

				view := statusView{
					State:              snap.Runtime.CurrentState,
					CooldownEndTime:    snap.Runtime.CooldownEndTime(),
					OverrideEndTime:    snap.Runtime.OverrideEndTime(),
					OverridesRemaining: snap.OverridesRemaining,
					OverridesPerDay:    snap.Settings.OverridesPerDay,
					Selection:          snap.Settings.MonitoredSelection,
					Today:              a.manager.Stats(),
				}
				if entry, err := a.registry.GetAll(); err == nil && entry != nil {
					view.MonitorRunning = a.pm.IsRunning(entry.MonitorPID)
					view.MonitorPID = entry.MonitorPID
					if entry.LastHeartbeat > 0 {
						hb := time.Unix(entry.LastHeartbeat, 0)
						view.LastHeartbeat = &hb
					}
				}

				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), view)
				}
				printStatus(cmd.OutOrStdout(), view, snap)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func printStatus(out io.Writer, v statusView, snap usecase.Snapshot) {
	fmt.Fprintf(out, "\n=== %s Status ===\n", infra.AppName)
	fmt.Fprintf(out, "State: %s\n", v.State)
	if v.CooldownEndTime != nil {
		fmt.Fprintf(out, "Cooldown ends: %s (in %s)\n",
			v.CooldownEndTime.Format("15:04:05"), formatDuration(snap.CooldownRemaining))
	}
	if v.OverrideEndTime != nil {
		fmt.Fprintf(out, "Override ends: %s (in %s)\n",
			v.OverrideEndTime.Format("15:04:05"), formatDuration(snap.OverrideRemaining))
	}
	if snap.Settings.SoftModeEnabled {
		fmt.Fprintf(out, "Overrides left today: %d/%d\n", v.OverridesRemaining, v.OverridesPerDay)
	} else {
		fmt.Fprintln(out, "Overrides: disabled (strict mode)")
	}

	switch {
	case v.MonitorRunning:
		line := fmt.Sprintf("Background monitor: RUNNING (pid %d", v.MonitorPID)
		if v.LastHeartbeat != nil {
			line += fmt.Sprintf(", heartbeat %s ago", time.Since(*v.LastHeartbeat).Round(time.Second))
		}
		fmt.Fprintln(out, line+")")
	case v.MonitorPID != 0:
		fmt.Fprintln(out, "Background monitor: NOT RUNNING (stale registration)")
	default:
		fmt.Fprintln(out, "Background monitor: NOT RUNNING")
	}

	fmt.Fprintln(out, "\nMonitored:")
	printSelection(out, v.Selection)

	fmt.Fprintln(out, "\nToday:")
	fmt.Fprintf(out, "  Thresholds reached: %d\n", v.Today.ThresholdsReached)
	fmt.Fprintf(out, "  Cooldowns: %d (%s shielded)\n", v.Today.Cooldowns, formatDuration(v.Today.ShieldedTime))
	fmt.Fprintf(out, "  Overrides used: %d\n", v.Today.OverridesUsed)
	fmt.Fprintln(out, "=====================")
}

func printSelection(out io.Writer, sel domain.Selection) {
	if sel.IsEmpty() {
		fmt.Fprintln(out, "  (nothing selected)")
		return
	}
	for _, row := range []struct {
		label  string
		tokens []string
	}{
		{"Apps", sel.Applications},
		{"Categories", sel.Categories},
		{"Web domains", sel.WebDomains},
	} {
		if len(row.tokens) > 0 {
			fmt.Fprintf(out, "  %s: %s\n", row.label, strings.Join(row.tokens, ", "))
		}
	}
}

func newTriggerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:    "trigger <event>",
		Short:  "Deliver an activity event (threshold, intervalStart, intervalEnd)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case domain.ThresholdEventName, domain.IntervalStartEventName, domain.IntervalEndEventName:
			default:
				return fmt.Errorf("unknown event %q", args[0])
			}
			return withApp(opts, func(a *app) error {
				a.manager.HandleActivityEvent(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "Delivered %s (state: %s)\n",
					args[0], a.manager.Snapshot().Runtime.CurrentState)
				return nil
			})
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase settings, state and the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			return withApp(opts, func(a *app) error {
				stopMonitorProcess(cmd.OutOrStdout(), a)
				if err := a.manager.Reset(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All data cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatDuration rounds to whole seconds for display.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
