package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
)

// Hidden daemon command - used for self-exec when spawning the monitor
func newDaemonCmd(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:    "daemon",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", daemon.DaemonName, "Process name")
	return cmd
}

func runDaemon(opts *rootOptions, name string) error {
	a, err := newApp(opts, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	daemon.SetProcessName(name)

	d := domain.Daemon{
		PID:        os.Getpid(),
		Role:       domain.RoleMonitor,
		Name:       name,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	activity := infra.NewActivityMonitor(a.store, a.catalog, a.pm, a.manager.HandleActivityEvent,
		infra.ActivityMonitorConfig{SampleInterval: a.cfg.Monitor.SampleInterval}, logger)

	deps := daemon.MonitorDeps{
		State:    a.manager,
		Enforcer: a.shield,
		Activity: activity,
		Metrics:  a.recorder,
		Registry: a.registry,
	}
	if w, err := infra.NewStoreWatcher(a.store, a.manager.Refresh, infra.DefaultWatchDebounce, logger); err != nil {
		logger.Warn("store watcher unavailable, relying on the tick", zap.Error(err))
	} else {
		deps.Watcher = w
	}

	monitor := daemon.NewMonitor(daemon.MonitorConfig{
		EnforceInterval:   a.cfg.Monitor.EnforceInterval,
		HeartbeatInterval: a.cfg.Monitor.HeartbeatInterval,
		MetricsFile:       a.cfg.Metrics.Textfile,
	}, deps, d, logger)

	err = monitor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("received shutdown signal")
		return nil
	}
	return err
}
