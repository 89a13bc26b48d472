// Package daemon implements the background monitor process.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// StateDriver is the part of the StateManager the monitor drives.
type StateDriver interface {
	Run(ctx context.Context) error
	Refresh()
	SyncShield()
	// MarkError parks the shared state in error when the monitor cannot run.
	MarkError(cause error)
}

// Enforcer re-applies the shield to newly started processes.
type Enforcer interface {
	Enforce(ctx context.Context) *domain.ShieldResult
}

// ActivitySource produces threshold and interval signals in the background.
type ActivitySource interface {
	Start() error
	Stop() error
}

// ChangeWatcher reports store writes made by other processes.
type ChangeWatcher interface {
	Run(ctx context.Context) error
}

// MetricsWriter exports metrics on each heartbeat.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// MonitorConfig holds the monitor loop intervals.
type MonitorConfig struct {
	EnforceInterval   time.Duration // How often the shield re-kills matching processes
	HeartbeatInterval time.Duration // How often the registry heartbeat is written
	MetricsFile       string        // Prometheus textfile; empty disables the export
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		EnforceInterval:   2 * time.Second,
		HeartbeatInterval: 10 * time.Second,
	}
}

// Monitor is the background process. It owns the reconciliation tick, the
// activity signals and shield enforcement while the user is in a cooldown.
type Monitor struct {
	config   MonitorConfig
	state    StateDriver
	enforcer Enforcer
	activity ActivitySource
	watcher  ChangeWatcher
	metrics  MetricsWriter
	registry domain.DaemonRegistry
	daemon   domain.Daemon
	logger   *zap.Logger
}

// MonitorDeps groups the collaborators of a Monitor. Activity, Watcher and
// Metrics are optional.
type MonitorDeps struct {
	State    StateDriver
	Enforcer Enforcer
	Activity ActivitySource
	Watcher  ChangeWatcher
	Metrics  MetricsWriter
	Registry domain.DaemonRegistry
}

// NewMonitor creates a new background monitor.
func NewMonitor(config MonitorConfig, deps MonitorDeps, daemon domain.Daemon, logger *zap.Logger) *Monitor {
	def := DefaultMonitorConfig()
	if config.EnforceInterval <= 0 {
		config.EnforceInterval = def.EnforceInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	return &Monitor{
		config:   config,
		state:    deps.State,
		enforcer: deps.Enforcer,
		activity: deps.Activity,
		watcher:  deps.Watcher,
		metrics:  deps.Metrics,
		registry: deps.Registry,
		daemon:   daemon,
		logger:   logger,
	}
}

// Run starts the monitor loop.
// This blocks until context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.registry.Register(m.daemon); err != nil {
		m.logger.Error("failed to register monitor", zap.Error(err))
		return err
	}
	defer func() {
		if err := m.registry.Clear(); err != nil {
			m.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}()

	m.logger.Info("monitor daemon started",
		zap.Int("pid", m.daemon.PID),
		zap.String("name", m.daemon.Name))

	// The shield lives in this process, so bring it in line with the stored state first.
	m.state.SyncShield()
	m.runEnforcement(ctx)

	if m.activity != nil {
		if err := m.activity.Start(); err != nil {
			m.logger.Error("failed to start activity monitor", zap.Error(err))
			m.state.MarkError(fmt.Errorf("activity monitor failed to start: %w", err))
			return err
		}
		defer func() {
			if err := m.activity.Stop(); err != nil {
				m.logger.Warn("failed to stop activity monitor", zap.Error(err))
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{}, 2)
	go func() {
		_ = m.state.Run(loopCtx)
		done <- struct{}{}
	}()
	workers := 1
	if m.watcher != nil {
		workers++
		go func() {
			if err := m.watcher.Run(loopCtx); err != nil && loopCtx.Err() == nil {
				m.logger.Warn("store watcher stopped", zap.Error(err))
			}
			done <- struct{}{}
		}()
	}
	defer func() {
		cancel()
		for i := 0; i < workers; i++ {
			<-done
		}
	}()

	enforceTicker := time.NewTicker(m.config.EnforceInterval)
	heartbeatTicker := time.NewTicker(m.config.HeartbeatInterval)
	defer func() {
		enforceTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor daemon stopping")
			return ctx.Err()

		case <-enforceTicker.C:
			m.runEnforcement(ctx)

		case <-heartbeatTicker.C:
			m.heartbeat()
		}
	}
}

// runEnforcement runs one shield pass. It is a no-op while the shield is down.
func (m *Monitor) runEnforcement(ctx context.Context) {
	result := m.enforcer.Enforce(ctx)
	if result == nil {
		return
	}
	for _, err := range result.Errors {
		m.logger.Warn("shield enforcement error", zap.Error(err))
	}
	if len(result.KilledPIDs) > 0 {
		m.logger.Info("shield enforcement completed",
			zap.Int("processes_killed", len(result.KilledPIDs)),
			zap.Int64("duration_ms", result.DurationMs))
	}
}

func (m *Monitor) heartbeat() {
	if err := m.registry.UpdateHeartbeat(); err != nil {
		m.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
	if m.metrics != nil && m.config.MetricsFile != "" {
		if err := m.metrics.WriteTextfile(m.config.MetricsFile); err != nil {
			m.logger.Warn("failed to write metrics", zap.Error(err))
		}
	}
}
