// Package main is the CLI entry point for scrollmon.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/config"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/policy"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// errOverrideDenied makes the override command exit with status 1.
var errOverrideDenied = errors.New("override denied")

// Ensure the Prometheus recorder can back the state manager's metrics hooks.
var _ usecase.Recorder = (*infra.PrometheusRecorder)(nil)

func main() {
	if err := newRootCmd(&rootOptions{}).Execute(); err != nil {
		if !errors.Is(err, errOverrideDenied) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// rootOptions are the persistent flags. The shell copies them per command.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   infra.AppName,
		Short: "Usage limiter - enforces cooldowns on scrolling apps",
		Long: `scrollmon watches how long selected apps run each day. Once the daily
threshold is reached it starts a cooldown and closes those apps until the
cooldown ends. In soft mode a limited number of short overrides per day can
interrupt a cooldown.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "Config file (default <data-dir>/scrollmon.yaml)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", opts.dataDir, "Data directory (default depends on exec mode)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (debug|info|warn|error)")

	cmd.AddCommand(
		newStartCmd(opts),
		newStopCmd(opts),
		newPauseCmd(opts),
		newResumeCmd(opts),
		newOverrideCmd(opts),
		newStatusCmd(opts),
		newSettingsCmd(opts),
		newLogCmd(opts),
		newAppsCmd(),
		newResetCmd(opts),
		newShellCmd(opts),
		newVersionCmd(),
		newDaemonCmd(opts),
		newTriggerCmd(opts),
	)

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, c.CommandPath())
	})
	return cmd
}

// app holds the wired components for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pm       domain.ProcessManager
	catalog  *policy.Registry
	store    *infra.Store
	shield   *usecase.Shield
	registry *infra.FileRegistry
	recorder *infra.PrometheusRecorder
	manager  *usecase.StateManager
}

// newApp loads configuration and wires the store, shield and state manager.
// The daemon gets a file logger and a metrics recorder; commands get a
// console logger.
func newApp(opts *rootOptions, daemonMode bool) (*app, error) {
	cfg, err := config.LoadWithDataDir(opts.dataDir, opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var logger *zap.Logger
	if daemonMode {
		logger = cfg.DaemonLogger()
	} else {
		logger, err = cfg.CLILogger()
		if err != nil {
			return nil, err
		}
	}

	store, err := infra.OpenStore(cfg.Store.Backend, cfg.DataDir, infra.NewFileKeyProvider(cfg.DataDir), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		pm:      infra.NewProcessManager(),
		catalog: policy.NewRegistry(),
		store:   store,
	}
	a.shield = usecase.NewShield(a.pm, a.catalog, logger)
	a.registry = infra.NewFileRegistry(cfg.DataDir, a.pm)

	deps := usecase.StateManagerDeps{
		Store:        store,
		Shield:       a.shield,
		Scheduler:    infra.NewStoreScheduler(store, logger),
		Authorizer:   infra.NewProcessAuthorizer(a.pm),
		Notifier:     infra.NewSystemNotifier(cfg.Notifications.Enabled, logger),
		TickInterval: cfg.Monitor.TickInterval,
	}
	if daemonMode {
		a.recorder = infra.NewPrometheusRecorder(nil)
		deps.Recorder = a.recorder
	}
	a.manager = usecase.NewStateManager(deps, logger)
	return a, nil
}

// Close flushes queued store writes and the logger.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp runs fn with a freshly wired app and closes it afterwards.
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := newApp(opts, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// daemonArgs forwards the location flags to the spawned monitor.
func daemonArgs(opts *rootOptions) []string {
	var args []string
	if opts.configPath != "" {
		args = append(args, "--config", opts.configPath)
	}
	if opts.dataDir != "" {
		args = append(args, "--data-dir", opts.dataDir)
	}
	if opts.logLevel != "" {
		args = append(args, "--log-level", opts.logLevel)
	}
	return args
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if jsonOutput {
				fmt.Fprintf(out, `{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
					Version, Commit, BuildTime)
			} else {
				fmt.Fprintf(out, "%s %s (commit: %s, built: %s)\n",
					infra.AppName, Version, Commit, BuildTime)
			}
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	return cmd
}
