// Package config loads scrollmon configuration from an optional YAML file,
// .env files and SCROLLMON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
)

// Environment variable names.
const (
	EnvDataDir        = "SCROLLMON_DATA_DIR"
	EnvStoreBackend   = "SCROLLMON_STORE_BACKEND"
	EnvLogLevel       = "SCROLLMON_LOG_LEVEL"
	EnvTickInterval   = "SCROLLMON_TICK_INTERVAL"
	EnvSampleInterval = "SCROLLMON_SAMPLE_INTERVAL"
	EnvMetricsFile    = "SCROLLMON_METRICS_FILE"
)

// Interval bounds applied by Normalize.
const (
	MinTickInterval    = 100 * time.Millisecond
	MaxTickInterval    = 5 * time.Second
	MinSampleInterval  = time.Second
	MinEnforceInterval = 500 * time.Millisecond
	MinHeartbeat       = time.Second
)

// Config is the complete runtime configuration.
type Config struct {
	DataDir       string              `yaml:"dataDir"`
	Store         StoreConfig         `yaml:"store"`
	Log           LogConfig           `yaml:"log"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // file, sqlcipher or sqlite
}

// LogConfig controls the zap loggers.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // Background monitor log; empty means <dataDir>/scrollmon.log
}

// MonitorConfig holds the background loop intervals.
type MonitorConfig struct {
	TickInterval      time.Duration `yaml:"tickInterval"`
	SampleInterval    time.Duration `yaml:"sampleInterval"`
	EnforceInterval   time.Duration `yaml:"enforceInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // Empty disables the export
}

// NotificationsConfig toggles desktop notifications.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file or environment is present.
func Default() *Config {
	return &Config{
		DataDir: infra.DetectExecMode().DataDir,
		Store:   StoreConfig{Backend: infra.BackendFile},
		Log:     LogConfig{Level: "info"},
		Monitor: MonitorConfig{
			TickInterval:      time.Second,
			SampleInterval:    infra.DefaultSampleInterval,
			EnforceInterval:   2 * time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
		Notifications: NotificationsConfig{Enabled: true},
	}
}

// Load builds the configuration. Order of precedence, lowest first: defaults,
// YAML file, .env files, process environment. An empty path means
// <dataDir>/scrollmon.yaml, which may be absent.
func Load(path string) (*Config, error) {
	return LoadWithDataDir("", path)
}

// LoadWithDataDir is Load with an explicit data directory that takes
// precedence over every other source, typically from a command line flag.
func LoadWithDataDir(dataDir, path string) (*Config, error) {
	loadEnvFiles()

	cfg := Default()
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, infra.AppName+".yaml")
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env then .env.local from the working directory.
// godotenv.Load never overrides variables already set in the process.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		_ = godotenv.Load(name)
	}
}

func (c *Config) loadFile(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvStoreBackend); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvMetricsFile); v != "" {
		c.Metrics.Textfile = v
	}
	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{EnvTickInterval, &c.Monitor.TickInterval},
		{EnvSampleInterval, &c.Monitor.SampleInterval},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

// parseDuration accepts Go durations ("1500ms") and bare seconds ("2").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Normalize fills empty fields, clamps intervals and validates the backend.
func (c *Config) Normalize() error {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Store.Backend == "" {
		c.Store.Backend = infra.BackendFile
	}
	switch c.Store.Backend {
	case infra.BackendFile, infra.BackendSQLCipher, infra.BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, infra.AppName+".log")
	}

	m := &c.Monitor
	m.TickInterval = clampDuration(m.TickInterval, def.Monitor.TickInterval, MinTickInterval, MaxTickInterval)
	m.SampleInterval = clampDuration(m.SampleInterval, def.Monitor.SampleInterval, MinSampleInterval, 0)
	m.EnforceInterval = clampDuration(m.EnforceInterval, def.Monitor.EnforceInterval, MinEnforceInterval, 0)
	m.HeartbeatInterval = clampDuration(m.HeartbeatInterval, def.Monitor.HeartbeatInterval, MinHeartbeat, 0)
	return nil
}

// clampDuration replaces a non-positive value with def and bounds it to
// [lo, hi]. hi == 0 means unbounded.
func clampDuration(v, def, lo, hi time.Duration) time.Duration {
	if v <= 0 {
		v = def
	}
	if v < lo {
		v = lo
	}
	if hi > 0 && v > hi {
		v = hi
	}
	return v
}

// ExecMode returns the path layout rooted at the configured data directory.
func (c *Config) ExecMode() *infra.ExecModeConfig {
	mode := infra.DetectExecMode()
	if mode.DataDir == c.DataDir {
		return mode
	}
	return infra.ExecModeConfigForDir(c.DataDir)
}
