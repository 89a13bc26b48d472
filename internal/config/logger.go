package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DaemonLogger writes JSON logs to the configured log file. It falls back to
// a stderr production logger when the file cannot be opened.
func (c *Config) DaemonLogger() *zap.Logger {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(filepath.Dir(c.Log.File), 0700); err == nil {
		cfg.OutputPaths = []string{c.Log.File}
		cfg.ErrorOutputPaths = []string{c.Log.File}
	}

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// CLILogger returns a console logger for interactive commands. Only warnings
// and errors are shown unless the level is lowered explicitly.
func (c *Config) CLILogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	if level < zapcore.WarnLevel && c.Log.Level == Default().Log.Level {
		level = zapcore.WarnLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	return cfg.Build()
}
