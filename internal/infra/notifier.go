package infra

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

const notifyTimeout = 5 * time.Second

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	LookPath(file string) (string, error)
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// LookPath finds an executable on PATH
func (r *RealCommandRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// SystemNotifier implements domain.Notifier with the desktop's notification
// tool: osascript on macOS, notify-send on Linux when installed. Every
// notification is also logged. Failures are logged and otherwise ignored.
type SystemNotifier struct {
	logger    *zap.Logger
	cmdRunner CommandRunner
	goos      string
	enabled   bool
}

// NewSystemNotifier creates a notifier for the current platform.
func NewSystemNotifier(enabled bool, logger *zap.Logger) *SystemNotifier {
	return NewSystemNotifierWithDeps(enabled, logger, &RealCommandRunner{}, runtime.GOOS)
}

// NewSystemNotifierWithDeps creates a notifier with injectable dependencies (for testing)
func NewSystemNotifierWithDeps(enabled bool, logger *zap.Logger, cmdRunner CommandRunner, goos string) *SystemNotifier {
	return &SystemNotifier{
		logger:    logger,
		cmdRunner: cmdRunner,
		goos:      goos,
		enabled:   enabled,
	}
}

// Notify shows title and body to the user.
func (n *SystemNotifier) Notify(ctx context.Context, title, body string) {
	n.logger.Info("notification", zap.String("title", title), zap.String("body", body))
	if !n.enabled {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := n.deliver(ctx, title, body); err != nil {
		n.logger.Warn("failed to deliver notification", zap.Error(err))
	}
}

func (n *SystemNotifier) deliver(ctx context.Context, title, body string) error {
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptQuote(body), appleScriptQuote(title))
		return n.cmdRunner.Run(ctx, "osascript", "-e", script)
	case "linux":
		path, err := n.cmdRunner.LookPath("notify-send")
		if err != nil {
			n.logger.Debug("notify-send not installed, skipping desktop notification")
			return nil
		}
		return n.cmdRunner.Run(ctx, path, "--app-name", AppName, title, body)
	default:
		return nil
	}
}

// appleScriptQuote produces an AppleScript string literal.
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Ensure SystemNotifier implements domain.Notifier.
var _ domain.Notifier = (*SystemNotifier)(nil)
