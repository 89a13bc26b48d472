package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
)

// DaemonName is the process name passed to the background monitor.
const DaemonName = infra.AppName + "-monitor"

// StartDaemon spawns the background monitor from the current executable.
// The process is detached from the parent (runs independently).
func StartDaemon(extraArgs ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	return StartDaemonWithPath(executable, extraArgs...)
}

// StartDaemonWithPath spawns the background monitor from an explicit binary.
// Hidden "daemon" command: scrollmon daemon --name scrollmon-monitor [extra args]
func StartDaemonWithPath(binaryPath string, extraArgs ...string) error {
	cmd := daemonCommand(binaryPath, extraArgs...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	// The child is never waited on.
	return cmd.Process.Release()
}

func daemonCommand(binaryPath string, extraArgs ...string) *exec.Cmd {
	args := append([]string{"daemon", "--name", DaemonName}, extraArgs...)
	cmd := exec.Command(binaryPath, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // New session, detached from the terminal
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}

// SetProcessName overwrites argv[0]. Go has no setproctitle, so this only
// affects what the process reports about itself.
func SetProcessName(name string) {
	if len(os.Args) > 0 {
		os.Args[0] = name
	}
}
