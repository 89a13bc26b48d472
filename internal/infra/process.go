// Package infra implements infrastructure concerns (store, processes, scheduling, registry).
package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct {
	self int
}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{self: os.Getpid()}
}

// FindByName returns PIDs whose process name contains pattern, ignoring case.
// The calling process is never reported, so a shield can not kill itself.
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, nil
	}
	return pm.scan(func(name string) bool {
		return strings.Contains(strings.ToLower(name), pattern)
	})
}

func (pm *ProcessManagerImpl) scan(match func(name string) bool) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var found []int
	for _, p := range procs {
		if int(p.Pid) == pm.self {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue // exited while scanning
		}
		if match(name) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Kill sends SIGKILL to pid.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	if pid == pm.self {
		return fmt.Errorf("refusing to kill own pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return fmt.Errorf("pid %d already exited: %w", pid, err)
		}
		return err
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	return nil
}

// IsRunning reports whether pid exists, using signal 0.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Count returns how many processes are visible to this user.
func (pm *ProcessManagerImpl) Count() (int, error) {
	pids, err := process.Pids()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}
	return len(pids), nil
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
