package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

const registryFileName = ".monitor.json"

// registryVersion is bumped when RegistryEntry changes shape.
const registryVersion = 2

// FileRegistry implements domain.DaemonRegistry using a hidden JSON file in
// the data directory. Foreground commands read it to find the monitor.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
	clock          func() time.Time
}

// NewFileRegistry creates a registry in dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
		clock:          time.Now,
	}
}

// GetRegistryPath returns the hidden registry file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// Register records the monitor's PID and name, replacing any previous entry.
func (r *FileRegistry) Register(daemon domain.Daemon) error {
	if daemon.Role != domain.RoleMonitor {
		return fmt.Errorf("unsupported daemon role %q", daemon.Role)
	}

	unlock, err := r.lock()
	if err != nil {
		return err
	}
	defer unlock()

	startedAt := daemon.StartedAt
	if startedAt.IsZero() {
		startedAt = r.clock()
	}

	entry := &domain.RegistryEntry{
		Version:       registryVersion,
		MonitorPID:    daemon.PID,
		MonitorName:   daemon.Name,
		StartedAt:     startedAt.Unix(),
		LastHeartbeat: r.clock().Unix(),
		AppVersion:    daemon.AppVersion,
		Mode:          string(DetectExecMode().Mode),
	}
	return r.atomicWrite(entry)
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	unlock, err := r.lock()
	if err != nil {
		return err
	}
	defer unlock()

	entry, err := r.GetAll()
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("monitor not registered")
	}

	entry.LastHeartbeat = r.clock().Unix()
	return r.atomicWrite(entry)
}

// IsAlive checks if the registered monitor is running via PID.
func (r *FileRegistry) IsAlive() (bool, error) {
	entry, err := r.GetAll()
	if err != nil {
		return false, err
	}
	if entry == nil || entry.MonitorPID == 0 {
		return false, nil // Not registered = not alive
	}
	return r.processManager.IsRunning(entry.MonitorPID), nil
}

// GetAll returns the registry entry, or nil if no monitor ever registered.
func (r *FileRegistry) GetAll() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Clear removes registry file.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// lock serialises writers across processes.
func (r *FileRegistry) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
	}, nil
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(entry *domain.RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Temp file is unique per process
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
