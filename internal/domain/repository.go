package domain

import (
	"context"
	"time"
)

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Count returns the number of visible processes.
	Count() (int, error)
}

// Store is the durable, cross-process key/value store for settings,
// runtime state, the event log and the activity schedule.
// Decode failures read as "absent"; only write failures are reported.
type Store interface {
	LoadSettings() Settings
	SaveSettings(Settings) error

	LoadRuntimeState() RuntimeState
	SaveRuntimeState(RuntimeState) error
	// SaveRuntimeStateAsync queues a write without waiting for it.
	SaveRuntimeStateAsync(RuntimeState)
	// UpdateRuntimeState is read-modify-write under the process-local queue.
	UpdateRuntimeState(func(*RuntimeState)) (RuntimeState, error)

	LogEvent(t EventType, details *string, duration *time.Duration) error
	LoadEventLog() EventLog

	LoadSchedule() (ActivitySchedule, bool)
	SaveSchedule(ActivitySchedule) error
	ClearSchedule() error

	// ClearAll removes every key.
	ClearAll() error
	Close() error
}

// ShieldGateway blocks and unblocks a selection. Both operations are idempotent.
type ShieldGateway interface {
	ApplyShield(Selection) error
	RemoveShield() error
	// IsShieldActive is observable only; RuntimeState stays the source of truth.
	IsShieldActive() bool
}

// ActivityScheduler registers the usage schedule with the external tracker.
type ActivityScheduler interface {
	StartMonitoring(ActivitySchedule) error
	StopMonitoring() error
}

// Authorizer reports whether usage can be observed at all.
type Authorizer interface {
	Authorized() error
}

// Notifier delivers a user-facing notification. Best effort.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// DaemonRegistry lets foreground commands discover the background monitor.
// Implementation: hidden JSON file in the data directory.
type DaemonRegistry interface {
	// Register saves the daemon's PID and name.
	Register(daemon Daemon) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// IsAlive checks if the registered monitor is running via PID.
	IsAlive() (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes registry file.
	Clear() error

	// GetRegistryPath returns the hidden registry file path (for tests).
	GetRegistryPath() string
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
