package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// AppName is the binary and directory name.
const AppName = "scrollmon"

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps state under the invoking user's home directory
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state in a system directory (root only)
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds the paths that depend on the execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Store, registry, key, logs and metrics
	ConfigPath string // Optional YAML config
	LogPath    string // Background monitor log
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return newExecModeConfig(ExecModeSystem, filepath.Join("/var/lib", AppName), true)
	}
	home, _ := os.UserHomeDir()
	return newExecModeConfig(ExecModeUser, filepath.Join(home, "."+AppName), false)
}

// GetUserModeConfig returns user mode paths regardless of current euid.
// Under sudo the invoking user's home directory is used.
func GetUserModeConfig() *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, filepath.Join(GetRealUserHome(), "."+AppName), os.Geteuid() == 0)
}

// ExecModeConfigForDir returns user mode paths rooted at an explicit data directory.
func ExecModeConfigForDir(dataDir string) *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, dataDir, os.Geteuid() == 0)
}

func newExecModeConfig(mode ExecMode, dataDir string, isRoot bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, AppName+".yaml"),
		LogPath:    filepath.Join(dataDir, AppName+".log"),
		IsRoot:     isRoot,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root, /var/lib)"
	case ExecModeUser:
		return "user (home directory)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
