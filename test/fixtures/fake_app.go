// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// FakeApp is a long-running process with a unique name, standing in for a
// monitored app such as TikTok.
type FakeApp struct {
	Name string
	Dir  string
	cmd  *exec.Cmd
}

// NewFakeApp prepares a copy of the system sleep binary under a unique name
// in dir. Names stay under 15 characters so the kernel's comm field holds
// them in full.
func NewFakeApp(dir string) *FakeApp {
	return &FakeApp{
		Name: fmt.Sprintf("smfake%06d", rand.Intn(1000000)),
		Dir:  dir,
	}
}

// Start copies the binary and launches it.
func (f *FakeApp) Start() error {
	src, err := exec.LookPath("sleep")
	if err != nil {
		return fmt.Errorf("sleep binary not found: %w", err)
	}
	dst := filepath.Join(f.Dir, f.Name)
	if err := copyExecutable(src, dst); err != nil {
		return err
	}

	f.cmd = exec.Command(dst, "300")
	if err := f.cmd.Start(); err != nil {
		return err
	}
	// Reap on exit; a zombie still answers signal 0.
	go func() { _ = f.cmd.Wait() }()
	return nil
}

// PID returns the running process id, or 0 before Start.
func (f *FakeApp) PID() int {
	if f.cmd == nil || f.cmd.Process == nil {
		return 0
	}
	return f.cmd.Process.Pid
}

// Running reports whether the process is still alive.
func (f *FakeApp) Running() bool {
	if f.cmd == nil || f.cmd.Process == nil {
		return false
	}
	return f.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Stop kills the process if it is still running.
func (f *FakeApp) Stop() {
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// WaitExit waits up to timeout for the process to exit.
func (f *FakeApp) WaitExit(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !f.Running() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
