package infra

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	mu          sync.Mutex
	runningPIDs map[int]bool
	byName      map[string][]int
	findErr     error
	countErr    error
	killedPIDs  []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		byName:      make(map[string][]int),
	}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byName[pattern], nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.runningPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.runningPIDs), nil
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningPIDs[pid] = running
}

func (m *mockProcessManager) SetNamed(pattern string, pids ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(pids) == 0 {
		delete(m.byName, pattern)
		return
	}
	m.byName[pattern] = pids
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 12, 10, 0, 0, 0, time.Local)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestStore opens a file-backed store in a temp directory.
func newTestStore(t *testing.T, opts ...StoreOption) (*Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	s, err := OpenStore(BackendFile, dataDir, nil, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dataDir
}

// Ensure mockProcessManager implements domain.ProcessManager
var _ domain.ProcessManager = (*mockProcessManager)(nil)
