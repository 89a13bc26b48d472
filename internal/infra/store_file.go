package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const storeLockName = ".store.lock"

// fileBackend keeps one JSON file per key in a directory.
type fileBackend struct {
	dir string
}

func newFileBackend(dir string) (*fileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *fileBackend) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put writes to a per-process temp file and renames it into place under an
// exclusive flock, so readers on the same host never see a partial value.
func (b *fileBackend) Put(key string, value []byte) error {
	unlock, err := b.lock()
	if err != nil {
		return err
	}
	defer unlock()

	path := b.path(key)
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, value, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (b *fileBackend) Delete(key string) error {
	unlock, err := b.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *fileBackend) lock() (func(), error) {
	lockFile, err := os.OpenFile(filepath.Join(b.dir, storeLockName), os.O_CREATE|os.O_RDWR, 0600)
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

func (b *fileBackend) WatchTargets() (string, []string) {
	names := make([]string, 0, len(storeKeys))
	for _, key := range storeKeys {
		names = append(names, key+".json")
	}
	return b.dir, names
}

func (b *fileBackend) Close() error { return nil }

var _ kvBackend = (*fileBackend)(nil)
