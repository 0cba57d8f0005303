// Package lock guards against concurrent bot instances. Cooldown and daily
// quota checks read from the shared store without coordination, so a second
// live process would race them; the lock makes the single-instance
// assumption explicit and fails fast at startup.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileLock is an advisory lock backed by an exclusively-created file
// containing the holder's pid.
type FileLock struct {
	path string
}

// Acquire creates the lock file, failing if another instance already holds
// it.
func Acquire(path string) (*FileLock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance appears to be running (lock file %s exists); remove it if the previous run crashed", path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &FileLock{path: path}, nil
}

// Release removes the lock file.
func (l *FileLock) Release() error {
	return os.Remove(l.path)
}
