// Package lock implements the single-instance discipline: a filesystem
// flock in the handler-state directory guarantees at most one Execute-phase
// Orchestrator runs on the machine at a time.
package lock

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/guestpatch/patchcore/internal/errs"
)

const lockFileName = "orchestrator.lock"

// FileLock is a held advisory lock; call Unlock to release it.
type FileLock struct {
	file *os.File
}

// TryAcquire attempts to take the single-instance lock in handlerStateDir
// without blocking. ok is false if another Orchestrator already holds it.
func TryAcquire(handlerStateDir string) (l *FileLock, ok bool, err error) {
	path := filepath.Join(handlerStateDir, lockFileName)
	f, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if openErr != nil {
		return nil, false, errs.Wrap(errs.KindConfigurationError, "failed to open lock file", openErr)
	}
	if flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); flockErr != nil {
		_ = f.Close()
		if flockErr == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.KindConfigurationError, "failed to acquire lock", flockErr)
	}
	return &FileLock{file: f}, true, nil
}

// Acquire blocks until the lock is held.
func Acquire(handlerStateDir string) (*FileLock, error) {
	path := filepath.Join(handlerStateDir, lockFileName)
	f, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if openErr != nil {
		return nil, errs.Wrap(errs.KindConfigurationError, "failed to open lock file", openErr)
	}
	if flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); flockErr != nil {
		_ = f.Close()
		return nil, errs.Wrap(errs.KindConfigurationError, "failed to acquire lock", flockErr)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the lock and closes the underlying file.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
