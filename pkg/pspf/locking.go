package pspf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
)

// Global flag for lock acquisition status
var lockAcquired int32

// activeLocks tracks the flock.Flock handle for each lock path currently
// held by this process, since TryAcquireLock/ReleaseLock take a path rather
// than threading a handle through the caller.
var (
	activeLocksMu sync.Mutex
	activeLocks   = make(map[string]*flock.Flock)
)

// IsProcessRunning checks if a process with given PID is still running.
// Used only for CleanupStaleExtractions' best-effort scan of leftover temp
// directories — the lock itself is OS-enforced via flock and needs no
// PID bookkeeping.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// TryAcquireLock attempts to acquire an exclusive extraction lock backed by
// an OS file lock (flock(2) on Unix, LockFileEx on Windows). Unlike a
// PID-file scheme, a held flock releases automatically if the owning
// process dies, so there is no stale-lock bookkeeping to do.
// Returns true if the lock was acquired, false if another process holds it.
func TryAcquireLock(paths *WorkenvPaths, logger hclog.Logger) (bool, error) {
	extractDir := paths.Extract()
	if err := os.MkdirAll(extractDir, os.FileMode(DirPerms)); err != nil {
		logger.Debug("Failed to create extract directory", "error", err)
	}

	lockPath := paths.LockFile()
	fl := flock.New(lockPath)

	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockAcquisition, err)
	}
	if !locked {
		logger.Debug("🔒 Lock held by another process", "path", lockPath)
		return false, nil
	}

	if f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_TRUNC, 0644); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
		f.Close()
	}

	activeLocksMu.Lock()
	activeLocks[lockPath] = fl
	activeLocksMu.Unlock()

	logger.Debug("🔒 Acquired extraction lock", "pid", os.Getpid(), "path", lockPath)
	atomic.StoreInt32(&lockAcquired, 1)
	return true, nil
}

// ReleaseLock releases the extraction lock acquired by TryAcquireLock.
func ReleaseLock(paths *WorkenvPaths, logger hclog.Logger) {
	lockPath := paths.LockFile()

	activeLocksMu.Lock()
	fl, ok := activeLocks[lockPath]
	delete(activeLocks, lockPath)
	activeLocksMu.Unlock()

	if !ok {
		logger.Debug("⚠️ ReleaseLock called without a held lock", "path", lockPath)
		return
	}

	if err := fl.Unlock(); err != nil {
		logger.Debug("⚠️ Failed to release lock", "error", err)
	} else {
		logger.Debug("🔓 Released extraction lock")
	}
	os.Remove(lockPath)
	atomic.StoreInt32(&lockAcquired, 0)
}

// WaitForExtraction blocks until another process releases the extraction
// lock, polling at 100ms intervals via flock's blocking-with-context mode.
func WaitForExtraction(paths *WorkenvPaths, timeoutSecs int, logger hclog.Logger) error {
	lockPath := paths.LockFile()
	fl := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	logger.Debug("⏳ Waiting for extraction to complete...", "path", lockPath, "timeout_s", timeoutSecs)

	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("timeout waiting for cache extraction to complete")
	}

	// We now hold the lock ourselves; release it immediately since we only
	// wanted to confirm the other process finished, not keep extracting.
	fl.Unlock()
	logger.Debug("✅ Extraction lock released, cache should be ready")
	return nil
}

// MarkExtractionComplete marks cache extraction as complete
func MarkExtractionComplete(paths *WorkenvPaths, logger hclog.Logger) error {
	extractDir := paths.Extract()
	if err := os.MkdirAll(extractDir, os.FileMode(DirPerms)); err != nil {
		return err
	}
	markerPath := paths.CompleteFile()
	file, err := os.Create(markerPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		return err
	}
	logger.Debug("✅ Marked extraction as complete")
	return nil
}

// IsExtractionComplete checks if cache extraction is complete
func IsExtractionComplete(paths *WorkenvPaths) bool {
	_, err := os.Stat(paths.CompleteFile())
	return err == nil
}

// MarkExtractionIncomplete marks cache as incomplete (used during signal handling)
func MarkExtractionIncomplete(paths *WorkenvPaths, logger hclog.Logger) {
	extractDir := paths.Extract()
	os.MkdirAll(extractDir, os.FileMode(DirPerms))
	os.Remove(paths.CompleteFile())
	logger.Debug("⚠️ Marked extraction as incomplete")
}

// IsLockAcquired checks if lock is currently acquired
func IsLockAcquired() bool {
	return atomic.LoadInt32(&lockAcquired) != 0
}

// CleanupStaleExtractions cleans up leftover temp extraction directories
// whose owning process is no longer running.
func CleanupStaleExtractions(paths *WorkenvPaths, logger hclog.Logger) error {
	tmpDir := paths.Tmp()

	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			if pid, err := strconv.Atoi(entry.Name()); err == nil {
				if !IsProcessRunning(pid) {
					staleDir := filepath.Join(tmpDir, entry.Name())
					logger.Info("🧹 Cleaning up stale extraction directory from dead process", "pid", pid)
					if err := os.RemoveAll(staleDir); err != nil {
						logger.Debug("⚠️ Failed to remove stale directory", "path", staleDir, "error", err)
					}
				}
			}
		}
	}

	return nil
}
