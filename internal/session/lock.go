package session

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Iron-Ham/sketchround/internal/errors"
	"github.com/Iron-Ham/sketchround/internal/logging"
)

// Lock is a process-level claim on a shared capture resource. It keeps two
// sketchround processes from driving the same camera or drawing file.
type Lock struct {
	SessionID string    `json:"session_id"`
	Resource  string    `json:"resource"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
	logger   *logging.Logger
}

// LockPath returns the lock file used for resource within dir.
func LockPath(dir, resource string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(resource))
	return filepath.Join(dir, fmt.Sprintf("%s-%016x.lock", lockPrefix(resource), h.Sum64()))
}

// lockPrefix keeps lock file names readable: "camera" or "source".
func lockPrefix(resource string) string {
	kind, _, ok := strings.Cut(resource, ":")
	if !ok || kind == "" {
		return "resource"
	}
	return kind
}

// AcquireLock claims resource for sessionID. It returns an error wrapping
// ErrSessionLocked if a live process already holds it; locks left behind by
// dead processes are removed. The logger may be nil.
func AcquireLock(dir, resource, sessionID string, logger *logging.Logger) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lockPath := LockPath(dir, resource)

	if existing, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			logLockFailure(logger, sessionID, resource,
				fmt.Sprintf("held by session %s (PID %d on %s)", existing.SessionID, existing.PID, existing.Hostname))
			return nil, fmt.Errorf("%w: %s held by PID %d on %s",
				errors.ErrSessionLocked, resource, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			logLockFailure(logger, sessionID, resource, "failed to remove stale lock")
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale lock cleaned",
				"session_id", sessionID,
				"resource", resource,
				"old_pid", existing.PID,
			)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		SessionID: sessionID,
		Resource:  resource,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		lockFile:  lockPath,
		logger:    logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL loses the race cleanly if another process created it first.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			logLockFailure(logger, sessionID, resource, "lock file created concurrently")
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: %s held by PID %d on %s",
					errors.ErrSessionLocked, resource, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrSessionLocked
		}
		logLockFailure(logger, sessionID, resource, fmt.Sprintf("failed to create lock file: %v", err))
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		logLockFailure(logger, sessionID, resource, "failed to write lock file")
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	if logger != nil {
		logger.Info("resource lock acquired",
			"session_id", sessionID,
			"resource", resource,
			"pid", lock.PID,
		)
	}
	return lock, nil
}

func logLockFailure(logger *logging.Logger, sessionID, resource, reason string) {
	if logger == nil {
		return
	}
	logger.Error("failed to acquire lock",
		"session_id", sessionID,
		"resource", resource,
		"reason", reason,
	)
}

// Release removes the lock file if this process still owns it.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	existing, err := ReadLock(l.lockFile)
	if err != nil {
		return nil
	}
	if existing.PID != l.PID || existing.SessionID != l.SessionID {
		return nil
	}

	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Info("resource lock released",
			"session_id", l.SessionID,
			"resource", l.Resource,
		)
	}
	return nil
}

// ReadLock reads a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// IsLocked reports whether a live process holds resource.
func IsLocked(dir, resource string) (*Lock, bool) {
	lock, err := ReadLock(LockPath(dir, resource))
	if err != nil {
		return nil, false
	}
	if !isProcessAlive(lock.PID) {
		return lock, false
	}
	return lock, true
}

// isProcessAlive sends signal 0, which checks existence without side effects.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
