package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// DefaultStaleTimeout is how long a lock taken on another host is honoured
const DefaultStaleTimeout = 6 * time.Hour

// FileName returns the lock file name guarding a prefix
func FileName(prefix string) string {
	return "." + prefix + ".lock"
}

// Holder describes the process owning a lock
type Holder struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Prefix    string    `json:"prefix"`
	Operation string    `json:"operation,omitempty"`
}

// FileLock serializes backup, restore and delete runs sharing a prefix in
// one destination directory. Runs for different prefixes never contend.
type FileLock struct {
	path         string
	prefix       string
	staleTimeout time.Duration
	held         *Holder
}

// NewFileLock creates the lock for prefix inside dir
func NewFileLock(dir, prefix string) (*FileLock, error) {
	if !domain.IsValidPrefix(prefix) {
		return nil, fmt.Errorf("%w: invalid lock prefix %q", domain.ErrInvalidArgument, prefix)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: lock directory cannot be empty", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path:         filepath.Join(dir, FileName(prefix)),
		prefix:       prefix,
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// Path returns the lock file location
func (l *FileLock) Path() string {
	return l.path
}

// SetStaleTimeout changes how long a foreign host's lock is honoured
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Acquire takes the lock for operation. Acquiring again from the same
// instance only relabels the operation.
func (l *FileLock) Acquire(operation string) error {
	if l.held != nil {
		current, err := l.read()
		if err == nil && l.ownedBy(current) {
			current.Operation = operation
			if err := l.write(current); err != nil {
				return err
			}
			l.held.Operation = operation
			return nil
		}
	}

	if existing, err := l.read(); err == nil {
		if !l.isStale(existing) {
			return &LockError{Holder: existing, Reason: "lock is held by another process"}
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	holder := &Holder{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Prefix:    l.prefix,
		Operation: operation,
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			existing, readErr := l.read()
			if readErr != nil {
				return fmt.Errorf("lock acquisition race: %w", err)
			}
			return &LockError{Holder: existing, Reason: "lock acquired by another process during acquisition"}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(holder); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	l.held = holder
	return nil
}

// Release drops the lock if this instance still owns it
func (l *FileLock) Release() error {
	if l.held == nil {
		return nil
	}
	defer func() { l.held = nil }()

	current, err := l.read()
	if err != nil {
		return nil
	}
	if !l.ownedBy(current) {
		return fmt.Errorf("lock %s was taken over by PID %d", l.path, current.PID)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live holder owns the lock
func (l *FileLock) IsLocked() bool {
	holder, err := l.read()
	return err == nil && !l.isStale(holder)
}

// GetHolder returns the live lock holder
func (l *FileLock) GetHolder() (*Holder, error) {
	holder, err := l.read()
	if err != nil {
		return nil, err
	}
	if l.isStale(holder) {
		return nil, errors.New("lock is stale")
	}
	return holder, nil
}

// ForceRelease removes the lock file whoever holds it
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.held = nil
	return nil
}

func (l *FileLock) read() (*Holder, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var holder Holder
	if err := json.Unmarshal(data, &holder); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &holder, nil
}

func (l *FileLock) write(holder *Holder) error {
	data, err := json.Marshal(holder)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0644)
}

// isStale: a holder on this host is stale once its process is gone. A holder
// on another host can only be judged by age.
func (l *FileLock) isStale(holder *Holder) bool {
	hostname, _ := os.Hostname()
	if holder.Hostname == hostname {
		return !processExists(holder.PID)
	}
	return time.Since(holder.StartTime) > l.staleTimeout
}

func (l *FileLock) ownedBy(holder *Holder) bool {
	if l.held == nil {
		return false
	}
	hostname, _ := os.Hostname()
	return holder.PID == os.Getpid() &&
		holder.Hostname == hostname &&
		holder.StartTime.Equal(l.held.StartTime)
}

// LockError is returned when another live process holds the lock
type LockError struct {
	Holder *Holder
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("cannot acquire lock: %s", e.Reason)
	}
	return fmt.Sprintf("cannot acquire lock: %s (PID %d on %s running %s for %s since %s)",
		e.Reason,
		e.Holder.PID,
		e.Holder.Hostname,
		e.Holder.Operation,
		e.Holder.Prefix,
		e.Holder.StartTime.Format(time.RFC3339),
	)
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}
