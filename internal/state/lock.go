package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLocked is returned when another run holds the lock for a source.
var ErrLocked = errors.New("source is locked by another run")

// LockInfo identifies the holder of an advisory lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a per-source advisory lock file. Concurrent runs against the
// same source are unsupported; the lock makes that explicit instead of
// letting two writers race the state record. A lock left behind by a
// crashed run is removed by the operator (scriptor unlock).
type Lock struct {
	path string
	held bool
}

// NewLock creates a lock handle for the given lock file path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire creates the lock file with O_EXCL. Returns ErrLocked, wrapped
// with the holder's details, if the file already exists.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if holder, readErr := l.Holder(); readErr == nil {
				return fmt.Errorf("%w (pid %d on %s since %s)",
					ErrLocked, holder.PID, holder.Hostname, holder.StartedAt.Format(time.RFC3339))
			}
			return ErrLocked
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	info := LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	l.held = true
	return nil
}

// Release removes the lock file if this handle acquired it.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Holder reads the holder info from an existing lock file.
func (l *Lock) Holder() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}

// ForceRemove deletes the lock file regardless of holder.
// Used by the unlock command after a crashed run.
func (l *Lock) ForceRemove() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
