package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

var ErrLocked = errors.New("backup volume is locked")

// Entry is the content of a volume lock file.
type Entry struct {
	Pid         int    `yaml:"pid"`
	StartedAt   string `yaml:"started_at"`
	Destination string `yaml:"destination,omitempty"`
}

func readLock(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		// A torn write from a crashed engine; treat it as stale.
		return &Entry{}, nil
	}
	return &entry, nil
}

func writeLock(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}

// Acquire takes the lock at lockPath for this process, reclaiming it when the
// recorded owner is no longer running. The returned release function is safe
// to call more than once.
func Acquire(lockPath, destination string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	existing, err := readLock(lockPath)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Pid > 0 && isProcessAlive(existing.Pid) {
		return nil, fmt.Errorf("%w: pid %d writing %s (started %s)",
			ErrLocked, existing.Pid, existing.Destination, existing.StartedAt)
	}

	entry := &Entry{
		Pid:         os.Getpid(),
		StartedAt:   time.Now().Format(time.RFC3339),
		Destination: destination,
	}
	if err := writeLock(lockPath, entry); err != nil {
		return nil, err
	}

	release := func() error {
		current, err := readLock(lockPath)
		if err != nil {
			return err
		}
		if current == nil || current.Pid != entry.Pid {
			return nil
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return release, nil
}
