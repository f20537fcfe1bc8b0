package backup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Syncer flushes a filesystem to stable storage.
type Syncer interface {
	Sync(path string) error
}

// FSSyncer flushes the whole filesystem containing path with syncfs(2).
type FSSyncer struct{}

func (FSSyncer) Sync(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Syncfs(fd); err != nil {
		return fmt.Errorf("failed to sync filesystem of %s: %w", path, err)
	}
	return nil
}
