package disks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hughe/cf-backup/internal/command"
	"golang.org/x/sys/unix"
)

type Unmounter interface {
	Unmount(ctx context.Context, path string) error
}

// CommandUnmounter flushes dirty pages and then runs an external unmount
// command with the mount point appended.
type CommandUnmounter struct {
	Exec    command.Executor
	Command []string
	Sync    func()
}

func NewCommandUnmounter(cmd []string) *CommandUnmounter {
	return &CommandUnmounter{
		Exec:    &command.RealExecutor{},
		Command: cmd,
		Sync:    unix.Sync,
	}
}

func (u *CommandUnmounter) Unmount(ctx context.Context, path string) error {
	if len(u.Command) == 0 {
		return errors.New("no unmount command configured")
	}
	if u.Sync != nil {
		u.Sync()
	}

	args := append(append([]string{}, u.Command[1:]...), path)
	out, err := u.Exec.Output(ctx, u.Command[0], args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		slog.Warn("Unmount failed", "path", path, "error", err, "output", msg)
		if msg != "" {
			return fmt.Errorf("failed to unmount %s: %w: %s", path, err, msg)
		}
		return fmt.Errorf("failed to unmount %s: %w", path, err)
	}

	slog.Info("Unmounted", "path", path)
	return nil
}
