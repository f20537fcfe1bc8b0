// Package worker starts backup engine runs and reports their completion
// without blocking the caller.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/lock"
	"github.com/hughe/cf-backup/internal/progress"
	"github.com/hughe/cf-backup/internal/util"
)

type Spec struct {
	JobID       uuid.UUID
	Source      string
	Destination string
}

// Handle is a running job.
type Handle interface {
	// Poll returns the result once the job has terminated. It never blocks.
	Poll() (backup.Result, bool)
	// Cancel asks the job to stop. The job still reports a result.
	Cancel()
	// Wait blocks until the job terminates or ctx is done.
	Wait(ctx context.Context) (backup.Result, error)
}

type Launcher interface {
	// Launch starts a job that sends progress on ch. The caller owns ch and
	// closes it after observing termination.
	Launch(ctx context.Context, spec Spec, ch *progress.Channel) (Handle, error)
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	result backup.Result
}

func newHandle(cancel context.CancelFunc) *handle {
	return &handle{cancel: cancel, done: make(chan struct{})}
}

func (h *handle) finish(res backup.Result) {
	h.result = res
	close(h.done)
	h.cancel()
}

func (h *handle) Poll() (backup.Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return backup.Result{}, false
	}
}

func (h *handle) Cancel() {
	h.cancel()
}

func (h *handle) Wait(ctx context.Context) (backup.Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return backup.Result{}, ctx.Err()
	}
}

// Execute runs one job on e, holding the destination volume lock when
// locking is set.
func Execute(ctx context.Context, e *backup.Engine, spec Spec, out backup.Emitter, locking bool) backup.Result {
	if locking {
		lockPath := util.LockPath(filepath.Dir(spec.Destination))
		release, err := lock.Acquire(lockPath, spec.Destination)
		if err != nil {
			return backup.Result{
				Job:      backup.Job{ID: spec.JobID, Source: spec.Source, Destination: spec.Destination, Status: backup.StatusWalkError},
				Status:   backup.StatusWalkError,
				ExitCode: backup.ExitWalkError,
				Err:      fmt.Errorf("failed to acquire lock: %w", err),
			}
		}
		defer func() {
			if err := release(); err != nil {
				slog.Warn("Failed to release lock", "path", lockPath, "error", err)
			}
		}()
	}

	e.JobID = spec.JobID
	return e.Run(ctx, spec.Source, spec.Destination, out)
}
