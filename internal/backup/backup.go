package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/manifest"
	"github.com/hughe/cf-backup/internal/progress"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Engine runs count, copy, verify and sync for one source/destination pair.
type Engine struct {
	Fs            afero.Fs
	Syncer        Syncer
	Clock         clockwork.Clock
	ProgressEvery int
	Checksums     bool
	// WriteManifest leaves a manifest next to the destination directory.
	WriteManifest bool
	// JobID names the run; a zero ID gets a fresh one.
	JobID uuid.UUID

	// afterCopy runs between the copy and the verification count.
	afterCopy func()
}

func NewEngine(cfg config.BackupConfig) *Engine {
	return &Engine{
		Fs:            afero.NewOsFs(),
		Syncer:        FSSyncer{},
		Clock:         clockwork.NewRealClock(),
		ProgressEvery: cfg.ProgressEvery,
		Checksums:     cfg.Checksums,
		WriteManifest: true,
	}
}

// Run backs up src into dst. Events go to out as the run progresses; the
// returned Result is the completion signal.
func (e *Engine) Run(ctx context.Context, src, dst string, out Emitter) Result {
	id := e.JobID
	if id == uuid.Nil {
		id = uuid.New()
	}
	job := Job{
		ID:          id,
		Source:      src,
		Destination: dst,
		Start:       e.Clock.Now(),
	}
	log := slog.With("job", job.ID.String())

	finish := func(status Status, err error) Result {
		job.End = e.Clock.Now()
		job.Status = status
		out.Send(progress.StageChange{Stage: progress.StageFinished})

		attrs := []any{"status", status.String(), "elapsed", job.End.Sub(job.Start)}
		if err != nil {
			log.Error("Backup failed", append(attrs, "error", err)...)
		} else {
			log.Info("Backup completed", attrs...)
		}
		return Result{Job: job, Status: status, ExitCode: status.ExitCode(), Err: err}
	}

	log.Info("Backup started", "src", src, "dst", dst)

	out.Send(progress.StageChange{Stage: progress.StageCounting})
	before, err := Count(ctx, e.Fs, src, progress.PhaseInitial, out)
	if err != nil {
		return finish(classify(err), fmt.Errorf("failed to count source: %w", err))
	}
	job.SourceFiles, job.SourceBytes = before.Files, before.Bytes
	log.Info("Source counted", "files", before.Files, "bytes", before.Bytes)

	out.Send(progress.StageChange{Stage: progress.StageCopying})
	copier := &Copier{
		Fs:            e.Fs,
		ProgressEvery: e.ProgressEvery,
		Checksums:     e.Checksums,
		OnProgress: func(copied int64) {
			out.Send(progress.CopyProgress{TotalFiles: before.Files, Copied: copied})
		},
	}
	copyStart := e.Clock.Now()
	stats, err := copier.Copy(ctx, src, dst)
	if err != nil {
		return finish(classify(err), fmt.Errorf("failed to copy: %w", err))
	}
	out.Send(progress.Summary{TotalBytes: before.Bytes, Elapsed: e.Clock.Since(copyStart)})
	log.Info("Copy finished", "files", stats.Files, "bytes", stats.Bytes)

	if e.afterCopy != nil {
		e.afterCopy()
	}

	out.Send(progress.StageChange{Stage: progress.StageVerifying})
	after, err := Count(ctx, e.Fs, dst, progress.PhaseVerify, out)
	if err != nil {
		return finish(classify(err), fmt.Errorf("failed to count destination: %w", err))
	}
	job.DestFiles, job.DestBytes = after.Files, after.Bytes

	status := StatusVerified
	if before != after {
		status = StatusMismatch
		log.Warn("Verification mismatch",
			"srcFiles", before.Files, "srcBytes", before.Bytes,
			"dstFiles", after.Files, "dstBytes", after.Bytes)
	}

	out.Send(progress.StageChange{Stage: progress.StageSyncing})
	if e.WriteManifest {
		e.writeManifest(ctx, job, status, stats)
	}
	if err := e.Syncer.Sync(dst); err != nil {
		// The manifest went out before the flush; it must not claim a
		// verified copy that never reached the disk.
		if e.WriteManifest {
			e.writeManifest(ctx, job, StatusSyncFailed, stats)
		}
		return finish(StatusSyncFailed, err)
	}

	if status == StatusMismatch {
		return finish(status, fmt.Errorf("destination has %d files/%d bytes, source had %d files/%d bytes",
			after.Files, after.Bytes, before.Files, before.Bytes))
	}
	return finish(status, nil)
}

func (e *Engine) writeManifest(ctx context.Context, job Job, status Status, stats CopyStats) {
	m := manifest.Backup{
		JobID:          job.ID.String(),
		Datetime:       job.Start.Unix(),
		System:         manifest.GetSystemInfo(ctx),
		Source:         job.Source,
		Destination:    job.Destination,
		SourceFiles:    job.SourceFiles,
		SourceBytes:    job.SourceBytes,
		DestFiles:      job.DestFiles,
		DestBytes:      job.DestBytes,
		ElapsedSeconds: e.Clock.Since(job.Start).Seconds(),
		Status:         status.String(),
		Files:          stats.Entries,
	}

	path := util.ManifestPath(job.Destination)
	if err := manifest.Write(e.Fs, path, &m); err != nil {
		slog.Warn("Failed to write manifest", "path", path, "error", err)
		return
	}
	slog.Info("Manifest written", "path", path)
}

func classify(err error) Status {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	case errors.Is(err, ErrDestinationExists):
		return StatusDestinationExists
	default:
		return StatusWalkError
	}
}
