package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hughe/cf-backup/internal/progress"
	"github.com/spf13/afero"
)

// Emitter receives progress events. Send must not block.
type Emitter interface {
	Send(ev progress.Event) bool
}

type Tally struct {
	Files int64
	Bytes int64
}

// Count tallies the regular files under root. A CountUpdate is emitted after
// each directory and once more with the final total. Symlinks and other
// special entries are neither counted nor followed.
func Count(ctx context.Context, fs afero.Fs, root string, phase progress.Phase, out Emitter) (Tally, error) {
	var t Tally

	info, err := fs.Stat(root)
	if err != nil {
		return t, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return t, fmt.Errorf("%s is not a directory", root)
	}

	if err := countDir(ctx, fs, root, phase, out, &t); err != nil {
		return t, err
	}

	out.Send(progress.CountUpdate{Phase: phase, Files: t.Files, Bytes: t.Bytes})
	return t, nil
}

func countDir(ctx context.Context, fs afero.Fs, dir string, phase progress.Phase, out Emitter, t *Tally) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var subdirs []string
	for _, e := range entries {
		switch {
		case e.Mode().IsRegular():
			t.Files++
			t.Bytes += e.Size()
		case e.IsDir():
			subdirs = append(subdirs, filepath.Join(dir, e.Name()))
		default:
			slog.Debug("Skipping non-regular entry", "path", filepath.Join(dir, e.Name()), "mode", e.Mode()&os.ModeType)
		}
	}

	out.Send(progress.CountUpdate{Phase: phase, Files: t.Files, Bytes: t.Bytes})

	for _, sub := range subdirs {
		if err := countDir(ctx, fs, sub, phase, out, t); err != nil {
			return err
		}
	}
	return nil
}
