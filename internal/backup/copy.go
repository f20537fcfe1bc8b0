package backup

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hughe/cf-backup/internal/crypto"
	"github.com/hughe/cf-backup/internal/manifest"
	"github.com/spf13/afero"
)

var ErrDestinationExists = errors.New("destination already exists")

const copyBufferSize = 256 * 1024

type CopyStats struct {
	Files int64
	Bytes int64
	// Entries lists every copied file when checksums are enabled.
	Entries []manifest.FileInfo
}

// Copier duplicates a directory tree. Permission and time metadata are
// applied best effort since FAT media reject most of it.
type Copier struct {
	Fs            afero.Fs
	ProgressEvery int
	Checksums     bool
	// OnProgress receives the cumulative number of files copied.
	OnProgress func(copied int64)

	buf          []byte
	root         string
	stats        CopyStats
	lastReported int64
}

// Copy duplicates src into dst, which must not exist yet. A failure part way
// leaves whatever was already written.
func (c *Copier) Copy(ctx context.Context, src, dst string) (CopyStats, error) {
	c.buf = make([]byte, copyBufferSize)
	c.root = src
	c.stats = CopyStats{}
	c.lastReported = -1

	srcInfo, err := c.Fs.Stat(src)
	if err != nil {
		return c.stats, fmt.Errorf("failed to stat source: %w", err)
	}
	if !srcInfo.IsDir() {
		return c.stats, fmt.Errorf("source %s is not a directory", src)
	}

	if rel, err := filepath.Rel(src, dst); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return c.stats, fmt.Errorf("destination %s is inside source %s", dst, src)
	}

	if _, err := c.Fs.Stat(dst); err == nil {
		return c.stats, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	} else if !os.IsNotExist(err) {
		return c.stats, fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := c.Fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return c.stats, fmt.Errorf("failed to create destination parent: %w", err)
	}

	if err := c.copyDir(ctx, src, dst, srcInfo); err != nil {
		return c.stats, err
	}

	if c.lastReported != c.stats.Files {
		c.report()
	}
	return c.stats, nil
}

func (c *Copier) copyDir(ctx context.Context, src, dst string, info os.FileInfo) error {
	if err := c.Fs.Mkdir(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dst, err)
	}

	entries, err := afero.ReadDir(c.Fs, src)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", src, err)
	}

	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		switch {
		case e.IsDir():
			if err := c.copyDir(ctx, from, to, e); err != nil {
				return err
			}
		case e.Mode().IsRegular():
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.copyFile(from, to, e); err != nil {
				return err
			}
		default:
			slog.Debug("Skipping non-regular entry", "path", from, "mode", e.Mode()&os.ModeType)
		}
	}

	c.applyMetadata(dst, info)
	return nil
}

func (c *Copier) copyFile(src, dst string, info os.FileInfo) error {
	in, err := c.Fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := c.Fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	var w io.Writer = out
	var h hash.Hash
	if c.Checksums {
		h = crypto.NewHasher()
		w = io.MultiWriter(out, h)
	}

	n, err := io.CopyBuffer(w, in, c.buf)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}

	c.applyMetadata(dst, info)

	c.stats.Files++
	c.stats.Bytes += n
	if h != nil {
		rel, err := filepath.Rel(c.root, src)
		if err != nil {
			rel = src
		}
		c.stats.Entries = append(c.stats.Entries, manifest.FileInfo{
			Path:       filepath.ToSlash(rel),
			Size:       n,
			Blake3Hash: crypto.Sum(h),
		})
	}

	if c.ProgressEvery > 0 && c.stats.Files%int64(c.ProgressEvery) == 0 {
		c.report()
	}
	return nil
}

func (c *Copier) applyMetadata(path string, info os.FileInfo) {
	if err := c.Fs.Chmod(path, info.Mode().Perm()); err != nil {
		slog.Debug("Failed to set permissions", "path", path, "error", err)
	}
	if err := c.Fs.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		slog.Debug("Failed to set modification time", "path", path, "error", err)
	}
}

func (c *Copier) report() {
	c.lastReported = c.stats.Files
	if c.OnProgress != nil {
		c.OnProgress(c.stats.Files)
	}
}
