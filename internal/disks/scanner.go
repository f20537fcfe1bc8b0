package disks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hughe/cf-backup/internal/config"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/afero"
)

const maxLabelSize = 1024

type PartitionsFunc func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Scanner finds the source card and backup disks among mounted volumes.
type Scanner struct {
	Fs         afero.Fs
	Config     config.ScanConfig
	Partitions PartitionsFunc
	Usage      UsageFunc
}

func NewScanner(cfg config.ScanConfig) *Scanner {
	return &Scanner{
		Fs:         afero.NewOsFs(),
		Config:     cfg,
		Partitions: disk.PartitionsWithContext,
		Usage:      disk.UsageWithContext,
	}
}

// Scan classifies every candidate volume. A role claimed by more than one
// volume is left empty and reported as an *AmbiguityError.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	candidates, err := s.Candidates(ctx)
	if err != nil {
		return Result{}, err
	}

	matches := make(map[Role][]string)
	for _, path := range candidates {
		if role, ok := s.Classify(path); ok {
			matches[role] = append(matches[role], path)
		}
	}

	var res Result
	var errs []error
	for _, role := range []Role{RolePrimary, RoleSecondary, RoleSource} {
		paths := matches[role]
		switch len(paths) {
		case 0:
		case 1:
			switch role {
			case RolePrimary:
				res.Primary = paths[0]
			case RoleSecondary:
				res.Secondary = paths[0]
			case RoleSource:
				res.Source = paths[0]
			}
		default:
			errs = append(errs, &AmbiguityError{Role: role, Paths: paths})
		}
	}

	return res, errors.Join(errs...)
}

// Candidates lists the directories under the media roots and the mount
// points under the configured prefixes, sorted and without duplicates.
func (s *Scanner) Candidates(ctx context.Context) ([]string, error) {
	var out []string

	for _, root := range s.Config.MediaRoots {
		entries, err := afero.ReadDir(s.Fs, root)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Debug("Media root does not exist", "root", root)
				continue
			}
			return nil, fmt.Errorf("failed to read media root %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				out = append(out, filepath.Join(root, e.Name()))
			}
		}
	}

	if len(s.Config.MountPrefixes) > 0 && s.Partitions != nil {
		parts, err := s.Partitions(ctx, false)
		if err != nil {
			slog.Warn("Failed to list partitions", "error", err)
		}
		for _, p := range parts {
			if hasAnyPrefix(p.Mountpoint, s.Config.MountPrefixes) {
				out = append(out, filepath.Clean(p.Mountpoint))
			}
		}
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

// Classify decides the role of the volume mounted at path. A volume with a
// valid label is a backup disk; otherwise one holding the source marker
// directory is the source card.
func (s *Scanner) Classify(path string) (Role, bool) {
	label, err := s.readLabel(filepath.Join(path, s.Config.LabelFile))
	switch {
	case err == nil:
		switch label {
		case s.Config.PrimaryLabel:
			return RolePrimary, true
		case s.Config.SecondaryLabel:
			return RoleSecondary, true
		}
		slog.Warn("Ignoring unknown volume label", "path", path, "label", label)
	case !os.IsNotExist(err):
		slog.Warn("Ignoring label file", "path", path, "error", err)
	}

	info, err := s.Fs.Stat(filepath.Join(path, s.Config.SourceMarker))
	if err == nil && info.IsDir() {
		return RoleSource, true
	}
	return 0, false
}

func (s *Scanner) readLabel(path string) (string, error) {
	var info os.FileInfo
	var err error
	if l, ok := s.Fs.(afero.Lstater); ok {
		info, _, err = l.LstatIfPossible(path)
	} else {
		info, err = s.Fs.Stat(path)
	}
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("label file is a symlink")
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("label file is not a regular file")
	}
	if info.Size() > maxLabelSize {
		return "", fmt.Errorf("label file is larger than %d bytes", maxLabelSize)
	}

	f, err := s.Fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxLabelSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxLabelSize {
		return "", fmt.Errorf("label file is larger than %d bytes", maxLabelSize)
	}
	return string(bytes.TrimSpace(data)), nil
}

// FreeSpace reports the bytes available on the volume at path.
func (s *Scanner) FreeSpace(ctx context.Context, path string) (uint64, error) {
	if s.Usage == nil {
		return 0, errors.New("disk usage is not available")
	}
	u, err := s.Usage(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to get disk usage of %s: %w", path, err)
	}
	return u.Free, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
