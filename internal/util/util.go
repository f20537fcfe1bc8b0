package util

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/logging"
)

const timestampLayout = "2006-01-02-15-04-05"

const lockFileName = ".cfbackup.lock"

// TimestampName names a backup directory after its start time in UTC.
func TimestampName(ts time.Time) string {
	return ts.UTC().Format(timestampLayout)
}

// ParseTimestampName reverses TimestampName.
func ParseTimestampName(name string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, name, time.UTC)
}

func BackupRoot(volume, dirName string) string {
	return filepath.Join(volume, dirName)
}

func TargetDir(volume, dirName string, ts time.Time) string {
	return filepath.Join(BackupRoot(volume, dirName), TimestampName(ts))
}

// ManifestPath is the manifest written next to a backup directory.
func ManifestPath(targetDir string) string {
	return strings.TrimRight(targetDir, string(filepath.Separator)) + ".yaml"
}

// LockPath is the lock guarding writes under a backup root. Destinations live
// directly below the root, so LockPath(filepath.Dir(dst)) finds it.
func LockPath(backupRoot string) string {
	return filepath.Join(backupRoot, lockFileName)
}

// SetupLogging builds the process logger from cfg. console may be nil when
// another component owns the terminal.
func SetupLogging(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	logger, closer, err := logging.NewLogger(logging.Options{
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Console:    console,
		Level:      level,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	return logger, closer, nil
}

// FormatBytes renders n with binary units, e.g. "1.5 GiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
