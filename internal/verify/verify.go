package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/crypto"
	"github.com/hughe/cf-backup/internal/manifest"
	"github.com/hughe/cf-backup/internal/progress"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/spf13/afero"
)

// ErrMismatch means the backup on disk no longer matches its manifest.
var ErrMismatch = errors.New("backup does not match manifest")

var ErrNoChecksums = errors.New("manifest has no checksums")

type Report struct {
	Backup        string   `json:"backup"`
	Manifest      string   `json:"manifest"`
	JobID         string   `json:"job_id"`
	ExpectedFiles int64    `json:"expected_files"`
	ExpectedBytes int64    `json:"expected_bytes"`
	ActualFiles   int64    `json:"actual_files"`
	ActualBytes   int64    `json:"actual_bytes"`
	HashesChecked int      `json:"hashes_checked"`
	Missing       []string `json:"missing,omitempty"`
	Corrupt       []string `json:"corrupt,omitempty"`
	Status        string   `json:"status"`
}

func (r *Report) ok() bool {
	return r.ExpectedFiles == r.ActualFiles && r.ExpectedBytes == r.ActualBytes &&
		len(r.Missing) == 0 && len(r.Corrupt) == 0
}

type discard struct{}

func (discard) Send(progress.Event) bool { return true }

// Verify recounts the backup directory dir and compares it with the counts
// recorded in its manifest. With checksums each file listed in the manifest is
// hashed again.
func Verify(ctx context.Context, fs afero.Fs, dir string, checksums bool) (*Report, error) {
	manifestPath := util.ManifestPath(dir)
	m, err := manifest.Read(fs, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", manifestPath, err)
	}

	slog.Info("Manifest loaded", "path", manifestPath, "job", m.JobID, "files", m.SourceFiles, "bytes", m.SourceBytes)

	report := &Report{
		Backup:        dir,
		Manifest:      manifestPath,
		JobID:         m.JobID,
		ExpectedFiles: m.SourceFiles,
		ExpectedBytes: m.SourceBytes,
	}

	tally, err := backup.Count(ctx, fs, dir, progress.PhaseVerify, discard{})
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", dir, err)
	}
	report.ActualFiles, report.ActualBytes = tally.Files, tally.Bytes

	if checksums {
		if len(m.Files) == 0 {
			return nil, fmt.Errorf("%s: %w", manifestPath, ErrNoChecksums)
		}

		slog.Info("Verifying BLAKE3 hashes", "files", len(m.Files))
		for _, f := range m.Files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			actual, err := crypto.BLAKE3File(fs, filepath.Join(dir, filepath.FromSlash(f.Path)))
			switch {
			case errors.Is(err, os.ErrNotExist):
				report.Missing = append(report.Missing, f.Path)
				continue
			case err != nil:
				return nil, fmt.Errorf("failed to hash %s: %w", f.Path, err)
			}

			report.HashesChecked++
			if actual != f.Blake3Hash {
				slog.Warn("BLAKE3 mismatch", "path", f.Path, "expected", f.Blake3Hash, "actual", actual)
				report.Corrupt = append(report.Corrupt, f.Path)
			}
		}
	}

	report.Status = backup.StatusVerified.String()
	if !report.ok() {
		report.Status = backup.StatusMismatch.String()
	}
	return report, nil
}

// Run verifies <volume>/<dir name>/<name> and writes the report as JSON. It
// returns ErrMismatch when the check fails.
func Run(ctx context.Context, configPath, volume, name string, checksums bool, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dir := filepath.Join(util.BackupRoot(volume, cfg.Backup.DirName), name)
	report, err := Verify(ctx, afero.NewOsFs(), dir, checksums)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	if report.Status != backup.StatusVerified.String() {
		return ErrMismatch
	}
	slog.Info("Backup verified", "backup", dir)
	return nil
}
