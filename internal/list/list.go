package list

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/manifest"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/spf13/afero"
)

type Info struct {
	JobID          string  `json:"job_id"`
	Name           string  `json:"name"`
	Datetime       int64   `json:"datetime"`
	DatetimeStr    string  `json:"datetime_str"`
	Source         string  `json:"source"`
	Destination    string  `json:"destination"`
	Files          int64   `json:"files"`
	Bytes          int64   `json:"bytes"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Status         string  `json:"status"`
	Checksums      bool    `json:"checksums"`
	Present        bool    `json:"present"`
	ManifestPath   string  `json:"manifest_path"`
}

type Output struct {
	Volume     string `json:"volume"`
	BackupRoot string `json:"backup_root"`
	Backups    []Info `json:"backups"`
	Summary    struct {
		TotalBackups int   `json:"total_backups"`
		Verified     int   `json:"verified"`
		Failed       int   `json:"failed"`
		TotalBytes   int64 `json:"total_bytes"`
	} `json:"summary"`
}

func Run(ctx context.Context, configPath, volume string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	output, err := Collect(afero.NewOsFs(), volume, cfg.Backup.DirName)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// Collect reads every manifest under the backup root of volume, oldest first.
// Unreadable manifests are logged and skipped.
func Collect(fs afero.Fs, volume, dirName string) (*Output, error) {
	root := util.BackupRoot(volume, dirName)
	output := &Output{
		Volume:     volume,
		BackupRoot: root,
		Backups:    []Info{},
	}

	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		if os.IsNotExist(err) {
			return output, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		if _, err := util.ParseTimestampName(name); err != nil {
			continue
		}

		path := filepath.Join(root, entry.Name())
		m, err := manifest.Read(fs, path)
		if err != nil {
			slog.Warn("Skipping unreadable manifest", "path", path, "error", err)
			continue
		}

		present, _ := afero.DirExists(fs, filepath.Join(root, name))

		output.Backups = append(output.Backups, Info{
			JobID:          m.JobID,
			Name:           name,
			Datetime:       m.Datetime,
			DatetimeStr:    time.Unix(m.Datetime, 0).UTC().Format("2006-01-02 15:04:05"),
			Source:         m.Source,
			Destination:    m.Destination,
			Files:          m.DestFiles,
			Bytes:          m.DestBytes,
			ElapsedSeconds: m.ElapsedSeconds,
			Status:         m.Status,
			Checksums:      len(m.Files) > 0,
			Present:        present,
			ManifestPath:   path,
		})
	}

	sort.SliceStable(output.Backups, func(i, j int) bool {
		return output.Backups[i].Datetime < output.Backups[j].Datetime
	})

	output.Summary.TotalBackups = len(output.Backups)
	for _, b := range output.Backups {
		if b.Status == "verified" {
			output.Summary.Verified++
		} else {
			output.Summary.Failed++
		}
		output.Summary.TotalBytes += b.Bytes
	}

	return output, nil
}
