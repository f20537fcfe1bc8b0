package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ScanConfig struct {
	MediaRoots     []string `yaml:"media_roots"`
	MountPrefixes  []string `yaml:"mount_prefixes"`
	LabelFile      string   `yaml:"label_file"`
	PrimaryLabel   string   `yaml:"primary_label"`
	SecondaryLabel string   `yaml:"secondary_label"`
	SourceMarker   string   `yaml:"source_marker"`
}

type BackupConfig struct {
	DirName       string `yaml:"dir_name"`
	ProgressEvery int    `yaml:"progress_every"`
	QueueCapacity int    `yaml:"queue_capacity"`
	Checksums     bool   `yaml:"checksums"`
}

type ControllerConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	UnmountRetries  int           `yaml:"unmount_retries"`
	UnmountCommand  []string      `yaml:"unmount_command"`
	CancelJobOnExit bool          `yaml:"cancel_job_on_exit"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type Config struct {
	Scan       ScanConfig       `yaml:"scan"`
	Backup     BackupConfig     `yaml:"backup"`
	Controller ControllerConfig `yaml:"controller"`
	Log        LogConfig        `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			MediaRoots:     []string{"/media/pi"},
			MountPrefixes:  []string{"/tmp/sd"},
			LabelFile:      "CF_BACKUP.LAB",
			PrimaryLabel:   "BACKUP_A",
			SecondaryLabel: "BACKUP_B",
			SourceMarker:   "DCIM",
		},
		Backup: BackupConfig{
			DirName:       "SDBackup",
			ProgressEvery: 20,
			QueueCapacity: 100,
			Checksums:     true,
		},
		Controller: ControllerConfig{
			TickInterval:    time.Second,
			UnmountRetries:  5,
			UnmountCommand:  []string{"sudo", "umount"},
			CancelJobOnExit: true,
		},
		Log: LogConfig{
			File:       filepath.Join(os.TempDir(), "cfbackup", "cfbackup.log"),
			Level:      "info",
			Console:    true,
			MaxSizeMB:  1,
			MaxBackups: 2,
		},
	}
}

// Load reads filename over the defaults. An empty filename yields the
// defaults alone.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Scan.MediaRoots) == 0 && len(c.Scan.MountPrefixes) == 0 {
		return fmt.Errorf("scan needs at least one media_roots or mount_prefixes entry")
	}
	if c.Scan.LabelFile == "" {
		return fmt.Errorf("scan.label_file is required")
	}
	if strings.ContainsRune(c.Scan.LabelFile, filepath.Separator) {
		return fmt.Errorf("scan.label_file must be a plain file name")
	}
	if c.Scan.PrimaryLabel == "" || c.Scan.SecondaryLabel == "" {
		return fmt.Errorf("scan.primary_label and scan.secondary_label are required")
	}
	if c.Scan.PrimaryLabel == c.Scan.SecondaryLabel {
		return fmt.Errorf("scan.primary_label and scan.secondary_label must differ")
	}
	if c.Scan.SourceMarker == "" {
		return fmt.Errorf("scan.source_marker is required")
	}
	if c.Backup.DirName == "" {
		return fmt.Errorf("backup.dir_name is required")
	}
	if strings.ContainsRune(c.Backup.DirName, filepath.Separator) {
		return fmt.Errorf("backup.dir_name must be a plain directory name")
	}
	if c.Backup.ProgressEvery <= 0 {
		return fmt.Errorf("backup.progress_every must be positive")
	}
	if c.Backup.QueueCapacity <= 0 {
		return fmt.Errorf("backup.queue_capacity must be positive")
	}
	if c.Controller.TickInterval <= 0 {
		return fmt.Errorf("controller.tick_interval must be positive")
	}
	if c.Controller.UnmountRetries < 0 {
		return fmt.Errorf("controller.unmount_retries must not be negative")
	}
	if len(c.Controller.UnmountCommand) == 0 {
		return fmt.Errorf("controller.unmount_command is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be positive")
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must not be negative")
	}
	return nil
}

// UnmountAttempts is the number of unmount rounds before giving up.
func (c *Config) UnmountAttempts() int {
	return 1 + c.Controller.UnmountRetries
}
