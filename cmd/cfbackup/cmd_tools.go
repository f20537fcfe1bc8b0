package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/check"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/disks"
	"github.com/hughe/cf-backup/internal/list"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/hughe/cf-backup/internal/verify"
	"github.com/urfave/cli/v3"
)

// setupToolLogging logs to stderr only so stdout stays machine readable.
func setupToolLogging(configPath string) (func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, closer, err := util.SetupLogging(config.LogConfig{Level: cfg.Log.Level}, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return func() { closer.Close() }, nil
}

func runScan(ctx context.Context, configPath string) error {
	done, err := setupToolLogging(configPath)
	if err != nil {
		return err
	}
	defer done()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	res, err := disks.NewScanner(cfg.Scan).Scan(ctx)
	if err != nil && !errors.Is(err, disks.ErrAmbiguous) {
		return fmt.Errorf("failed to scan: %w", err)
	}
	if err != nil {
		slog.Warn("Ambiguous disks", "error", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(res); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func listBackups(ctx context.Context, configPath, volume string) error {
	done, err := setupToolLogging(configPath)
	if err != nil {
		return err
	}
	defer done()
	return list.Run(ctx, configPath, volume, os.Stdout)
}

func verifyBackup(ctx context.Context, configPath, volume, name string, checksums bool) error {
	done, err := setupToolLogging(configPath)
	if err != nil {
		return err
	}
	defer done()

	err = verify.Run(ctx, configPath, volume, name, checksums, os.Stdout)
	if errors.Is(err, verify.ErrMismatch) {
		return cli.Exit(err.Error(), backup.ExitMismatch)
	}
	return err
}

func runCheck(ctx context.Context, configPath string) error {
	return check.Run(ctx, configPath, os.Stdout)
}
