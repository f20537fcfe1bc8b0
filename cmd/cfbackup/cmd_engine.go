package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/hughe/cf-backup/internal/worker"
	"github.com/urfave/cli/v3"
)

// runEngine is the child side of the process launcher. stdout carries only
// progress events; logs go to stderr where the parent relays them.
func runEngine(ctx context.Context, configPath, src, dst, jobID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
	}

	logger, logCloser, err := util.SetupLogging(config.LogConfig{Level: cfg.Log.Level}, os.Stderr)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	id := uuid.New()
	if jobID != "" {
		if id, err = uuid.Parse(jobID); err != nil {
			return cli.Exit(fmt.Sprintf("invalid job id %q: %v", jobID, err), 1)
		}
	}

	code := worker.RunChild(ctx, cfg, worker.Spec{JobID: id, Source: src, Destination: dst}, os.Stdout)
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
