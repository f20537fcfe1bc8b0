package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/controller"
	"github.com/hughe/cf-backup/internal/disks"
	"github.com/hughe/cf-backup/internal/display"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/hughe/cf-backup/internal/worker"
	"golang.org/x/sync/errgroup"
)

type screen interface {
	controller.Renderer
	Run(ctx context.Context) error
	Stop()
}

func runController(ctx context.Context, configPath string, headless, inProcess bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The terminal UI owns the screen, so console logging is only used
	// headless.
	var console io.Writer
	if headless && cfg.Log.Console {
		console = os.Stderr
	}
	logger, logCloser, err := util.SetupLogging(cfg.Log, console)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	var launcher worker.Launcher
	if inProcess {
		launcher = &worker.InProcessLauncher{
			NewEngine: func() *backup.Engine { return backup.NewEngine(cfg.Backup) },
			Locking:   true,
		}
	} else {
		launcher = worker.NewProcessLauncher(configPath)
	}

	var ui screen
	c := controller.New(controller.Options{
		Config:    cfg,
		Scanner:   disks.NewScanner(cfg.Scan),
		Unmounter: disks.NewCommandUnmounter(cfg.Controller.UnmountCommand),
		Launcher:  launcher,
		Renderer:  controller.RenderFunc(func(s controller.Snapshot) { ui.Render(s) }),
	})
	if headless {
		ui = display.NewConsole(os.Stdin, os.Stdout, c)
	} else {
		ui = display.NewTUI(c)
	}

	slog.Info("cfbackup started", "headless", headless, "inProcess", inProcess, "log", cfg.Log.File)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer ui.Stop()
		return c.Run(gctx)
	})
	g.Go(func() error {
		defer c.Cancel()
		return ui.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("cfbackup stopped")
	return nil
}
