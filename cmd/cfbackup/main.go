package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "path to configuration yaml file (built-in defaults when empty)",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "cfbackup",
		Usage:   "Back up camera cards to USB disks",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Wait for a card and a backup disk, then back up on confirm",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "headless",
						Usage: "Use line based console input and output instead of the terminal UI",
					},
					&cli.BoolFlag{
						Name:  "in-process",
						Usage: "Run the backup engine in this process instead of a child process",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runController(ctx, cmd.String("config"), cmd.Bool("headless"), cmd.Bool("in-process"))
				},
			},
			{
				Name:   "engine",
				Usage:  "Back up one directory; progress is written to stdout as JSON lines",
				Hidden: true,
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "src",
						Usage:    "Source directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "dst",
						Usage:    "Destination directory; must not exist",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "job-id",
						Usage: "Job ID (UUID) assigned by the controller",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runEngine(ctx, cmd.String("config"), cmd.String("src"), cmd.String("dst"), cmd.String("job-id"))
				},
			},
			{
				Name:  "scan",
				Usage: "Print the disks found for each role as JSON",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runScan(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "list",
				Usage: "List backups on a disk",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "volume",
						Usage:    "Mount point of the backup disk",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return listBackups(ctx, cmd.String("config"), cmd.String("volume"))
				},
			},
			{
				Name:  "verify",
				Usage: "Check an existing backup against its manifest",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "volume",
						Usage:    "Mount point of the backup disk",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "backup",
						Usage:    "Backup directory name (e.g. 2026-01-01-10-00-00)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "checksums",
						Usage: "Also compare BLAKE3 hashes recorded in the manifest",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return verifyBackup(ctx, cmd.String("config"), cmd.String("volume"), cmd.String("backup"), cmd.Bool("checksums"))
				},
			},
			{
				Name:  "check",
				Usage: "Validate config, disks and the unmount command",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runCheck(ctx, cmd.String("config"))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninterrupted")
			os.Exit(backup.ExitCancelled)
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
