package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/disks"
	"github.com/hughe/cf-backup/internal/util"
)

type Scanner interface {
	Scan(ctx context.Context) (disks.Result, error)
	FreeSpace(ctx context.Context, path string) (uint64, error)
}

// Checker reports whether this host is ready to run backups.
type Checker struct {
	Config   *config.Config
	Scanner  Scanner
	LookPath func(file string) (string, error)
	Out      io.Writer
}

func Run(ctx context.Context, configPath string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(w, "config: OK")

	c := &Checker{
		Config:   cfg,
		Scanner:  disks.NewScanner(cfg.Scan),
		LookPath: exec.LookPath,
		Out:      w,
	}
	return c.Run(ctx)
}

// Run prints one line per check. Missing disks are reported but only an
// ambiguous scan or a missing unmount command fails.
func (c *Checker) Run(ctx context.Context) error {
	res, err := c.Scanner.Scan(ctx)
	if err != nil && !errors.Is(err, disks.ErrAmbiguous) {
		return fmt.Errorf("scan: %w", err)
	}

	for _, role := range []disks.Role{disks.RolePrimary, disks.RoleSecondary, disks.RoleSource} {
		path := res.Path(role)
		if path == "" {
			fmt.Fprintf(c.Out, "%s: not found\n", role)
			continue
		}
		if role == disks.RoleSource {
			fmt.Fprintf(c.Out, "%s %s: OK\n", role, path)
			continue
		}
		free, ferr := c.Scanner.FreeSpace(ctx, path)
		if ferr != nil {
			fmt.Fprintf(c.Out, "%s %s: OK (free space unknown: %v)\n", role, path, ferr)
			continue
		}
		fmt.Fprintf(c.Out, "%s %s: OK (%s free)\n", role, path, util.FormatBytes(int64(free)))
	}
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	name := c.Config.Controller.UnmountCommand[0]
	resolved, err := c.LookPath(name)
	if err != nil {
		return fmt.Errorf("unmount command %s: %w", name, err)
	}
	fmt.Fprintf(c.Out, "unmount command %s: OK\n", resolved)

	fmt.Fprintln(c.Out, "all checks passed")
	return nil
}
