package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/progress"
	"golang.org/x/sys/unix"
)

const defaultWaitDelay = 10 * time.Second

// ProcessLauncher runs each job as a child process executing the engine
// subcommand. Progress arrives as JSON lines on the child's stdout and its
// stderr is relayed to the log.
type ProcessLauncher struct {
	// Executable defaults to the running binary.
	Executable string
	// Args precede the per-job flags.
	Args       []string
	ConfigPath string
	// Env is appended to the inherited environment.
	Env []string
	// WaitDelay bounds how long a cancelled child may take before it is
	// killed.
	WaitDelay time.Duration
}

func NewProcessLauncher(configPath string) *ProcessLauncher {
	return &ProcessLauncher{
		Args:       []string{"engine"},
		ConfigPath: configPath,
		WaitDelay:  defaultWaitDelay,
	}
}

func (l *ProcessLauncher) Launch(_ context.Context, spec Spec, ch *progress.Channel) (Handle, error) {
	exe := l.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
	}

	args := append([]string{}, l.Args...)
	args = append(args, "--src", spec.Source, "--dst", spec.Destination, "--job-id", spec.JobID.String())
	if l.ConfigPath != "" {
		args = append(args, "--config", l.ConfigPath)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, exe, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	// A terminal Ctrl-C goes to the foreground process group. The child gets
	// its own so it only stops when the controller cancels it.
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open engine stderr: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	slog.Info("Engine started", "pid", cmd.Process.Pid, "src", spec.Source, "dst", spec.Destination)

	h := newHandle(cancel)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := progress.Forward(stdout, ch); err != nil {
			slog.Warn("Engine progress stream ended", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		relayLog(stderr)
	}()

	go func() {
		// Pipes must be drained before Wait closes them.
		wg.Wait()
		waitErr := cmd.Wait()
		h.finish(resultFromWait(spec, start, time.Now(), waitErr))
	}()

	return h, nil
}

func resultFromWait(spec Spec, start, end time.Time, waitErr error) backup.Result {
	code := 0
	var err error
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
		err = fmt.Errorf("engine exited: %w", waitErr)
	}

	status := backup.StatusFromExitCode(code)
	return backup.Result{
		Job: backup.Job{
			ID:          spec.JobID,
			Source:      spec.Source,
			Destination: spec.Destination,
			Start:       start,
			End:         end,
			Status:      status,
		},
		Status:   status,
		ExitCode: code,
		Err:      err,
	}
}

func relayLog(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug(scanner.Text(), "source", "engine")
	}
}
