package worker

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/lock"
	"github.com/hughe/cf-backup/internal/progress"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

const helperEnv = "CFBACKUP_WORKER_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(helperMain(mode))
	}
	goleak.VerifyTestMain(m)
}

// helperMain stands in for the engine subcommand when the test binary is
// re-executed by ProcessLauncher.
func helperMain(mode string) int {
	fs := flag.NewFlagSet("engine", flag.ContinueOnError)
	src := fs.String("src", "", "")
	dst := fs.String("dst", "", "")
	jobID := fs.String("job-id", "", "")
	_ = fs.String("config", "", "")
	if len(os.Args) < 2 || fs.Parse(os.Args[2:]) != nil {
		return 99
	}

	enc := progress.NewEncoder(os.Stdout)

	switch {
	case strings.HasPrefix(mode, "exit:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(mode, "exit:"))
		_ = enc.Encode(progress.StageChange{Stage: progress.StageCounting})
		fmt.Fprintln(os.Stdout, "not an event")
		_ = enc.Encode(progress.CopyProgress{TotalFiles: 10, Copied: 10})
		fmt.Fprintln(os.Stderr, "helper log line")
		return code
	case mode == "wait":
		ctx, stop := signal.NotifyContext(context.Background(), unix.SIGTERM)
		defer stop()
		_ = enc.Encode(progress.StageChange{Stage: progress.StageCopying})
		<-ctx.Done()
		return backup.ExitCancelled
	case mode == "pgroup":
		if unix.Getpgrp() != os.Getpid() {
			return 5
		}
		return 0
	case mode == "engine":
		id, err := uuid.Parse(*jobID)
		if err != nil {
			return 98
		}
		cfg := config.Default()
		return RunChild(context.Background(), cfg, Spec{JobID: id, Source: *src, Destination: *dst}, os.Stdout)
	default:
		return 97
	}
}

func helperLauncher(mode string) *ProcessLauncher {
	return &ProcessLauncher{
		Executable: os.Args[0],
		Args:       []string{"engine"},
		Env:        []string{helperEnv + "=" + mode},
		WaitDelay:  5 * time.Second,
	}
}

func waitResult(t *testing.T, h Handle) backup.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	return res
}

func makeSource(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "CARD")
	for i, name := range []string{"DCIM/100CANON/IMG_0001.JPG", "DCIM/100CANON/IMG_0002.JPG", "MISC/notes.txt"} {
		p := filepath.Join(src, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{byte('a' + i)}, 100), 0o644))
	}
	return src
}

func TestProcessLauncherExitCodes(t *testing.T) {
	tests := []struct {
		code int
		want backup.Status
	}{
		{0, backup.StatusVerified},
		{1, backup.StatusWalkError},
		{2, backup.StatusMismatch},
		{3, backup.StatusSyncFailed},
		{4, backup.StatusDestinationExists},
		{130, backup.StatusCancelled},
		{7, backup.StatusUnclassified},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			ch := progress.NewChannel(10)
			spec := Spec{JobID: uuid.New(), Source: "/src", Destination: "/dst"}

			h, err := helperLauncher(fmt.Sprintf("exit:%d", tt.code)).Launch(context.Background(), spec, ch)
			require.NoError(t, err)

			res := waitResult(t, h)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.code, res.ExitCode)
			assert.Equal(t, spec.JobID, res.Job.ID)
			assert.Equal(t, tt.code != 0, res.Err != nil)

			polled, ok := h.Poll()
			require.True(t, ok)
			assert.Equal(t, res, polled)

			// Events were forwarded before completion was signalled; the
			// malformed line in between was skipped.
			assert.Equal(t, []progress.Event{
				progress.StageChange{Stage: progress.StageCounting},
				progress.CopyProgress{TotalFiles: 10, Copied: 10},
			}, ch.Drain())
		})
	}
}

func TestProcessLauncherEndToEnd(t *testing.T) {
	src := makeSource(t)
	root := filepath.Join(t.TempDir(), "DISK", "SDBackup")
	dst := filepath.Join(root, "2026-01-01-00-00-00")
	ch := progress.NewChannel(1000)

	h, err := helperLauncher("engine").Launch(context.Background(), Spec{JobID: uuid.New(), Source: src, Destination: dst}, ch)
	require.NoError(t, err)

	res := waitResult(t, h)
	require.NoError(t, res.Err)
	assert.Equal(t, backup.StatusVerified, res.Status)
	assert.Equal(t, 0, res.ExitCode)

	data, err := os.ReadFile(filepath.Join(dst, "MISC", "notes.txt"))
	require.NoError(t, err)
	assert.Len(t, data, 100)
	assert.FileExists(t, util.ManifestPath(dst))
	assert.NoFileExists(t, util.LockPath(root))

	var last progress.CountUpdate
	for _, ev := range ch.Drain() {
		if cu, ok := ev.(progress.CountUpdate); ok && cu.Phase == progress.PhaseVerify {
			last = cu
		}
	}
	assert.Equal(t, progress.CountUpdate{Phase: progress.PhaseVerify, Files: 3, Bytes: 300}, last)
}

func TestProcessLauncherCancel(t *testing.T) {
	ch := progress.NewChannel(10)
	h, err := helperLauncher("wait").Launch(context.Background(), Spec{JobID: uuid.New(), Source: "/s", Destination: "/d"}, ch)
	require.NoError(t, err)

	// The helper announces itself once its signal handler is installed.
	require.Eventually(t, func() bool {
		return len(ch.Drain()) > 0
	}, 20*time.Second, 10*time.Millisecond)

	_, done := h.Poll()
	assert.False(t, done)

	h.Cancel()
	res := waitResult(t, h)
	assert.Equal(t, backup.StatusCancelled, res.Status)
	assert.Equal(t, backup.ExitCancelled, res.ExitCode)
}

func TestProcessLauncherOwnProcessGroup(t *testing.T) {
	h, err := helperLauncher("pgroup").Launch(context.Background(), Spec{JobID: uuid.New(), Source: "/s", Destination: "/d"}, progress.NewChannel(10))
	require.NoError(t, err)

	res := waitResult(t, h)
	assert.Equal(t, 0, res.ExitCode, "engine shares the controller's process group")
}

func TestProcessLauncherMissingExecutable(t *testing.T) {
	l := &ProcessLauncher{Executable: filepath.Join(t.TempDir(), "missing")}
	_, err := l.Launch(context.Background(), Spec{}, progress.NewChannel(1))
	assert.ErrorContains(t, err, "failed to start engine")
}

// gateFs blocks the first Open of path until released.
type gateFs struct {
	afero.Fs
	path    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateFs) Open(name string) (afero.File, error) {
	if name == g.path {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.Fs.Open(name)
}

func memEngine(fs afero.Fs) func() *backup.Engine {
	return func() *backup.Engine {
		e := backup.NewEngine(config.Default().Backup)
		e.Fs = fs
		e.Syncer = noopSyncer{}
		e.Clock = clockwork.NewFakeClock()
		return e
	}
}

type noopSyncer struct{}

func (noopSyncer) Sync(string) error { return nil }

func memSource(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/card/DCIM/100CANON", 0o755))
	for i := range 3 {
		require.NoError(t, afero.WriteFile(fs, fmt.Sprintf("/card/DCIM/100CANON/IMG_%04d.JPG", i), bytes.Repeat([]byte("x"), 100), 0o644))
	}
	return fs
}

func TestInProcessLauncher(t *testing.T) {
	fs := memSource(t)
	ch := progress.NewChannel(100)
	spec := Spec{JobID: uuid.New(), Source: "/card", Destination: "/disk/SDBackup/run"}

	h, err := (&InProcessLauncher{NewEngine: memEngine(fs)}).Launch(context.Background(), spec, ch)
	require.NoError(t, err)

	res := waitResult(t, h)
	require.NoError(t, res.Err)
	assert.Equal(t, backup.StatusVerified, res.Status)
	assert.Equal(t, spec.JobID, res.Job.ID)
	assert.Equal(t, int64(300), res.Job.DestBytes)
	assert.NotEmpty(t, ch.Drain())
}

func TestInProcessLauncherCancel(t *testing.T) {
	gate := &gateFs{
		Fs:      memSource(t),
		path:    "/card",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ch := progress.NewChannel(100)

	h, err := (&InProcessLauncher{NewEngine: memEngine(gate)}).Launch(context.Background(), Spec{Source: "/card", Destination: "/disk/run"}, ch)
	require.NoError(t, err)

	<-gate.entered
	_, done := h.Poll()
	assert.False(t, done)

	h.Cancel()
	close(gate.release)

	res := waitResult(t, h)
	assert.Equal(t, backup.StatusCancelled, res.Status)
	assert.Equal(t, backup.ExitCancelled, res.ExitCode)
}

func TestExecuteRespectsLock(t *testing.T) {
	root := filepath.Join(t.TempDir(), "SDBackup")
	release, err := lock.Acquire(util.LockPath(root), "other run")
	require.NoError(t, err)
	defer release()

	res := Execute(context.Background(), backup.NewEngine(config.Default().Backup),
		Spec{Source: makeSource(t), Destination: filepath.Join(root, "run")}, progress.NewChannel(10), true)

	assert.Equal(t, backup.StatusWalkError, res.Status)
	assert.ErrorIs(t, res.Err, lock.ErrLocked)
	assert.NoDirExists(t, filepath.Join(root, "run"))
}

func TestRunChild(t *testing.T) {
	src := makeSource(t)
	dst := filepath.Join(t.TempDir(), "SDBackup", "run")

	var out bytes.Buffer
	code := RunChild(context.Background(), config.Default(), Spec{JobID: uuid.New(), Source: src, Destination: dst}, &out)
	assert.Equal(t, 0, code)

	dec := progress.NewDecoder(&out)
	var last progress.Event
	for {
		ev, err := dec.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		last = ev
	}
	assert.Equal(t, progress.StageChange{Stage: progress.StageFinished}, last)
}
