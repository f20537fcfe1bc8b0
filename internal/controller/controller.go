package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/disks"
	"github.com/hughe/cf-backup/internal/progress"
	"github.com/hughe/cf-backup/internal/util"
	"github.com/hughe/cf-backup/internal/worker"
	"github.com/jonboulle/clockwork"
)

type Scanner interface {
	Scan(ctx context.Context) (disks.Result, error)
}

type Renderer interface {
	Render(s Snapshot)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(s Snapshot)

func (f RenderFunc) Render(s Snapshot) { f(s) }

type input int

const (
	inputConfirm input = iota
	inputCancel
)

const inputQueueSize = 16

// shutdownGrace bounds how long Run waits for a cancelled job to exit.
const shutdownGrace = 15 * time.Second

type Options struct {
	Config    *config.Config
	Scanner   Scanner
	Unmounter disks.Unmounter
	Launcher  worker.Launcher
	Renderer  Renderer
	Clock     clockwork.Clock
}

// Controller owns the backup lifecycle. All state is touched only from the
// goroutine running Run; Confirm and Cancel may be called from anywhere.
type Controller struct {
	cfg       *config.Config
	scanner   Scanner
	unmounter disks.Unmounter
	launcher  worker.Launcher
	renderer  Renderer
	clock     clockwork.Clock

	inputs chan input

	ui          Snapshot
	job         worker.Handle
	ch          *progress.Channel
	lastScanErr string
}

func New(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Controller{
		cfg:       cfg,
		scanner:   opts.Scanner,
		unmounter: opts.Unmounter,
		launcher:  opts.Launcher,
		renderer:  opts.Renderer,
		clock:     clock,
		inputs:    make(chan input, inputQueueSize),
	}
}

// Confirm delivers the confirm button. It never blocks; presses beyond the
// queue size are dropped.
func (c *Controller) Confirm() {
	c.enqueue(inputConfirm)
}

// Cancel stops Run.
func (c *Controller) Cancel() {
	c.enqueue(inputCancel)
}

func (c *Controller) enqueue(in input) {
	select {
	case c.inputs <- in:
	default:
		slog.Debug("Dropping input, queue full", "input", in)
	}
}

// Run drives the state machine until Cancel is called or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.Controller.TickInterval)
	defer ticker.Stop()

	slog.Info("Controller started", "tick", c.cfg.Controller.TickInterval)
	c.render()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.Chan():
			c.tick(ctx)
			c.render()
		case in := <-c.inputs:
			if in == inputCancel {
				c.shutdown()
				c.render()
				return nil
			}
			c.confirm(ctx)
			c.render()
		}
	}
}

func (c *Controller) snapshot() Snapshot {
	return c.ui.clone()
}

func (c *Controller) render() {
	if c.renderer != nil {
		c.renderer.Render(c.snapshot())
	}
}

func (c *Controller) setState(s State) {
	if c.ui.State != s {
		slog.Info("State changed", "from", c.ui.State.String(), "to", s.String())
	}
	c.ui.State = s
}

func (c *Controller) tick(ctx context.Context) {
	c.ui.Blink = !c.ui.Blink

	switch c.ui.State {
	case StateSearching, StateReady:
		c.tickScan(ctx)
	case StateRunning:
		c.tickRunning()
	case StateUnmounting:
		c.tickUnmounting(ctx)
	}
}

func (c *Controller) confirm(ctx context.Context) {
	switch c.ui.State {
	case StateReady:
		c.startJob(ctx)
	case StateDone:
		c.ui.UnmountAttempts = 0
		c.ui.StillMounted = nil
		c.setState(StateUnmounting)
	default:
		slog.Debug("Ignoring confirm", "state", c.ui.State.String())
	}
}

func (c *Controller) tickScan(ctx context.Context) {
	res, err := c.scanner.Scan(ctx)
	c.noteScanError(err)

	target, role, _ := res.Target()
	if !res.Ready() {
		if c.ui.State == StateReady {
			slog.Info("Disk removed", "source", res.Source, "target", target)
		}
		c.ui.Source, c.ui.Target = "", ""
		c.ui.UnmountRoles = nil
		c.setState(StateSearching)
		return
	}

	c.ui.Source = res.Source
	c.ui.Target = target
	c.ui.TargetRole = role
	c.ui.UnmountRoles = c.ui.UnmountRoles[:0]
	for _, r := range []disks.Role{disks.RolePrimary, disks.RoleSecondary} {
		if res.Path(r) != "" {
			c.ui.UnmountRoles = append(c.ui.UnmountRoles, r)
		}
	}
	if c.ui.State == StateSearching {
		slog.Info("Disks found", "source", res.Source, "target", target, "role", role.String())
	}
	c.setState(StateReady)
}

func (c *Controller) noteScanError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == c.lastScanErr {
		return
	}
	c.lastScanErr = msg
	if err == nil {
		return
	}
	if errors.Is(err, disks.ErrAmbiguous) {
		slog.Warn("Ambiguous disks, ignoring role", "error", err)
		return
	}
	slog.Error("Scan failed", "error", err)
}

func (c *Controller) startJob(ctx context.Context) {
	dst := util.TargetDir(c.ui.Target, c.cfg.Backup.DirName, c.clock.Now())
	spec := worker.Spec{JobID: uuid.New(), Source: c.ui.Source, Destination: dst}

	ch := progress.NewChannel(c.cfg.Backup.QueueCapacity)
	h, err := c.launcher.Launch(ctx, spec, ch)
	if err != nil {
		ch.Close()
		slog.Error("Failed to start backup", "error", err)
		c.ui.Err = err.Error()
		c.ui.ExitCode = -1
		c.ui.Status = backup.StatusUnclassified
		c.ui.Destination = ""
		c.setState(StateError)
		return
	}

	c.job, c.ch = h, ch
	c.ui.Destination = dst
	c.ui.Stage = progress.StageCounting
	c.ui.Fraction = 0
	c.ui.Copied, c.ui.TotalFiles = 0, 0
	c.ui.SourceFiles, c.ui.SourceBytes = 0, 0
	c.ui.DestFiles, c.ui.DestBytes = 0, 0
	c.ui.CopyElapsed = 0
	c.ui.Err = ""
	slog.Info("Backup launched", "job", spec.JobID.String(), "src", spec.Source, "dst", dst)
	c.setState(StateRunning)
}

func (c *Controller) tickRunning() {
	c.drain()

	res, done := c.job.Poll()
	if !done {
		return
	}
	c.drain()
	c.ui.Dropped = c.ch.Dropped()
	if c.ui.Dropped > 0 {
		slog.Warn("Progress events dropped", "dropped", c.ui.Dropped, "capacity", c.ch.Cap())
	}
	c.ch.Close()
	c.job, c.ch = nil, nil

	c.ui.ExitCode = res.ExitCode
	c.ui.Status = res.Status
	if res.ExitCode == 0 {
		c.ui.Fraction = 1
		c.setState(StateDone)
		return
	}
	if res.Err != nil {
		c.ui.Err = res.Err.Error()
	}
	slog.Error("Backup failed", "code", res.ExitCode, "status", res.Status.String(), "error", res.Err)
	c.setState(StateError)
}

func (c *Controller) drain() {
	for _, ev := range c.ch.Drain() {
		switch v := ev.(type) {
		case progress.CountUpdate:
			if v.Phase == progress.PhaseInitial {
				c.ui.SourceFiles, c.ui.SourceBytes = v.Files, v.Bytes
			} else {
				c.ui.DestFiles, c.ui.DestBytes = v.Files, v.Bytes
			}
		case progress.CopyProgress:
			c.ui.Copied, c.ui.TotalFiles = v.Copied, v.TotalFiles
			c.ui.Fraction = v.Fraction()
		case progress.Summary:
			c.ui.CopyElapsed = v.Elapsed
		case progress.StageChange:
			c.ui.Stage = v.Stage
		}
	}
}

func (c *Controller) stillMounted(ctx context.Context) []string {
	res, err := c.scanner.Scan(ctx)
	c.noteScanError(err)

	var paths []string
	for _, r := range c.ui.UnmountRoles {
		if p := res.Path(r); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (c *Controller) tickUnmounting(ctx context.Context) {
	mounted := c.stillMounted(ctx)
	if len(mounted) == 0 {
		slog.Info("Disks unmounted")
		c.reset()
		return
	}

	for _, p := range mounted {
		if err := c.unmounter.Unmount(ctx, p); err != nil {
			slog.Warn("Unmount attempt failed", "path", p, "attempt", c.ui.UnmountAttempts+1, "error", err)
		}
	}
	c.ui.UnmountAttempts++

	mounted = c.stillMounted(ctx)
	if len(mounted) == 0 {
		slog.Info("Disks unmounted", "attempts", c.ui.UnmountAttempts)
		c.reset()
		return
	}
	c.ui.StillMounted = mounted
	if c.ui.UnmountAttempts < c.cfg.UnmountAttempts() {
		return
	}
	slog.Error("Giving up on unmount", "attempts", c.ui.UnmountAttempts, "paths", mounted)
	c.setState(StateUnmountFailed)
}

// reset returns to Searching with fresh UI state.
func (c *Controller) reset() {
	blink := c.ui.Blink
	c.ui = Snapshot{Blink: blink}
	c.setState(StateSearching)
}

func (c *Controller) shutdown() {
	if c.job == nil {
		return
	}
	if !c.cfg.Controller.CancelJobOnExit {
		slog.Warn("Controller stopping with a backup still running")
		return
	}
	slog.Info("Cancelling running backup")
	c.job.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	res, err := c.job.Wait(ctx)
	if err != nil {
		slog.Warn("Backup did not stop in time", "error", err)
		return
	}
	slog.Info("Backup stopped", "status", res.Status.String(), "code", res.ExitCode)
}
