package worker

import (
	"context"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/progress"
)

// InProcessLauncher runs the engine on a goroutine. Cancel cancels the run's
// context.
type InProcessLauncher struct {
	NewEngine func() *backup.Engine
	Locking   bool
}

func (l *InProcessLauncher) Launch(_ context.Context, spec Spec, ch *progress.Channel) (Handle, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	h := newHandle(cancel)
	e := l.NewEngine()

	go func() {
		h.finish(Execute(runCtx, e, spec, ch, l.Locking))
	}()

	return h, nil
}
