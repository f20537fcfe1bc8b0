package worker

import (
	"context"
	"io"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/config"
	"github.com/hughe/cf-backup/internal/progress"
)

// RunChild is the engine process body. Events are written to stdout as JSON
// lines by a pump goroutine so a slow reader never stalls the copy; the
// return value is the process exit code.
func RunChild(ctx context.Context, cfg *config.Config, spec Spec, stdout io.Writer) int {
	ch := progress.NewChannel(cfg.Backup.QueueCapacity)

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		progress.Pump(ch, progress.NewEncoder(stdout))
	}()

	res := Execute(ctx, backup.NewEngine(cfg.Backup), spec, ch, true)

	ch.Close()
	<-pumped

	return res.ExitCode
}
