// Package command wraps exec.Command so callers can be tested without running
// system commands.
package command

import (
	"context"
	"os/exec"
)

type Executor interface {
	// Output runs a command and returns its combined output.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealExecutor runs commands with exec.CommandContext.
type RealExecutor struct{}

func (*RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
