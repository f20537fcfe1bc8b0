package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hughe/cf-backup/internal/controller"
)

// Console is the headless display. Each changed screen is printed as a block
// of lines; an empty input line confirms and "q" cancels.
type Console struct {
	in    io.Reader
	input Input

	mu   sync.Mutex
	out  io.Writer
	last string

	done chan struct{}
	once sync.Once
}

func NewConsole(in io.Reader, out io.Writer, input Input) *Console {
	return &Console{
		in:    in,
		out:   out,
		input: input,
		done:  make(chan struct{}),
	}
}

func (c *Console) Render(s controller.Snapshot) {
	// Blink only animates the screen; it would reprint every tick.
	s.Blink = false
	text := Format(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if text == c.last {
		return
	}
	c.last = text
	if _, err := fmt.Fprintf(c.out, "%s\n\n", text); err != nil {
		slog.Debug("Failed to write display", "error", err)
	}
}

// Run reads input lines until "q", end of input, Stop or ctx is done. End of
// input stops reading without cancelling so a detached stdin does not end the
// session.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("Failed to read console input", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				// Keep rendering until stopped.
				select {
				case <-ctx.Done():
				case <-c.done:
				}
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				c.input.Confirm()
			case "q", "quit":
				c.input.Cancel()
			default:
				slog.Debug("Ignoring console input", "line", line)
			}
		}
	}
}

func (c *Console) Stop() {
	c.once.Do(func() { close(c.done) })
}
