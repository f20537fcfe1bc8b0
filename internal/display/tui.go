package display

import (
	"context"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/hughe/cf-backup/internal/controller"
	"github.com/rivo/tview"
)

// TUI shows the controller state in a full screen terminal view. Enter or
// space confirms; Esc, q or Ctrl-C cancels.
type TUI struct {
	app   *tview.Application
	view  *tview.TextView
	input Input

	text   atomic.Pointer[string]
	redraw chan struct{}
}

func NewTUI(input Input) *TUI {
	t := &TUI{
		app:    tview.NewApplication(),
		input:  input,
		redraw: make(chan struct{}, 1),
	}

	t.view = tview.NewTextView().
		SetDynamicColors(false).
		SetTextAlign(tview.AlignCenter)
	t.view.SetBorder(true).SetTitle(" cfbackup ")

	t.app.SetInputCapture(t.handleKey)
	t.app.SetRoot(t.view, true)
	return t
}

// SetScreen replaces the terminal, for tests.
func (t *TUI) SetScreen(s tcell.Screen) {
	t.app.SetScreen(s)
}

func (t *TUI) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Key() {
	case tcell.KeyEnter:
		t.input.Confirm()
		return nil
	case tcell.KeyEscape, tcell.KeyCtrlC:
		t.input.Cancel()
		return nil
	case tcell.KeyRune:
		switch ev.Rune() {
		case ' ':
			t.input.Confirm()
			return nil
		case 'q', 'Q':
			t.input.Cancel()
			return nil
		}
	}
	return ev
}

// Render never blocks. Only the latest text is drawn when renders arrive
// faster than the screen updates.
func (t *TUI) Render(s controller.Snapshot) {
	text := Format(s)
	t.text.Store(&text)
	select {
	case t.redraw <- struct{}{}:
	default:
	}
}

// Run blocks until Stop is called or ctx is done.
func (t *TUI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, t.app.Stop)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.redraw:
				text := t.text.Load()
				t.app.QueueUpdateDraw(func() {
					t.view.SetText(*text)
				})
			}
		}
	}()

	err := t.app.Run()
	cancel()
	<-done
	return err
}

func (t *TUI) Stop() {
	t.app.Stop()
}
