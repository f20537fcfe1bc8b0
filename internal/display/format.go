// Package display renders controller snapshots as short status text and
// turns key presses into controller input.
package display

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hughe/cf-backup/internal/controller"
	"github.com/hughe/cf-backup/internal/util"
)

const barWidth = 20

// Input is the part of the controller a display drives.
type Input interface {
	Confirm()
	Cancel()
}

// Format returns the text shown for s. The output is a few short lines sized
// for a small screen.
func Format(s controller.Snapshot) string {
	var b strings.Builder

	switch s.State {
	case controller.StateSearching:
		b.WriteString("Searching for disks")
		if s.Blink {
			b.WriteString(" .")
		}
		b.WriteString("\nInsert a card and a backup disk")
	case controller.StateReady:
		fmt.Fprintf(&b, "Card: %s\n", s.Source)
		fmt.Fprintf(&b, "Disk: %s (%s)\n", s.Target, s.TargetRole)
		b.WriteString("Press confirm to back up")
	case controller.StateRunning:
		fmt.Fprintf(&b, "Backing up: %s\n", s.Stage)
		fmt.Fprintf(&b, "%s %3d%%\n", Bar(s.Fraction, barWidth), percent(s.Fraction))
		fmt.Fprintf(&b, "%d/%d files, %s", s.Copied, s.TotalFiles, util.FormatBytes(s.SourceBytes))
	case controller.StateDone:
		b.WriteString("Backup verified\n")
		fmt.Fprintf(&b, "%d files, %s", s.DestFiles, util.FormatBytes(s.DestBytes))
		if s.CopyElapsed > 0 {
			fmt.Fprintf(&b, " in %s", s.CopyElapsed.Round(100*time.Millisecond))
		}
		b.WriteString("\nPress confirm to unmount")
	case controller.StateError:
		fmt.Fprintf(&b, "Backup failed: %s (code %d)", s.Status, s.ExitCode)
		if s.Destination == "" && s.Err != "" {
			fmt.Fprintf(&b, "\n%s", firstLine(s.Err))
		}
	case controller.StateUnmounting:
		fmt.Fprintf(&b, "Unmounting, attempt %d", s.UnmountAttempts+1)
		if s.Blink {
			b.WriteString(" .")
		}
	case controller.StateUnmountFailed:
		b.WriteString("Unmount failed, still mounted:")
		for _, p := range s.StillMounted {
			fmt.Fprintf(&b, "\n%s", p)
		}
	default:
		b.WriteString(s.State.String())
	}

	return b.String()
}

// Bar draws a fixed width progress bar for f in [0, 1].
func Bar(f float64, width int) string {
	filled := int(math.Round(clamp(f) * float64(width)))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func percent(f float64) int {
	return int(math.Floor(clamp(f) * 100))
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
