package controller

import (
	"slices"
	"time"

	"github.com/hughe/cf-backup/internal/backup"
	"github.com/hughe/cf-backup/internal/disks"
	"github.com/hughe/cf-backup/internal/progress"
)

type State int

const (
	StateSearching State = iota
	StateReady
	StateRunning
	StateDone
	StateError
	StateUnmounting
	StateUnmountFailed
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateUnmounting:
		return "unmounting"
	case StateUnmountFailed:
		return "unmount failed"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the controller's UI state handed to renderers.
type Snapshot struct {
	State State

	Source      string
	Target      string
	TargetRole  disks.Role
	Destination string

	Stage       progress.Stage
	Fraction    float64
	Copied      int64
	TotalFiles  int64
	SourceFiles int64
	SourceBytes int64
	DestFiles   int64
	DestBytes   int64
	CopyElapsed time.Duration
	Dropped     uint64

	ExitCode int
	Status   backup.Status

	UnmountRoles    []disks.Role
	UnmountAttempts int
	StillMounted    []string

	Blink bool
	Err   string
}

func (s Snapshot) clone() Snapshot {
	s.UnmountRoles = slices.Clone(s.UnmountRoles)
	s.StillMounted = slices.Clone(s.StillMounted)
	return s
}
