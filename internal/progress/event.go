package progress

import "time"

type Phase uint8

const (
	PhaseInitial Phase = iota
	PhaseVerify
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseVerify:
		return "verify"
	default:
		return "unknown"
	}
}

type Stage uint8

const (
	StageCounting Stage = iota
	StageCopying
	StageVerifying
	StageSyncing
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageCounting:
		return "counting"
	case StageCopying:
		return "copying"
	case StageVerifying:
		return "verifying"
	case StageSyncing:
		return "syncing"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is one progress record. Counters are cumulative, so a newer event
// always supersedes an older one of the same kind.
type Event interface {
	isEvent()
}

type CountUpdate struct {
	Phase Phase
	Files int64
	Bytes int64
}

type CopyProgress struct {
	TotalFiles int64
	Copied     int64
}

// Fraction is the share of files copied so far, clamped to [0, 1].
func (c CopyProgress) Fraction() float64 {
	if c.TotalFiles <= 0 {
		return 0
	}
	f := float64(c.Copied) / float64(c.TotalFiles)
	if f > 1 {
		return 1
	}
	return f
}

type Summary struct {
	TotalBytes int64
	Elapsed    time.Duration
}

type StageChange struct {
	Stage Stage
}

func (CountUpdate) isEvent()  {}
func (CopyProgress) isEvent() {}
func (Summary) isEvent()      {}
func (StageChange) isEvent()  {}
