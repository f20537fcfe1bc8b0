package backup

import (
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of one engine run.
type Status int

const (
	StatusVerified Status = iota
	StatusWalkError
	StatusMismatch
	StatusSyncFailed
	StatusDestinationExists
	StatusCancelled
	StatusUnclassified
)

// Exit codes of the engine process.
const (
	ExitVerified          = 0
	ExitWalkError         = 1
	ExitMismatch          = 2
	ExitSyncFailed        = 3
	ExitDestinationExists = 4
	ExitCancelled         = 130
)

func (s Status) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusWalkError:
		return "walk error"
	case StatusMismatch:
		return "mismatch"
	case StatusSyncFailed:
		return "sync failed"
	case StatusDestinationExists:
		return "destination exists"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unclassified"
	}
}

func (s Status) ExitCode() int {
	switch s {
	case StatusVerified:
		return ExitVerified
	case StatusMismatch:
		return ExitMismatch
	case StatusSyncFailed:
		return ExitSyncFailed
	case StatusDestinationExists:
		return ExitDestinationExists
	case StatusCancelled:
		return ExitCancelled
	default:
		return ExitWalkError
	}
}

func StatusFromExitCode(code int) Status {
	switch code {
	case ExitVerified:
		return StatusVerified
	case ExitWalkError:
		return StatusWalkError
	case ExitMismatch:
		return StatusMismatch
	case ExitSyncFailed:
		return StatusSyncFailed
	case ExitDestinationExists:
		return StatusDestinationExists
	case ExitCancelled:
		return StatusCancelled
	default:
		return StatusUnclassified
	}
}

// Job is one run of the engine.
type Job struct {
	ID          uuid.UUID
	Source      string
	Destination string
	SourceFiles int64
	SourceBytes int64
	DestFiles   int64
	DestBytes   int64
	Start       time.Time
	End         time.Time
	Status      Status
}

// Result is the completion signal of a job.
type Result struct {
	Job    Job
	Status Status
	// ExitCode is what the worker reported; for in-process runs it is
	// Status.ExitCode().
	ExitCode int
	Err      error
}
