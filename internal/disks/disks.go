package disks

import (
	"errors"
	"fmt"
	"strings"
)

// Role is what a mounted volume is used for.
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
	RoleSource
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	case RoleSource:
		return "source"
	default:
		return "unknown"
	}
}

// Result holds at most one path per role. An empty path means not found.
type Result struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Source    string `json:"source"`
}

func (r Result) Path(role Role) string {
	switch role {
	case RolePrimary:
		return r.Primary
	case RoleSecondary:
		return r.Secondary
	case RoleSource:
		return r.Source
	default:
		return ""
	}
}

// Target returns the backup volume to write to, preferring the primary disk.
func (r Result) Target() (string, Role, bool) {
	if r.Primary != "" {
		return r.Primary, RolePrimary, true
	}
	if r.Secondary != "" {
		return r.Secondary, RoleSecondary, true
	}
	return "", 0, false
}

// Ready reports whether a backup can start.
func (r Result) Ready() bool {
	_, _, ok := r.Target()
	return ok && r.Source != ""
}

var ErrAmbiguous = errors.New("more than one volume matches role")

type AmbiguityError struct {
	Role  Role
	Paths []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%d volumes match role %s: %s", len(e.Paths), e.Role, strings.Join(e.Paths, ", "))
}

func (e *AmbiguityError) Is(target error) bool {
	return target == ErrAmbiguous
}
