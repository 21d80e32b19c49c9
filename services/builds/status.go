package builds

import "fmt"

// Status is a build's lifecycle state. The integer values are part of the
// wire contract (kill orders carry them) and must not be renumbered.
type Status int

const (
	StatusScheduled Status = 0
	StatusBuilding  Status = 1
	StatusRunning   Status = 2
	StatusSuccess   Status = 3
	StatusFailed    Status = 4
	StatusCanceled  Status = 5
	StatusKilled    Status = 6
	StatusDeleted   Status = 7
	StatusObsolete  Status = 8
	StatusStopped   Status = 9
	StatusTimeout   Status = 10
	StatusDuplicate Status = 11
)

var statusNames = map[Status]string{
	StatusScheduled: "scheduled",
	StatusBuilding:  "building",
	StatusRunning:   "running",
	StatusSuccess:   "success",
	StatusFailed:    "failed",
	StatusCanceled:  "canceled",
	StatusKilled:    "killed",
	StatusDeleted:   "deleted",
	StatusObsolete:  "obsolete",
	StatusStopped:   "stopped",
	StatusTimeout:   "timeout",
	StatusDuplicate: "duplicate",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether the build has reached a final state. Status is
// monotonic toward the terminal set: the control plane never transitions a
// terminal build again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusScheduled, StatusBuilding, StatusRunning:
		return false
	default:
		return true
	}
}

// IsActive reports whether a worker has picked the build up and it is
// executing. Active builds need a remote kill; a status flip is not enough.
func (s Status) IsActive() bool {
	return s == StatusBuilding || s == StatusRunning
}

// IsPending reports whether the build still occupies its (project, ref) slot
// and is therefore subject to supersession by a newer build.
func (s Status) IsPending() bool {
	return !s.IsTerminal()
}
