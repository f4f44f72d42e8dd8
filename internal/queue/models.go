package queue

import (
	"maps"
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ShutdownReason is the error recorded on jobs that were running when the orchestrator stopped.
const ShutdownReason = "orchestrator stopped"

// RestartReason is the error recorded on jobs a previous process left unfinished.
const RestartReason = "interrupted by restart"

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var transitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusRunning:   {},
		StatusCancelled: {},
		StatusFailed:    {},
	},
	StatusRunning: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// CreateRequest carries the fields needed to create a job.
type CreateRequest struct {
	InputPath  string
	OutputPath string
	Preset     string
	Options    map[string]any
	Source     string
}

// Job is one transcode request and its lifecycle state.
type Job struct {
	ID         string
	InputPath  string
	OutputPath string
	Preset     string
	Options    map[string]any
	Source     string
	Status     Status
	Progress   float64
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      string
	PID        int
	ExitCode   *int
}

// Duration reports how long the job ran, or has been running as of now.
func (j Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt)
}

func (j Job) clone() Job {
	out := j
	if j.Options != nil {
		out.Options = maps.Clone(j.Options)
	}
	if j.StartedAt != nil {
		started := *j.StartedAt
		out.StartedAt = &started
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		out.FinishedAt = &finished
	}
	if j.ExitCode != nil {
		code := *j.ExitCode
		out.ExitCode = &code
	}
	return out
}

// Summary counts jobs per status.
type Summary struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

func (s *Summary) add(status Status) {
	s.Total++
	switch status {
	case StatusQueued:
		s.Queued++
	case StatusRunning:
		s.Running++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
}
