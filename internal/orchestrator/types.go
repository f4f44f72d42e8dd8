package orchestrator

import (
	"time"

	"spool/internal/queue"
)

// Request asks for one input file to be transcoded.
type Request struct {
	InputPath  string
	OutputPath string
	// Preset may be empty, in which case engine.default_preset applies.
	Preset  string
	Options map[string]any
	// Source labels the origin of the job ("api", "batch", "watch:<dir>").
	Source string
}

// BatchResult is the outcome of one entry of BatchSubmit.
type BatchResult struct {
	Index int
	JobID string
	Err   error
}

// Observer receives every job transition. prev is empty when the job was just
// created. Calls are synchronous and made outside orchestrator locks, so
// implementations must return quickly.
type Observer interface {
	OnTransition(job queue.Job, prev, next queue.Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(job queue.Job, prev, next queue.Status)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(job queue.Job, prev, next queue.Status) {
	f(job, prev, next)
}

// Stats is a point-in-time view of the orchestrator.
type Stats struct {
	Capacity         int
	Running          int
	Queued           int
	QueueLimit       int
	Engine           string
	Presets          int
	PresetsRefreshed time.Time
	Jobs             queue.Summary
	Stopping         bool
}
