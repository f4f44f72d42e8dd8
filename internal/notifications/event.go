package notifications

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"spool/internal/queue"
)

// EventType names a job transition that listeners can subscribe to.
type EventType string

const (
	EventQueued    EventType = "job_queued"
	EventStarted   EventType = "job_started"
	EventCompleted EventType = "job_completed"
	EventFailed    EventType = "job_failed"
	EventCancelled EventType = "job_cancelled"
	// EventTest is sent by Dispatcher.Test and is never filtered.
	EventTest EventType = "test"
)

// EventForStatus maps the status a job entered onto its event type.
func EventForStatus(status queue.Status) (EventType, bool) {
	switch status {
	case queue.StatusQueued:
		return EventQueued, true
	case queue.StatusRunning:
		return EventStarted, true
	case queue.StatusCompleted:
		return EventCompleted, true
	case queue.StatusFailed:
		return EventFailed, true
	case queue.StatusCancelled:
		return EventCancelled, true
	default:
		return "", false
	}
}

// JobPayload is the job snapshot carried by an Event.
type JobPayload struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Input      string     `json:"input_path"`
	Output     string     `json:"output_path"`
	Preset     string     `json:"preset"`
	Source     string     `json:"source,omitempty"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is the body delivered to every sink.
type Event struct {
	// ID is stable across retries so receivers can drop duplicates.
	ID             string     `json:"id"`
	Type           EventType  `json:"event"`
	Timestamp      time.Time  `json:"timestamp"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Job            JobPayload `json:"job"`
}

// NewEvent builds the event for a transition of job from prev to next.
func NewEvent(job queue.Job, prev, next queue.Status, at time.Time) (Event, bool) {
	eventType, ok := EventForStatus(next)
	if !ok {
		return Event{}, false
	}
	return Event{
		ID:             fmt.Sprintf("%s:%s", job.ID, next),
		Type:           eventType,
		Timestamp:      at.UTC(),
		PreviousStatus: string(prev),
		Job: JobPayload{
			ID:         job.ID,
			Status:     string(next),
			Input:      job.InputPath,
			Output:     job.OutputPath,
			Preset:     job.Preset,
			Source:     job.Source,
			Progress:   job.Progress,
			Error:      job.Error,
			ExitCode:   job.ExitCode,
			CreatedAt:  job.CreatedAt,
			StartedAt:  job.StartedAt,
			FinishedAt: job.FinishedAt,
		},
	}, true
}

var titleCaser = cases.Title(language.English)

// Subject renders a one-line human title such as "Spool: Job Completed (clip.mp4)".
func (e Event) Subject() string {
	label := titleCaser.String(strings.ReplaceAll(string(e.Type), "_", " "))
	if e.Job.Input != "" {
		name := filepath.Base(e.Job.Input)
		return fmt.Sprintf("Spool: %s (%s)", label, name)
	}
	return "Spool: " + label
}

// Body renders a plain-text summary of the event.
func (e Event) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", e.Subject())
	if e.Job.ID != "" {
		fmt.Fprintf(&b, "Job:     %s\n", e.Job.ID)
		fmt.Fprintf(&b, "Status:  %s\n", e.Job.Status)
		fmt.Fprintf(&b, "Input:   %s\n", e.Job.Input)
		fmt.Fprintf(&b, "Output:  %s\n", e.Job.Output)
		fmt.Fprintf(&b, "Preset:  %s\n", e.Job.Preset)
	}
	if e.Job.Error != "" {
		fmt.Fprintf(&b, "Error:   %s\n", e.Job.Error)
	}
	fmt.Fprintf(&b, "Time:    %s\n", e.Timestamp.Format(time.RFC3339))
	return b.String()
}
