package queue

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	mu  sync.Mutex
	job Job
}

// Store owns every Job for the process lifetime. The zero value is not usable;
// construct with NewStore.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides job id generation (primarily for tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new queued job and returns its snapshot.
func (s *Store) Create(req CreateRequest) (Job, error) {
	req.InputPath = strings.TrimSpace(req.InputPath)
	req.OutputPath = strings.TrimSpace(req.OutputPath)
	req.Preset = strings.TrimSpace(req.Preset)
	switch {
	case req.InputPath == "":
		return Job{}, fmt.Errorf("%w: input path required", ErrInvalidJob)
	case req.OutputPath == "":
		return Job{}, fmt.Errorf("%w: output path required", ErrInvalidJob)
	case req.Preset == "":
		return Job{}, fmt.Errorf("%w: preset required", ErrInvalidJob)
	}

	job := Job{
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Preset:     req.Preset,
		Options:    maps.Clone(req.Options),
		Source:     req.Source,
		Status:     StatusQueued,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	for attempts := 0; ; attempts++ {
		if _, taken := s.entries[id]; !taken && id != "" {
			break
		}
		if attempts >= 8 {
			return Job{}, fmt.Errorf("allocate job id: generator keeps returning %q", id)
		}
		id = s.newID()
	}
	job.ID = id
	s.entries[id] = &entry{job: job}
	s.order = append(s.order, id)
	return job.clone(), nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), nil
}

// List returns snapshots ordered by creation. When statuses are given, only
// jobs in those statuses are returned. The store lock is released before any
// per-job lock is taken.
func (s *Store) List(statuses ...Status) []Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		job := e.job.clone()
		e.mu.Unlock()
		if len(statuses) > 0 && !slices.Contains(statuses, job.Status) {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// Summary counts jobs per status.
func (s *Store) Summary() Summary {
	var summary Summary
	for _, job := range s.List() {
		summary.add(job.Status)
	}
	return summary
}

// Transition moves a job to a new status. mutate, when non-nil, runs under the
// job lock before lifecycle fields are stamped and may set Error, ExitCode, or
// Progress. It returns the previous status and the updated snapshot.
func (s *Store) Transition(id string, to Status, mutate func(*Job)) (Status, Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.job.Status
	if !CanTransition(prev, to) {
		return prev, e.job.clone(), &TransitionError{ID: id, From: prev, To: to}
	}
	if mutate != nil {
		mutate(&e.job)
	}
	// mutate may not change identity or status.
	e.job.ID = id
	e.job.Status = to

	now := s.now()
	switch to {
	case StatusRunning:
		e.job.StartedAt = &now
		e.job.Progress = 0
		e.job.Error = ""
	case StatusCompleted:
		e.job.Progress = 1
		e.job.Error = ""
	}
	if to.Terminal() {
		e.job.FinishedAt = &now
		e.job.PID = 0
		if to != StatusFailed {
			e.job.Error = ""
		}
		if prev == StatusQueued {
			e.job.Progress = 0
		}
	}
	return prev, e.job.clone(), nil
}

// UpdateProgress raises the progress of a running job. Values are clamped to
// [0,1] and never move backwards; updates for jobs in other states are ignored.
// It reports whether the stored value changed.
func (s *Store) UpdateProgress(id string, fraction float64) (bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	fraction = min(max(fraction, 0), 1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != StatusRunning || fraction <= e.job.Progress {
		return false, nil
	}
	e.job.Progress = fraction
	return true, nil
}

// SetPID records the live encoder pid of a running job.
func (s *Store) SetPID(id string, pid int) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != StatusRunning {
		return &TransitionError{ID: id, From: e.job.Status, To: StatusRunning}
	}
	e.job.PID = pid
	return nil
}

// Remove deletes a terminal job.
func (s *Store) Remove(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	status := e.job.Status
	e.mu.Unlock()
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	s.order = slices.DeleteFunc(s.order, func(candidate string) bool { return candidate == id })
	return nil
}

// Prune removes terminal jobs that finished before cutoff and returns how many
// were removed.
func (s *Store) Prune(cutoff time.Time) int {
	removed := 0
	for _, job := range s.List(StatusCompleted, StatusFailed, StatusCancelled) {
		if job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		if err := s.Remove(job.ID); err == nil {
			removed++
		}
	}
	return removed
}
