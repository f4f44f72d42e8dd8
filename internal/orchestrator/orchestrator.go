package orchestrator

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spool/internal/config"
	"spool/internal/engine"
	"spool/internal/logging"
	"spool/internal/presets"
	"spool/internal/queue"
	"spool/internal/services"
)

// Orchestrator owns the pending FIFO, the worker slots, and the live encoder
// processes. Construct with New and call Start before expecting jobs to run.
type Orchestrator struct {
	store    *queue.Store
	registry *presets.Registry
	launcher engine.Launcher
	parsers  engine.ParserFactory
	logger   *slog.Logger

	capacity      int
	queueLimit    int
	grace         time.Duration
	defaultPreset string

	slots          chan struct{}
	wake           chan struct{}
	stop           chan struct{}
	dispatcherDone chan struct{}
	workers        sync.WaitGroup

	mu      sync.Mutex
	pending *list.List
	index   map[string]*list.Element
	live    map[string]*liveJob
	// announcing holds jobs whose queued transition is still being
	// delivered to observers; the flag records a Cancel that arrived meanwhile.
	announcing map[string]bool
	started    bool
	stopping   bool

	obsMu     sync.RWMutex
	observers []Observer
}

// liveJob tracks a job that left the FIFO. Fields are guarded by
// Orchestrator.mu.
type liveJob struct {
	proc      *engine.Process
	cancelled bool
	shutdown  bool
	fatal     bool
}

func (l *liveJob) stopRequested() bool {
	return l.cancelled || l.shutdown || l.fatal
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers an observer at construction time.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithParserFactory replaces the HandBrake output parser.
func WithParserFactory(factory engine.ParserFactory) Option {
	return func(o *Orchestrator) {
		if factory != nil {
			o.parsers = factory
		}
	}
}

// New constructs an orchestrator from configuration.
func New(cfg *config.Config, store *queue.Store, registry *presets.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	capacity := max(cfg.Workers.MaxConcurrent, 1)
	o := &Orchestrator{
		store:    store,
		registry: registry,
		launcher: engine.Launcher{
			Binary: cfg.Engine.Binary,
			Args: engine.ArgBuilder{
				PresetImportGUI: cfg.Engine.PresetImportGUI,
				ExtraArgs:       append([]string(nil), cfg.Engine.ExtraArgs...),
			},
		},
		parsers:        engine.HandBrakeParserFactory(cfg.Engine.FatalMarkers),
		logger:         logging.NewComponentLogger(logger, "orchestrator"),
		capacity:       capacity,
		queueLimit:     max(cfg.Workers.QueueLimit, 0),
		grace:          cfg.CancelGrace(),
		defaultPreset:  strings.TrimSpace(cfg.Engine.DefaultPreset),
		slots:          make(chan struct{}, capacity),
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		pending:        list.New(),
		index:          make(map[string]*list.Element),
		live:           make(map[string]*liveJob),
		announcing:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddObserver registers an observer for subsequent transitions.
func (o *Orchestrator) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	o.obsMu.Lock()
	o.observers = append(o.observers, obs)
	o.obsMu.Unlock()
}

// Start launches the dispatcher. Jobs submitted earlier stay queued until then.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return ErrStopped
	}
	if o.started {
		return errors.New("orchestrator already started")
	}
	o.started = true
	go o.dispatch()
	o.logger.Info("orchestrator started",
		logging.Int("workers", o.capacity),
		logging.Int("queue_limit", o.queueLimit),
		logging.String(logging.FieldEngine, o.launcher.Binary),
	)
	return nil
}

// Submit validates req and enqueues a new job, returning its id. Invalid
// presets and paths are rejected without creating a job.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if o.isStopping() {
		return "", ErrStopped
	}
	create, err := o.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return "", ErrStopped
	}
	if o.queueLimit > 0 && o.pending.Len()+len(o.announcing) >= o.queueLimit {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, o.queueLimit)
	}
	job, err := o.store.Create(create)
	if err != nil {
		o.mu.Unlock()
		return "", services.Wrap(services.ErrInvalidRequest, "orchestrator", "submit", "create job", err)
	}
	o.announcing[job.ID] = false
	o.mu.Unlock()

	// Observers see queued before the dispatcher can pick the job up.
	o.notify(job, "", queue.StatusQueued)
	logger := logging.WithContext(services.WithJobID(ctx, job.ID), o.logger)
	attrs := append([]logging.Attr{
		logging.String(logging.FieldPreset, job.Preset),
		logging.String(logging.FieldSource, job.Source),
	}, logging.Paths(job.InputPath, job.OutputPath)...)
	logger.Info("job queued", logging.Args(attrs...)...)

	o.mu.Lock()
	cancelled := o.announcing[job.ID] || o.stopping
	delete(o.announcing, job.ID)
	if !cancelled {
		o.index[job.ID] = o.pending.PushBack(job.ID)
	}
	o.mu.Unlock()

	if cancelled {
		if err := o.finishQueued(job.ID, queue.StatusCancelled, ""); err != nil {
			logger.Debug("cancel announced job", logging.Error(err))
		}
		return job.ID, nil
	}
	o.signal()
	return job.ID, nil
}

// BatchSubmit submits every request independently. A failed entry never
// affects the others. defaultPreset applies to entries without a preset.
func (o *Orchestrator) BatchSubmit(ctx context.Context, reqs []Request, defaultPreset string) []BatchResult {
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	results := make([]BatchResult, 0, len(reqs))
	rejected := 0
	for i, req := range reqs {
		if strings.TrimSpace(req.Preset) == "" {
			req.Preset = defaultPreset
		}
		if req.Source == "" {
			req.Source = "batch"
		}
		id, err := o.Submit(ctx, req)
		if err != nil {
			rejected++
		}
		results = append(results, BatchResult{Index: i, JobID: id, Err: err})
	}
	logging.WithContext(ctx, o.logger).Info("batch submitted",
		logging.Int("entries", len(reqs)),
		logging.Int("rejected", rejected),
	)
	return results
}

// Cancel stops a queued or running job. It reports false when the job had
// already reached a terminal state. A queued job goes straight to cancelled; a
// running job is terminated in the background and becomes cancelled once its
// process has exited.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	logger := logging.WithContext(services.WithJobID(ctx, id), o.logger)

	o.mu.Lock()
	if el, ok := o.index[id]; ok {
		o.pending.Remove(el)
		delete(o.index, id)
		o.mu.Unlock()
		if err := o.finishQueued(id, queue.StatusCancelled, ""); err != nil {
			return false, err
		}
		logger.Info("queued job cancelled")
		return true, nil
	}
	if _, ok := o.announcing[id]; ok {
		o.announcing[id] = true
		o.mu.Unlock()
		logger.Info("queued job cancelled")
		return true, nil
	}
	if lj, ok := o.live[id]; ok {
		already := lj.cancelled
		lj.cancelled = true
		proc := lj.proc
		o.mu.Unlock()
		if !already && proc != nil {
			go o.terminate(id, proc)
		}
		logger.Info("cancellation requested", logging.Bool("process_started", proc != nil))
		return true, nil
	}
	o.mu.Unlock()

	if _, err := o.store.Get(id); err != nil {
		return false, err
	}
	return false, nil
}

// Status returns a snapshot of one job.
func (o *Orchestrator) Status(id string) (queue.Job, error) {
	return o.store.Get(id)
}

// List returns job snapshots in creation order, optionally filtered by status.
func (o *Orchestrator) List(statuses ...queue.Status) []queue.Job {
	return o.store.List(statuses...)
}

// ListPresets returns the presets currently known to the registry.
func (o *Orchestrator) ListPresets() []presets.Preset {
	return o.registry.List()
}

// Stats reports capacity and load.
func (o *Orchestrator) Stats() Stats {
	summary := o.store.Summary()
	o.mu.Lock()
	queued := o.pending.Len() + len(o.announcing)
	stopping := o.stopping
	o.mu.Unlock()
	return Stats{
		Capacity:         o.capacity,
		Running:          summary.Running,
		Queued:           queued,
		QueueLimit:       o.queueLimit,
		Engine:           o.launcher.Binary,
		Presets:          len(o.registry.List()),
		PresetsRefreshed: o.registry.LastRefresh(),
		Jobs:             summary,
		Stopping:         stopping,
	}
}

// Shutdown stops accepting work, cancels queued jobs, and terminates every
// live process. Running jobs end as failed with queue.ShutdownReason. It waits
// for the workers to finish or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.stopping {
		o.stopping = true
		close(o.stop)
	}
	started := o.started
	queued := make([]string, 0, o.pending.Len())
	for el := o.pending.Front(); el != nil; el = el.Next() {
		queued = append(queued, el.Value.(string))
	}
	o.pending.Init()
	clear(o.index)
	procs := make(map[string]*engine.Process)
	for id, lj := range o.live {
		if lj.shutdown || lj.cancelled {
			continue
		}
		lj.shutdown = true
		if lj.proc != nil {
			procs[id] = lj.proc
		}
	}
	o.mu.Unlock()

	for _, id := range queued {
		if err := o.finishQueued(id, queue.StatusCancelled, ""); err != nil {
			o.logger.Debug("cancel queued job on shutdown", logging.String(logging.FieldJobID, id), logging.Error(err))
		}
	}
	for id, proc := range procs {
		go o.terminate(id, proc)
	}
	if len(queued) > 0 || len(procs) > 0 {
		o.logger.Info("orchestrator stopping",
			logging.Int("cancelled_queued", len(queued)),
			logging.Int("terminating", len(procs)),
		)
	}

	done := make(chan struct{})
	go func() {
		if started {
			<-o.dispatcherDone
		}
		o.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return services.Wrap(services.ErrTimeout, "orchestrator", "shutdown", "workers still running", ctx.Err())
	}
}

func (o *Orchestrator) isStopping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) notify(job queue.Job, prev, next queue.Status) {
	o.obsMu.RLock()
	observers := append([]Observer(nil), o.observers...)
	o.obsMu.RUnlock()
	for _, obs := range observers {
		o.callObserver(obs, job, prev, next)
	}
}

func (o *Orchestrator) callObserver(obs Observer, job queue.Job, prev, next queue.Status) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(o.logger, "observer panicked", "observer_panic",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldStatus, string(next)),
				logging.Any("panic", r),
			)
		}
	}()
	obs.OnTransition(job, prev, next)
}

// finishQueued moves a job that never spawned a process to a terminal state.
func (o *Orchestrator) finishQueued(id string, to queue.Status, reason string) error {
	prev, job, err := o.store.Transition(id, to, func(j *queue.Job) {
		j.Error = reason
	})
	if err != nil {
		return err
	}
	o.notify(job, prev, to)
	return nil
}

func (o *Orchestrator) terminate(id string, proc *engine.Process) {
	if err := proc.Terminate(o.grace); err != nil {
		logging.WarnWithContext(o.logger, "encoder did not exit after termination", "terminate_failed",
			logging.String(logging.FieldJobID, id),
			logging.PID(proc.PID()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the encoder process may still be running"),
			logging.String(logging.FieldErrorHint, "inspect the process table and kill it manually"),
		)
	}
}
