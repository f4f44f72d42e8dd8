package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"spool/internal/config"
	"spool/internal/history"
	"spool/internal/logging"
	"spool/internal/notifications"
	"spool/internal/orchestrator"
	"spool/internal/presets"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/watchfolder"
)

// ErrAlreadyRunning reports that another spool daemon holds the state lock.
var ErrAlreadyRunning = errors.New("another spool daemon instance is already running")

// ErrStopped reports a Start on a daemon that has already been stopped.
var ErrStopped = errors.New("daemon already stopped; build a new one with New")

// Daemon wires the transcode core together and enforces single-instance
// execution per state directory. A Daemon is single-use: once stopped, or
// once Start fails after the orchestrator was touched, Start returns
// ErrStopped.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	registry *presets.Registry
	orch     *orchestrator.Orchestrator
	notifier *notifications.Dispatcher
	ingestor *watchfolder.Ingestor
	rules    []watchfolder.Rule

	lockPath string
	lock     *flock.Flock

	mu          sync.Mutex
	journal     *history.Store
	running     bool
	stopped     bool
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

const (
	// Finished jobs stay queryable in memory this long; history keeps them after.
	finishedJobRetention = time.Hour
	janitorInterval      = 10 * time.Minute
)

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Orchestrator  orchestrator.Stats
	WatchRules    int
	PendingFiles  int
	Notifications int
	HistoryPath   string
	LockFilePath  string
}

// New builds every component from cfg. Nothing runs and no lock is taken
// until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lister := presets.EngineLister{
		Binary:  cfg.Engine.Binary,
		Args:    append([]string(nil), cfg.Engine.ListPresetsArgs...),
		Timeout: time.Duration(cfg.Engine.ListTimeoutSeconds) * time.Second,
	}
	registry := presets.NewRegistry(lister,
		presets.WithStatic(cfg.Engine.StaticPresets...),
		presets.WithLogger(logger),
	)
	store := queue.NewStore()
	notifier := notifications.New(cfg, logger)
	orch := orchestrator.New(cfg, store, registry, logger)
	ingestor := watchfolder.New(orch, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: registry,
		orch:     orch,
		notifier: notifier,
		ingestor: ingestor,
		rules:    watchfolder.RulesFromConfig(cfg.Watch),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	orch.AddObserver(notifier)
	orch.AddObserver(ingestor)
	return d, nil
}

// Start acquires the lock, opens the history journal, loads presets, and
// begins processing and watching.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return ErrStopped
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "start", "ensure directories", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if d.cfg.History.Enabled && d.journal == nil {
		retention := time.Duration(d.cfg.History.RetentionDays) * 24 * time.Hour
		journal, err := history.Open(ctx, d.cfg.HistoryPath(), retention, d.logger)
		if err != nil {
			_ = d.lock.Unlock()
			return fmt.Errorf("open history: %w", err)
		}
		d.journal = journal
		d.orch.AddObserver(journal)
	}

	if count, err := d.registry.Refresh(ctx); err != nil {
		logging.WarnWithContext(d.logger, "preset discovery failed", "preset_refresh_failed",
			logging.Error(err),
			logging.Int("available", count),
			logging.String(logging.FieldImpact, "only static presets are accepted until a refresh succeeds"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
	} else {
		d.logger.Info("presets loaded", logging.Int("count", count))
	}

	if err := d.orch.Start(ctx); err != nil {
		d.stopped = true
		d.releaseLocked()
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := d.ingestor.Start(ctx, d.rules); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
		defer cancel()
		_ = d.orch.Shutdown(shutdownCtx)
		d.stopped = true
		d.releaseLocked()
		return services.Wrap(services.ErrConfiguration, "daemon", "start", "watch folders", err)
	}

	janitorCtx, cancel := context.WithCancel(context.Background())
	d.stopJanitor = cancel
	d.janitorDone = make(chan struct{})
	go d.janitor(janitorCtx, d.janitorDone)

	d.running = true
	d.logger.Info("spool daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("watch_rules", len(d.rules)),
		logging.Int("notification_sinks", d.notifier.Sinks()),
		logging.Bool("history", d.journal != nil),
	)
	return nil
}

// Stop halts ingestion, shuts the orchestrator down, drains notifications,
// and releases the lock. Every step runs even when an earlier one fails.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	d.stopped = true

	d.stopJanitor()
	<-d.janitorDone
	d.ingestor.Stop()
	var errs []error
	if err := d.orch.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.notifier.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	d.releaseLocked()
	d.logger.Info("spool daemon stopped")
	return errors.Join(errs...)
}

// janitor drops long-finished jobs from the in-memory store.
func (d *Daemon) janitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := d.store.Prune(time.Now().Add(-finishedJobRetention)); removed > 0 {
				d.logger.Debug("pruned finished jobs", logging.Int("count", removed))
			}
		}
	}
}

func (d *Daemon) releaseLocked() {
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("failed to close history", logging.Error(err))
		}
		d.journal = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Orchestrator exposes the submission interface.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orch
}

// Notifier exposes the notification dispatcher.
func (d *Daemon) Notifier() *notifications.Dispatcher {
	return d.notifier
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	running := d.running
	historyPath := ""
	if d.journal != nil {
		historyPath = d.journal.Path()
	}
	d.mu.Unlock()

	return Status{
		Running:       running,
		Orchestrator:  d.orch.Stats(),
		WatchRules:    len(d.rules),
		PendingFiles:  d.ingestor.Pending(),
		Notifications: d.notifier.Sinks(),
		HistoryPath:   historyPath,
		LockFilePath:  d.lockPath,
	}
}

// Running reports whether a process currently holds the daemon lock at
// cfg.LockPath(). It does not disturb the holder.
func Running(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}
