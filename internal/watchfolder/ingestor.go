package watchfolder

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"spool/internal/fileutil"
	"spool/internal/logging"
	"spool/internal/orchestrator"
	"spool/internal/queue"
)

// Submitter accepts transcode requests. *orchestrator.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
}

type pendingFile struct {
	rule        *Rule
	rel         string
	size        int64
	modTime     time.Time
	stableSince time.Time
}

type inflight struct {
	rule  *Rule
	rel   string
	jobID string
}

// Ingestor watches directories and submits stable files.
type Ingestor struct {
	submitter    Submitter
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	rules     []*Rule
	pending   map[string]*pendingFile
	submitted map[string]*inflight
	outputs   map[string]struct{}
	watcher   *fsnotify.Watcher
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithPollInterval sets how often pending files are checked for stability.
func WithPollInterval(d time.Duration) Option {
	return func(i *Ingestor) {
		if d > 0 {
			i.pollInterval = d
		}
	}
}

// New constructs an idle ingestor.
func New(submitter Submitter, logger *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		submitter:    submitter,
		logger:       logging.NewComponentLogger(logger, "watchfolder"),
		pollInterval: 250 * time.Millisecond,
		now:          time.Now,
		pending:      make(map[string]*pendingFile),
		submitted:    make(map[string]*inflight),
		outputs:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Start begins monitoring. Missing watch directories are created. With no
// rules Start is a no-op.
func (i *Ingestor) Start(ctx context.Context, rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}
	normalized := make([]*Rule, 0, len(rules))
	for idx := range rules {
		rule := rules[idx]
		if err := rule.normalize(); err != nil {
			return err
		}
		if err := os.MkdirAll(rule.Directory, 0o755); err != nil {
			return err
		}
		normalized = append(normalized, &rule)
	}
	// Deepest directory first so nested rules win.
	sort.SliceStable(normalized, func(a, b int) bool {
		return len(normalized[a].Directory) > len(normalized[b].Directory)
	})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		_ = watcher.Close()
		return errors.New("watchfolder already running")
	}
	i.rules = normalized
	i.watcher = watcher
	i.running = true
	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.mu.Unlock()

	for _, rule := range normalized {
		if err := i.watchTree(rule, rule.Directory); err != nil {
			i.Stop()
			return err
		}
		i.logger.Info("watching directory",
			logging.String("directory", rule.Directory),
			logging.Bool("recursive", rule.Recursive),
			logging.String(logging.FieldPreset, rule.Preset),
			logging.String("post_policy", rule.PostPolicy),
		)
		if rule.ScanExisting {
			i.scan(rule, rule.Directory)
		}
	}

	i.wg.Add(2)
	go i.eventLoop(runCtx)
	go i.pollLoop(runCtx)
	return nil
}

// Stop ends monitoring and waits for background work, including pending post
// processing.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	cancel := i.cancel
	watcher := i.watcher
	i.mu.Unlock()

	cancel()
	_ = watcher.Close()
	i.wg.Wait()
}

// watchTree adds dir, and for recursive rules every subdirectory, to the
// watcher.
func (i *Ingestor) watchTree(rule *Rule, dir string) error {
	if !rule.Recursive {
		return i.watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			i.logger.Debug("skip unreadable path", logging.String("path", path), logging.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (strings.HasPrefix(d.Name(), ".") || rule.underProcessed(path)) {
			return filepath.SkipDir
		}
		return i.watcher.Add(path)
	})
}

// scan registers every matching file already below dir.
func (i *Ingestor) scan(rule *Rule, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && (!rule.Recursive || strings.HasPrefix(d.Name(), ".") || rule.underProcessed(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		i.register(path)
		return nil
	})
}

func (i *Ingestor) eventLoop(ctx context.Context) {
	defer i.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			i.handleEvent(event)
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(i.logger, "filesystem watcher error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some file events may have been missed"),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or narrow recursive rules"),
			)
		}
	}
}

func (i *Ingestor) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if rule := i.ruleFor(path); rule != nil && rule.Recursive {
				if err := i.watchTree(rule, path); err != nil {
					i.logger.Warn("watch new directory failed", logging.String("path", path), logging.Error(err))
				}
				i.scan(rule, path)
			}
			return
		}
		i.register(path)
	case event.Has(fsnotify.Write):
		i.register(path)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		i.mu.Lock()
		delete(i.pending, path)
		i.mu.Unlock()
	}
}

// ruleFor returns the most specific rule covering path.
func (i *Ingestor) ruleFor(path string) *Rule {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ruleForLocked(path)
}

func (i *Ingestor) ruleForLocked(path string) *Rule {
	for _, rule := range i.rules {
		if _, ok := rule.relative(path); ok {
			return rule
		}
	}
	return nil
}

// register marks a file as pending if a rule wants it and it has not been
// submitted already.
func (i *Ingestor) register(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, isOutput := i.outputs[path]; isOutput {
		return
	}
	if _, done := i.submitted[path]; done {
		return
	}
	rule := i.ruleForLocked(path)
	if rule == nil {
		return
	}
	for _, r := range i.rules {
		if r.underProcessed(path) {
			return
		}
	}
	rel, _ := rule.relative(path)
	if !rule.matches(rel) {
		return
	}
	if p, ok := i.pending[path]; ok {
		// Activity resets the stability window.
		p.stableSince = i.now()
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	i.pending[path] = &pendingFile{
		rule:        rule,
		rel:         rel,
		size:        info.Size(),
		modTime:     info.ModTime(),
		stableSince: i.now(),
	}
	i.logger.Debug("file pending", logging.String("path", path))
}

func (i *Ingestor) pollLoop(ctx context.Context) {
	defer i.wg.Done()
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for path, entry := range i.collectReady() {
				i.submit(ctx, path, entry)
			}
		}
	}
}

// collectReady returns pending files whose size and mtime held still for the
// debounce window. Returned paths are reserved as submitted.
func (i *Ingestor) collectReady() map[string]*inflight {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()

	ready := make(map[string]*inflight)
	for path, p := range i.pending {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			delete(i.pending, path)
			continue
		}
		if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
			p.size = info.Size()
			p.modTime = info.ModTime()
			p.stableSince = now
			continue
		}
		if now.Sub(p.stableSince) < p.rule.Debounce {
			continue
		}
		delete(i.pending, path)
		entry := &inflight{rule: p.rule, rel: p.rel}
		i.submitted[path] = entry
		ready[path] = entry
	}
	return ready
}

func (i *Ingestor) submit(ctx context.Context, path string, entry *inflight) {
	rule := entry.rule
	output := rule.outputFor(path, entry.rel)

	i.mu.Lock()
	i.outputs[output] = struct{}{}
	i.mu.Unlock()

	id, err := i.submitter.Submit(ctx, orchestrator.Request{
		InputPath:  path,
		OutputPath: output,
		Preset:     rule.Preset,
		Options:    rule.Options,
		Source:     rule.Source(),
	})
	if err != nil {
		i.mu.Lock()
		delete(i.outputs, output)
		delete(i.submitted, path)
		i.mu.Unlock()
		logging.WarnWithContext(i.logger, "watched file not submitted", "watch_submit_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file skipped until it changes again"),
			logging.String(logging.FieldErrorHint, "check the rule preset and output directory"),
		)
		return
	}
	i.mu.Lock()
	entry.jobID = id
	i.mu.Unlock()
	i.logger.Info("watched file submitted",
		logging.String(logging.FieldJobID, id),
		logging.String("path", path),
		logging.String(logging.FieldOutput, output),
	)
}

// OnTransition applies the post policy when a job from a watched file
// completes. Failed and cancelled inputs are left in place.
func (i *Ingestor) OnTransition(job queue.Job, _, next queue.Status) {
	if !next.Terminal() || !strings.HasPrefix(job.Source, "watch:") {
		return
	}
	i.mu.Lock()
	entry, ok := i.submitted[job.InputPath]
	if !ok || !i.running {
		i.mu.Unlock()
		return
	}
	if entry.jobID == "" {
		entry.jobID = job.ID
	}
	if entry.jobID != job.ID {
		i.mu.Unlock()
		return
	}
	if next != queue.StatusCompleted || entry.rule.PostPolicy == PolicyKeep {
		i.mu.Unlock()
		return
	}
	i.wg.Add(1)
	i.mu.Unlock()

	go func() {
		defer i.wg.Done()
		i.postProcess(job, entry)
	}()
}

func (i *Ingestor) postProcess(job queue.Job, entry *inflight) {
	rule := entry.rule
	path := job.InputPath
	logger := i.logger.With(logging.String(logging.FieldJobID, job.ID), logging.String("path", path))

	var err error
	switch rule.PostPolicy {
	case PolicyDelete:
		err = os.Remove(path)
		if err == nil {
			logger.Info("input deleted after transcode")
		}
	case PolicyMove:
		dest := fileutil.UniquePath(filepath.Join(rule.ProcessedDir, entry.rel))
		err = fileutil.MoveFile(path, dest)
		if err == nil {
			logger.Info("input moved after transcode", logging.String("destination", dest))
		}
	}
	if err != nil {
		logging.WarnWithContext(logger, "post processing failed", "watch_post_failed",
			logging.String("post_policy", rule.PostPolicy),
			logging.Error(err),
			logging.String(logging.FieldImpact, "input left in the watch directory"),
			logging.String(logging.FieldErrorHint, "check permissions on the watch and processed directories"),
		)
		return
	}
	// The path is free again; a new file with the same name is a new input.
	i.mu.Lock()
	delete(i.submitted, path)
	i.mu.Unlock()
}

// Pending reports how many files are waiting for their debounce window.
func (i *Ingestor) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}
