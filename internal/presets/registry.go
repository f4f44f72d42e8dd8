package presets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"spool/internal/engine"
	"spool/internal/logging"
	"spool/internal/services"
)

// ErrNotFound reports an unknown preset name.
var ErrNotFound = errors.New("preset not found")

// Lister produces raw preset listing output from the engine.
type Lister interface {
	ListPresets(ctx context.Context) (string, error)
}

// EngineLister runs the engine binary in its listing mode.
type EngineLister struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

// ListPresets runs the listing command. A non-zero exit is a failure.
func (l EngineLister) ListPresets(ctx context.Context) (string, error) {
	args := l.Args
	if len(args) == 0 {
		args = []string{"--preset-list"}
	}
	output, code, err := engine.Run(ctx, l.Binary, args, l.Timeout)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "presets", "list", l.Binary, err)
	}
	if code != 0 {
		return "", services.Wrap(services.ErrExternalTool, "presets", "list", fmt.Sprintf("%s exited with status %d", l.Binary, code), nil)
	}
	return output, nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithStatic registers names that are always valid, independent of discovery.
func WithStatic(names ...string) Option {
	return func(r *Registry) {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			r.static[name] = Preset{Name: name, Category: "Static"}
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logging.NewComponentLogger(logger, "presets")
	}
}

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry holds the known presets. Reads never block on a running refresh.
type Registry struct {
	lister Lister
	logger *slog.Logger
	now    func() time.Time

	static map[string]Preset

	mu          sync.RWMutex
	discovered  map[string]Preset
	lastRefresh time.Time
	loaded      bool

	refreshMu sync.Mutex
}

// NewRegistry constructs a registry. lister may be nil when only static
// presets are used.
func NewRegistry(lister Lister, opts ...Option) *Registry {
	r := &Registry{
		lister:     lister,
		logger:     logging.NewComponentLogger(nil, "presets"),
		now:        time.Now,
		static:     make(map[string]Preset),
		discovered: make(map[string]Preset),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh re-runs discovery and atomically replaces the discovered set. On
// failure, or when the listing yields no presets, the previous contents stay
// and an error is returned. It returns the number of presets now available.
func (r *Registry) Refresh(ctx context.Context) (int, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if r.lister == nil {
		r.mu.Lock()
		r.lastRefresh = r.now()
		r.loaded = true
		r.mu.Unlock()
		return r.count(), nil
	}

	output, err := r.lister.ListPresets(ctx)
	if err != nil {
		r.logger.Warn("preset discovery failed; keeping previous presets",
			logging.String(logging.FieldEventType, "preset_refresh_failed"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.Error(err),
		)
		return r.count(), err
	}

	parsed := Parse(output)
	if len(parsed) == 0 {
		err := services.Wrap(services.ErrExternalTool, "presets", "parse", "listing contained no presets", nil)
		r.logger.Warn("preset discovery returned nothing; keeping previous presets",
			logging.String(logging.FieldEventType, "preset_refresh_empty"),
			logging.Int("output_bytes", len(output)),
		)
		return r.count(), err
	}

	next := make(map[string]Preset, len(parsed))
	for _, p := range parsed {
		next[p.Name] = p
	}
	r.mu.Lock()
	r.discovered = next
	r.lastRefresh = r.now()
	r.loaded = true
	r.mu.Unlock()

	count := r.count()
	r.logger.Info("presets refreshed", logging.Int("count", count))
	return count, nil
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.discovered)
	for name := range r.static {
		if _, dup := r.discovered[name]; !dup {
			n++
		}
	}
	return n
}

// Validate reports whether name is a known preset.
func (r *Registry) Validate(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Get returns the preset by exact name.
func (r *Registry) Get(name string) (Preset, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	p, ok := r.discovered[name]
	r.mu.RUnlock()
	if ok {
		return clonePreset(p), nil
	}
	if p, ok := r.static[name]; ok {
		return clonePreset(p), nil
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// List returns every preset sorted by category then name.
func (r *Registry) List() []Preset {
	r.mu.RLock()
	out := make([]Preset, 0, len(r.discovered)+len(r.static))
	for _, p := range r.discovered {
		out = append(out, clonePreset(p))
	}
	for name, p := range r.static {
		if _, dup := r.discovered[name]; !dup {
			out = append(out, clonePreset(p))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Preset) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Names returns every preset name, sorted.
func (r *Registry) Names() []string {
	presets := r.List()
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		names = append(names, p.Name)
	}
	slices.Sort(names)
	return names
}

// LastRefresh reports when discovery last succeeded.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}

// Loaded reports whether any refresh has succeeded.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func clonePreset(p Preset) Preset {
	p.Defaults = maps.Clone(p.Defaults)
	return p
}
