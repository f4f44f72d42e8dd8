package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"spool/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Engine.CancelGraceSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.MaxConcurrent = n
	}
}

// WithQueueLimit caps how many jobs may wait in the FIFO.
func WithQueueLimit(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.QueueLimit = n
	}
}

// WithStaticPresets registers preset names that need no discovery.
func WithStaticPresets(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.StaticPresets = append(b.cfg.Engine.StaticPresets, names...)
	}
}

// WithStubEngine writes a fake HandBrakeCLI whose encode behaviour is body and
// points engine.binary at it. The stub answers --preset-list with PresetListing.
func WithStubEngine(body string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Binary = WriteStubEngine(b.t, filepath.Join(b.baseDir, "bin"), body)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, HandBrakeCLI is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"HandBrakeCLI"}
		}
		binDir := filepath.Join(b.baseDir, "path-bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
