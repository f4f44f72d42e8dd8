package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"spool/internal/config"
	"spool/internal/history"
	"spool/internal/logging"
	"spool/internal/orchestrator"
	"spool/internal/presets"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/testsupport"
)

type transition struct {
	prev, next queue.Status
}

type recorder struct {
	mu      sync.Mutex
	events  map[string][]transition
	running int
	peak    int
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]transition)}
}

func (r *recorder) OnTransition(job queue.Job, prev, next queue.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[job.ID] = append(r.events[job.ID], transition{prev: prev, next: next})
	if next == queue.StatusRunning {
		r.running++
		r.peak = max(r.peak, r.running)
	}
	if prev == queue.StatusRunning {
		r.running--
	}
}

func (r *recorder) statuses(id string) []queue.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []queue.Status
	for _, tr := range r.events[id] {
		out = append(out, tr.next)
	}
	return out
}

type harness struct {
	cfg      *config.Config
	orch     *orchestrator.Orchestrator
	registry *presets.Registry
	rec      *recorder
	input    string
	outDir   string
}

func newHarness(t *testing.T, body string, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithStubEngine(body)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	return startHarness(t, cfg, presets.NewRegistry(
		presets.EngineLister{Binary: cfg.Engine.Binary, Timeout: 5 * time.Second},
		presets.WithStatic(cfg.Engine.StaticPresets...),
	))
}

func startHarness(t *testing.T, cfg *config.Config, registry *presets.Registry) *harness {
	t.Helper()
	base := testsupport.BaseDir(cfg)
	input := filepath.Join(base, "in", "clip.mp4")
	testsupport.WriteFile(t, input, 64)

	rec := newRecorder()
	orch := orchestrator.New(cfg, queue.NewStore(), registry, logging.NewNop(), orchestrator.WithObserver(rec))
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &harness{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		rec:      rec,
		input:    input,
		outDir:   filepath.Join(base, "out"),
	}
}

func (h *harness) request(name string) orchestrator.Request {
	return orchestrator.Request{
		InputPath:  h.input,
		OutputPath: filepath.Join(h.outDir, name+".mkv"),
		Preset:     "Fast 1080p30",
	}
}

func (h *harness) submit(t *testing.T, name string) string {
	t.Helper()
	id, err := h.orch.Submit(context.Background(), h.request(name))
	if err != nil {
		t.Fatalf("Submit(%s) failed: %v", name, err)
	}
	return id
}

func waitForStatus(t *testing.T, orch *orchestrator.Orchestrator, id string, want ...queue.Status) queue.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		job, err := orch.Status(id)
		if err != nil {
			t.Fatalf("Status(%s) failed: %v", id, err)
		}
		if slices.Contains(want, job.Status) {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, want %v", id, job.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForTerminal(t *testing.T, orch *orchestrator.Orchestrator, id string) queue.Job {
	t.Helper()
	return waitForStatus(t, orch, id, queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled)
}

func TestCompletedJobPinsProgress(t *testing.T) {
	h := newHarness(t, "printf 'Encoding: 42.5%%\\n'\nexit 0")
	if h.registry.Loaded() {
		t.Fatal("registry should load lazily on first submit")
	}
	id := h.submit(t, "pinned")
	if !h.registry.Loaded() {
		t.Fatal("expected first submit to trigger preset discovery")
	}

	job := waitForTerminal(t, h.orch, id)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.Progress != 1 {
		t.Fatalf("expected progress 1.0, got %v", job.Progress)
	}
	if job.StartedAt == nil || job.FinishedAt == nil || job.PID != 0 {
		t.Fatalf("unexpected lifecycle fields: %+v", job)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", job.ExitCode)
	}
	want := []queue.Status{queue.StatusQueued, queue.StatusRunning, queue.StatusCompleted}
	if got := h.rec.statuses(id); !slices.Equal(got, want) {
		t.Fatalf("observer saw %v, want %v", got, want)
	}
}

func TestCarriageReturnProgressStream(t *testing.T) {
	h := newHarness(t, testsupport.EngineSucceeds)
	job := waitForTerminal(t, h.orch, h.submit(t, "cr"))
	if job.Status != queue.StatusCompleted || job.Progress != 1 {
		t.Fatalf("expected completed at 1.0, got %s %v", job.Status, job.Progress)
	}
}

func TestArgumentsReachEngine(t *testing.T) {
	// The stub writes its argv, one per line, into the output path ($4).
	h := newHarness(t, "printf '%s\\n' \"$@\" > \"$4\"\nexit 0")
	req := h.request("args")
	req.Options = map[string]any{"quality": 20, "two-pass": true, "turbo": false}
	id, err := h.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	job := waitForTerminal(t, h.orch, id)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	data, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read captured args: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{"--input", h.input, "--output", job.OutputPath, "--preset", "Fast 1080p30", "--quality", "20", "--two-pass"}
	if !slices.Equal(args, want) {
		t.Fatalf("unexpected argv:\n got %q\nwant %q", args, want)
	}
}

func TestExitOneUsesDiagnosticOrGenericMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"diagnostic", testsupport.EngineFails, "could not open output file"},
		{"silent", testsupport.EngineFailsSilently, "encoder exited with status 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.body)
			job := waitForTerminal(t, h.orch, h.submit(t, tt.name))
			if job.Status != queue.StatusFailed {
				t.Fatalf("expected failed, got %s", job.Status)
			}
			if !strings.Contains(job.Error, tt.want) {
				t.Fatalf("expected error containing %q, got %q", tt.want, job.Error)
			}
			if job.ExitCode == nil || *job.ExitCode != 1 {
				t.Fatalf("expected exit code 1, got %v", job.ExitCode)
			}
		})
	}
}

func TestFatalMarkerStopsEncoder(t *testing.T) {
	h := newHarness(t, testsupport.EngineFatal)
	start := time.Now()
	job := waitForTerminal(t, h.orch, h.submit(t, "fatal"))
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "ERROR: Invalid input" {
		t.Fatalf("expected fatal line as error, got %q", job.Error)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("fatal encoder was not terminated promptly (%s)", elapsed)
	}
}

func TestFatalMarkerWaitsForStubbornEncoder(t *testing.T) {
	h := newHarness(t, "trap '' TERM\necho \"ERROR: Invalid input\"\nsleep 30")
	start := time.Now()
	job := waitForTerminal(t, h.orch, h.submit(t, "stubborn"))
	elapsed := time.Since(start)
	if job.Status != queue.StatusFailed || job.Error != "ERROR: Invalid input" {
		t.Fatalf("expected failed with the fatal line, got %s %q", job.Status, job.Error)
	}
	// The job stays running until the kill after the grace period lands.
	if elapsed < h.cfg.CancelGrace() {
		t.Fatalf("job finished before the encoder was killed (%s)", elapsed)
	}
	if elapsed > 10*time.Second {
		t.Fatalf("stubborn encoder was not killed promptly (%s)", elapsed)
	}
}

func TestSpawnFailureFailsImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStaticPresets("Fast 1080p30"))
	cfg.Engine.Binary = filepath.Join(testsupport.BaseDir(cfg), "missing", "HandBrakeCLI")
	h := startHarness(t, cfg, presets.NewRegistry(nil, presets.WithStatic(cfg.Engine.StaticPresets...)))

	id := h.submit(t, "spawn")
	job := waitForTerminal(t, h.orch, id)
	if job.Status != queue.StatusFailed || job.Error == "" {
		t.Fatalf("expected failed with error, got %s %q", job.Status, job.Error)
	}
	if job.StartedAt != nil {
		t.Fatal("spawn failure should never enter running")
	}
	want := []queue.Status{queue.StatusQueued, queue.StatusFailed}
	if got := h.rec.statuses(id); !slices.Equal(got, want) {
		t.Fatalf("observer saw %v, want %v", got, want)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, "exit 0")

	req := h.request("bad-preset")
	req.Preset = "Nonexistent Preset"
	_, err := h.orch.Submit(context.Background(), req)
	if !errors.Is(err, orchestrator.ErrInvalidPreset) || !errors.Is(err, services.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidPreset wrapping ErrInvalidRequest, got %v", err)
	}

	req = h.request("missing-input")
	req.InputPath = filepath.Join(t.TempDir(), "nope.mp4")
	_, err = h.orch.Submit(context.Background(), req)
	if !errors.Is(err, orchestrator.ErrInvalidPath) || !errors.Is(err, services.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidPath wrapping ErrInvalidRequest, got %v", err)
	}

	req = h.request("dir-input")
	req.InputPath = t.TempDir()
	if _, err := h.orch.Submit(context.Background(), req); !errors.Is(err, orchestrator.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for directory input, got %v", err)
	}

	req = h.request("same")
	req.OutputPath = h.input
	if _, err := h.orch.Submit(context.Background(), req); !errors.Is(err, orchestrator.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for output == input, got %v", err)
	}

	if jobs := h.orch.List(); len(jobs) != 0 {
		t.Fatalf("rejected submissions must not create jobs, got %d", len(jobs))
	}
}

func TestSubmitCreatesOutputDirectoryAndDefaultsPreset(t *testing.T) {
	h := newHarness(t, "exit 0")
	req := h.request("nested")
	req.OutputPath = filepath.Join(h.outDir, "a", "b", "nested.mkv")
	req.Preset = ""
	id, err := h.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(req.OutputPath)); err != nil || !info.IsDir() {
		t.Fatalf("expected output directory to be created: %v", err)
	}
	job := waitForTerminal(t, h.orch, id)
	if job.Preset != h.cfg.Engine.DefaultPreset {
		t.Fatalf("expected default preset %q, got %q", h.cfg.Engine.DefaultPreset, job.Preset)
	}
	if job.Source != "api" {
		t.Fatalf("expected api source, got %q", job.Source)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const workers, extra = 2, 4
	h := newHarness(t, "sleep 0.2\nexit 0", testsupport.WithWorkers(workers))

	ids := make([]string, 0, workers+extra)
	for i := range workers + extra {
		ids = append(ids, h.submit(t, "pool"+string(rune('a'+i))))
	}

	done := make(chan struct{})
	var sampled int
	go func() {
		defer close(done)
		for {
			summary := h.orch.Stats().Jobs
			sampled = max(sampled, summary.Running)
			if summary.Completed+summary.Failed+summary.Cancelled == len(ids) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	for _, id := range ids {
		job := waitForTerminal(t, h.orch, id)
		if job.Status != queue.StatusCompleted {
			t.Fatalf("job %s ended %s (%s)", id, job.Status, job.Error)
		}
	}
	<-done

	if sampled > workers {
		t.Fatalf("sampled %d running jobs with %d workers", sampled, workers)
	}
	h.rec.mu.Lock()
	peak := h.rec.peak
	h.rec.mu.Unlock()
	if peak > workers || peak == 0 {
		t.Fatalf("observer peak running = %d, want 1..%d", peak, workers)
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	h := newHarness(t, testsupport.EngineSlow, testsupport.WithWorkers(1))
	first := h.submit(t, "first")
	waitForStatus(t, h.orch, first, queue.StatusRunning)
	second := h.submit(t, "second")

	ok, err := h.orch.Cancel(context.Background(), second)
	if err != nil || !ok {
		t.Fatalf("Cancel(queued) = %v, %v", ok, err)
	}
	job, _ := h.orch.Status(second)
	if job.Status != queue.StatusCancelled || job.StartedAt != nil {
		t.Fatalf("expected cancelled without start, got %+v", job)
	}
	if slices.Contains(h.rec.statuses(second), queue.StatusRunning) {
		t.Fatal("cancelled queued job reached running")
	}
	if h.orch.Stats().Queued != 0 {
		t.Fatal("cancelled job still in FIFO")
	}
}

func TestCancelRunningJob(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"cooperative", testsupport.EngineSlow},
		{"ignores term", testsupport.EngineIgnoresTerm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.body)
			id := h.submit(t, "cancel")
			running := waitForStatus(t, h.orch, id, queue.StatusRunning)
			if running.PID == 0 {
				t.Fatal("expected pid recorded while running")
			}

			start := time.Now()
			ok, err := h.orch.Cancel(context.Background(), id)
			if err != nil || !ok {
				t.Fatalf("Cancel(running) = %v, %v", ok, err)
			}
			job := waitForTerminal(t, h.orch, id)
			if job.Status != queue.StatusCancelled {
				t.Fatalf("expected cancelled, got %s (%s)", job.Status, job.Error)
			}
			if elapsed := time.Since(start); elapsed > h.cfg.CancelGrace()+6*time.Second {
				t.Fatalf("cancel took %s", elapsed)
			}

			ok, err = h.orch.Cancel(context.Background(), id)
			if err != nil || ok {
				t.Fatalf("Cancel(terminal) = %v, %v; want false, nil", ok, err)
			}
		})
	}
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, "exit 0")
	if _, err := h.orch.Cancel(context.Background(), "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueueLimitRejectsOverflow(t *testing.T) {
	h := newHarness(t, testsupport.EngineSlow, testsupport.WithWorkers(1), testsupport.WithQueueLimit(1))
	first := h.submit(t, "one")
	waitForStatus(t, h.orch, first, queue.StatusRunning)
	h.submit(t, "two")

	_, err := h.orch.Submit(context.Background(), h.request("three"))
	if !errors.Is(err, orchestrator.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if stats := h.orch.Stats(); stats.Queued != 1 || stats.QueueLimit != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestShutdownCancelsQueuedAndFailsRunning(t *testing.T) {
	h := newHarness(t, testsupport.EngineSlow, testsupport.WithWorkers(1))
	running := h.submit(t, "running")
	waitForStatus(t, h.orch, running, queue.StatusRunning)
	queued := h.submit(t, "queued")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	job, _ := h.orch.Status(running)
	if job.Status != queue.StatusFailed || job.Error != queue.ShutdownReason {
		t.Fatalf("expected running job failed with shutdown reason, got %s %q", job.Status, job.Error)
	}
	job, _ = h.orch.Status(queued)
	if job.Status != queue.StatusCancelled {
		t.Fatalf("expected queued job cancelled, got %s", job.Status)
	}
	if _, err := h.orch.Submit(context.Background(), h.request("late")); !errors.Is(err, orchestrator.ErrStopped) {
		t.Fatalf("expected ErrStopped after shutdown, got %v", err)
	}
	if !h.orch.Stats().Stopping {
		t.Fatal("expected stats to report stopping")
	}
}

func TestBatchSubmitIsolatesFailures(t *testing.T) {
	h := newHarness(t, "exit 0")
	bad := h.request("bad")
	bad.Preset = "Unknown"
	defaulted := h.request("defaulted")
	defaulted.Preset = ""
	missing := h.request("missing")
	missing.InputPath = filepath.Join(t.TempDir(), "gone.mp4")

	results := h.orch.BatchSubmit(context.Background(), []orchestrator.Request{h.request("ok"), bad, defaulted, missing}, "Fast 720p30")
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].JobID == "" {
		t.Fatalf("entry 0 should succeed: %+v", results[0])
	}
	if !errors.Is(results[1].Err, orchestrator.ErrInvalidPreset) {
		t.Fatalf("entry 1 should fail on preset: %+v", results[1])
	}
	if results[2].Err != nil {
		t.Fatalf("entry 2 should succeed with default preset: %+v", results[2])
	}
	if !errors.Is(results[3].Err, orchestrator.ErrInvalidPath) {
		t.Fatalf("entry 3 should fail on path: %+v", results[3])
	}
	for i, result := range results {
		if result.Index != i {
			t.Fatalf("result %d has index %d", i, result.Index)
		}
	}

	job := waitForTerminal(t, h.orch, results[2].JobID)
	if job.Preset != "Fast 720p30" || job.Source != "batch" {
		t.Fatalf("unexpected defaulted job: preset=%q source=%q", job.Preset, job.Source)
	}
	waitForTerminal(t, h.orch, results[0].JobID)
	if got := len(h.orch.List()); got != 2 {
		t.Fatalf("expected two jobs created, got %d", got)
	}
}

func TestStatsAndPresets(t *testing.T) {
	h := newHarness(t, "exit 0", testsupport.WithWorkers(3))
	if h.registry.Loaded() {
		t.Fatal("registry should load lazily on first submit")
	}
	waitForTerminal(t, h.orch, h.submit(t, "stats"))

	stats := h.orch.Stats()
	if stats.Capacity != 3 || stats.Engine != h.cfg.Engine.Binary {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Presets != 4 || stats.PresetsRefreshed.IsZero() {
		t.Fatalf("expected discovered presets in stats: %+v", stats)
	}
	if stats.Jobs.Total != 1 || stats.Jobs.Completed != 1 {
		t.Fatalf("unexpected job summary: %+v", stats.Jobs)
	}
	if got := len(h.orch.ListPresets()); got != 4 {
		t.Fatalf("expected 4 presets, got %d", got)
	}
	if got := h.orch.List(queue.StatusCompleted); len(got) != 1 {
		t.Fatalf("expected one completed job, got %d", len(got))
	}
}

func TestObserverPanicDoesNotBreakWorker(t *testing.T) {
	h := newHarness(t, "exit 0")
	h.orch.AddObserver(orchestrator.ObserverFunc(func(queue.Job, queue.Status, queue.Status) {
		panic("observer bug")
	}))
	job := waitForTerminal(t, h.orch, h.submit(t, "panicky"))
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed despite observer panic, got %s", job.Status)
	}
}

func waitForEvents(t *testing.T, rec *recorder, id string, n int) []queue.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := rec.statuses(id)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueuedReachesObserversBeforeDispatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubEngine("exit 0"))
	registry := presets.NewRegistry(nil, presets.WithStatic("Fast 1080p30"))
	base := testsupport.BaseDir(cfg)
	input := filepath.Join(base, "in", "clip.mp4")
	testsupport.WriteFile(t, input, 64)

	journal, err := history.Open(context.Background(), filepath.Join(base, "history.db"), 0, logging.NewNop())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	slow := orchestrator.ObserverFunc(func(_ queue.Job, prev, next queue.Status) {
		if prev == "" && next == queue.StatusQueued {
			time.Sleep(200 * time.Millisecond)
		}
	})
	rec := newRecorder()
	orch := orchestrator.New(cfg, queue.NewStore(), registry, logging.NewNop(),
		orchestrator.WithObserver(slow),
		orchestrator.WithObserver(rec),
		orchestrator.WithObserver(journal),
	)
	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	id, err := orch.Submit(context.Background(), orchestrator.Request{
		InputPath:  input,
		OutputPath: filepath.Join(base, "out", "ordered.mkv"),
		Preset:     "Fast 1080p30",
	})
	if err != nil {
		t.Fatal(err)
	}
	if job := waitForTerminal(t, orch, id); job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	want := []queue.Status{queue.StatusQueued, queue.StatusRunning, queue.StatusCompleted}
	if got := waitForEvents(t, rec, id, len(want)); !slices.Equal(got, want) {
		t.Fatalf("observer saw %v, want %v", got, want)
	}
	row, ok, err := journal.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("journal Get = %v, %v", ok, err)
	}
	if row.Status != queue.StatusCompleted {
		t.Fatalf("journal row ended %s, want completed", row.Status)
	}
}

func TestCancelWhileQueuedIsAnnounced(t *testing.T) {
	h := newHarness(t, testsupport.EngineSlow)
	var cancelled bool
	h.orch.AddObserver(orchestrator.ObserverFunc(func(job queue.Job, prev, next queue.Status) {
		if prev == "" && next == queue.StatusQueued {
			ok, err := h.orch.Cancel(context.Background(), job.ID)
			cancelled = ok && err == nil
		}
	}))

	id := h.submit(t, "early-cancel")
	if !cancelled {
		t.Fatal("expected Cancel to accept a job that is still being announced")
	}
	job := waitForTerminal(t, h.orch, id)
	if job.Status != queue.StatusCancelled || job.StartedAt != nil {
		t.Fatalf("expected cancelled before running, got %s (started %v)", job.Status, job.StartedAt)
	}
	want := []queue.Status{queue.StatusQueued, queue.StatusCancelled}
	if got := waitForEvents(t, h.rec, id, len(want)); !slices.Equal(got, want) {
		t.Fatalf("observer saw %v, want %v", got, want)
	}
}
