package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"spool/internal/engine"
	"spool/internal/services"
	"spool/internal/testsupport"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestLauncherStreamsMergedOutputAndExitCode(t *testing.T) {
	dir := t.TempDir()
	binary := testsupport.WriteScript(t, filepath.Join(dir, "encoder"), `echo "args: $*"
printf 'Encoding: 10 %%\rEncoding: 20 %%\r'
echo "to stderr" 1>&2
exit 3`)

	rec := &lineRecorder{}
	launcher := engine.Launcher{Binary: binary}
	proc, err := launcher.Start(engine.Invocation{Input: "/in/a.mp4", Output: "/out/a.mkv", Preset: "Fast 1080p30"}, rec.add)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if proc.PID() <= 0 {
		t.Fatalf("expected pid, got %d", proc.PID())
	}
	code, err := proc.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	if proc.State() != engine.StateGone {
		t.Fatalf("expected gone after wait, got %s", proc.State())
	}

	lines := rec.snapshot()
	want := []string{
		"args: --input /in/a.mp4 --output /out/a.mkv --preset Fast 1080p30",
		"Encoding: 10 %",
		"Encoding: 20 %",
		"to stderr",
	}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected lines:\n got %q\nwant %q", lines, want)
	}
}

func TestLauncherSpawnFailure(t *testing.T) {
	launcher := engine.Launcher{Binary: filepath.Join(t.TempDir(), "missing")}
	_, err := launcher.Start(engine.Invocation{Input: "i", Output: "o", Preset: "p"}, nil)
	if !errors.Is(err, services.ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure, got %v", err)
	}
	if _, err := (engine.Launcher{}).Start(engine.Invocation{}, nil); !errors.Is(err, services.ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure for empty binary, got %v", err)
	}
}

func TestTerminateStopsCooperativeProcess(t *testing.T) {
	binary := testsupport.WriteScript(t, filepath.Join(t.TempDir(), "encoder"), "echo started\nsleep 30")
	started := make(chan struct{}, 1)
	proc, err := engine.Launcher{Binary: binary}.Start(engine.Invocation{}, func(string) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	begin := time.Now()
	if err := proc.Terminate(5 * time.Second); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Fatalf("SIGTERM should stop the process quickly, took %s", elapsed)
	}
	if code, _ := proc.Wait(); code != -1 {
		t.Fatalf("expected signal exit code -1, got %d", code)
	}
	// Second call is a no-op.
	if err := proc.Terminate(time.Second); err != nil {
		t.Fatalf("repeat Terminate failed: %v", err)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	binary := testsupport.WriteScript(t, filepath.Join(t.TempDir(), "encoder"), testsupport.EngineIgnoresTerm)
	started := make(chan struct{}, 1)
	proc, err := engine.Launcher{Binary: binary}.Start(engine.Invocation{}, func(string) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	begin := time.Now()
	if err := proc.Terminate(300 * time.Millisecond); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	elapsed := time.Since(begin)
	if elapsed < 300*time.Millisecond {
		t.Fatalf("expected grace period to elapse before kill, took %s", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("kill took too long: %s", elapsed)
	}
	select {
	case <-proc.Done():
	default:
		t.Fatal("expected process to be gone after Terminate")
	}
}

func TestRunCollectsOutput(t *testing.T) {
	binary := testsupport.WriteStubEngine(t, t.TempDir(), "exit 0")
	out, code, err := engine.Run(context.Background(), binary, []string{"--preset-list"}, 5*time.Second)
	if err != nil || code != 0 {
		t.Fatalf("Run failed: code=%d err=%v", code, err)
	}
	if !strings.Contains(out, "Fast 1080p30") {
		t.Fatalf("expected preset listing in output, got %q", out)
	}
}

func TestRunTimesOut(t *testing.T) {
	binary := testsupport.WriteScript(t, filepath.Join(t.TempDir(), "encoder"), "sleep 30")
	_, _, err := engine.Run(context.Background(), binary, nil, 200*time.Millisecond)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
