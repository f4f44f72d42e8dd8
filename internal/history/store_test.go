package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spool/internal/history"
	"spool/internal/logging"
	"spool/internal/queue"
)

func openJournal(t *testing.T, path string, retention time.Duration, opts ...history.Option) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), path, retention, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleJob(id string, status queue.Status, created time.Time) queue.Job {
	return queue.Job{
		ID:         id,
		InputPath:  "/in/" + id + ".mp4",
		OutputPath: "/out/" + id + ".mkv",
		Preset:     "Fast 1080p30",
		Source:     "api",
		Status:     status,
		CreatedAt:  created,
	}
}

func TestTransitionsUpsertSingleRow(t *testing.T) {
	store := openJournal(t, filepath.Join(t.TempDir(), "history.db"), 0)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := sampleJob("a", queue.StatusQueued, created)
	job.Options = map[string]any{"quality": 20, "two_pass": true}
	store.OnTransition(job, "", queue.StatusQueued)

	started := created.Add(time.Second)
	job.Status = queue.StatusRunning
	job.StartedAt = &started
	store.OnTransition(job, queue.StatusQueued, queue.StatusRunning)

	finished := started.Add(time.Minute)
	code := 0
	job.Status = queue.StatusCompleted
	job.Progress = 1
	job.FinishedAt = &finished
	job.ExitCode = &code
	store.OnTransition(job, queue.StatusRunning, queue.StatusCompleted)

	jobs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(jobs))
	}
	got := jobs[0]
	if got.Status != queue.StatusCompleted || got.Progress != 1 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", got.ExitCode)
	}
	if !got.CreatedAt.Equal(created) || got.StartedAt == nil || !got.StartedAt.Equal(started) || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("timestamps not preserved: %+v", got)
	}
	if got.Options["quality"] != float64(20) || got.Options["two_pass"] != true {
		t.Fatalf("options not preserved: %+v", got.Options)
	}
	if got.Source != "api" {
		t.Fatalf("unexpected source %q", got.Source)
	}
}

func TestTerminalRowIgnoresLateSnapshot(t *testing.T) {
	store := openJournal(t, filepath.Join(t.TempDir(), "history.db"), 0)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	finished := created.Add(time.Minute)
	code := 0
	done := sampleJob("late", queue.StatusCompleted, created)
	done.Progress = 1
	done.FinishedAt = &finished
	done.ExitCode = &code
	if err := store.Record(ctx, done); err != nil {
		t.Fatal(err)
	}

	// The queued transition can reach the journal after the job finished.
	if err := store.Record(ctx, sampleJob("late", queue.StatusQueued, created)); err != nil {
		t.Fatalf("late Record failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "late")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Status != queue.StatusCompleted || got.Progress != 1 || got.FinishedAt == nil {
		t.Fatalf("terminal row moved backwards: %+v", got)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openJournal(t, filepath.Join(t.TempDir(), "history.db"), 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Sub-second offsets guard against lexical misordering of timestamps.
	offsets := []time.Duration{0, 500 * time.Millisecond, 2 * time.Second, time.Second}
	for i, off := range offsets {
		job := sampleJob(string(rune('a'+i)), queue.StatusCompleted, base.Add(off))
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	jobs, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "d" || ids[2] != "b" {
		t.Fatalf("unexpected order %v", ids)
	}

	all, err := store.Recent(ctx, 0)
	if err != nil || len(all) != 4 {
		t.Fatalf("expected all 4 rows, got %d (%v)", len(all), err)
	}
}

func TestReopenMarksUnfinishedJobsFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	created := time.Now().UTC()

	first, err := history.Open(ctx, path, 0, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for _, job := range []queue.Job{
		sampleJob("queued", queue.StatusQueued, created),
		sampleJob("running", queue.StatusRunning, created),
		sampleJob("done", queue.StatusCompleted, created),
	} {
		if err := first.Record(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := openJournal(t, path, 0)
	for _, id := range []string{"queued", "running"} {
		job, ok, err := second.Get(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Get(%s) = %v, %v", id, ok, err)
		}
		if job.Status != queue.StatusFailed || job.Error != queue.RestartReason || job.FinishedAt == nil {
			t.Fatalf("%s not reconciled: %+v", id, job)
		}
	}
	done, ok, err := second.Get(ctx, "done")
	if err != nil || !ok || done.Status != queue.StatusCompleted || done.Error != "" {
		t.Fatalf("completed row changed: %+v (%v)", done, err)
	}
	if _, ok, err := second.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing row, got ok=%v err=%v", ok, err)
	}
}

func TestRetentionPrunesOldFinishedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := history.WithClock(func() time.Time { return now })

	first, err := history.Open(ctx, path, 0, logging.NewNop(), clock)
	if err != nil {
		t.Fatal(err)
	}
	for _, job := range []queue.Job{
		sampleJob("old", queue.StatusCompleted, now.Add(-40*24*time.Hour)),
		sampleJob("recent", queue.StatusFailed, now.Add(-time.Hour)),
	} {
		if err := first.Record(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	_ = first.Close()

	second := openJournal(t, path, 30*24*time.Hour, clock)
	jobs, err := second.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != "recent" {
		t.Fatalf("unexpected rows after prune: %+v", jobs)
	}
}

func TestConcurrentRecords(t *testing.T) {
	store := openJournal(t, filepath.Join(t.TempDir(), "history.db"), 0)
	created := time.Now().UTC()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := sampleJob(string(rune('a'+i)), queue.StatusQueued, created)
			store.OnTransition(job, "", queue.StatusQueued)
		}(i)
	}
	wg.Wait()
	jobs, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(jobs))
	}
}

func TestOpenRejectsForeignSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(context.Background(), path, 0, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.BumpSchemaVersionForTest(); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	_, err = history.Open(context.Background(), path, 0, logging.NewNop())
	if !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReadOnlyOpenLeavesLiveRowsAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	owner := openJournal(t, path, 0)
	if err := owner.Record(ctx, sampleJob("live", queue.StatusRunning, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	reader := openJournal(t, path, 0, history.ReadOnly())
	job, ok, err := reader.Get(ctx, "live")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if job.Status != queue.StatusRunning {
		t.Fatalf("read-only open reconciled a live row: %+v", job)
	}
}
