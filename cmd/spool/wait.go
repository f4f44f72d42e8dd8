package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"spool/internal/orchestrator"
	"spool/internal/queue"
)

const pollInterval = 200 * time.Millisecond

// waitForJobs blocks until every job in ids is terminal. When ctx ends first
// the remaining jobs are cancelled and ctx's error is returned. On a terminal
// a single progress line is redrawn; otherwise one line is printed per
// finished job.
func waitForJobs(ctx context.Context, out io.Writer, orch *orchestrator.Orchestrator, ids []string) ([]queue.Job, error) {
	tty := isTerminal(out)
	finished := make(map[string]queue.Job, len(ids))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var running []queue.Job
		for _, id := range ids {
			if _, done := finished[id]; done {
				continue
			}
			job, err := orch.Status(id)
			if err != nil {
				return nil, err
			}
			if job.Status.Terminal() {
				finished[id] = job
				if tty {
					fmt.Fprint(out, "\r\033[K")
				}
				fmt.Fprintf(out, "%s %s %s\n", shortID(job.ID), job.Status, filepath.Base(job.InputPath))
				continue
			}
			running = append(running, job)
		}
		if len(finished) == len(ids) {
			break
		}
		if tty && len(running) > 0 {
			job := running[0]
			fmt.Fprintf(out, "\r\033[K%s %s %5.1f%% %s (%d/%d done)",
				progressBar(job.Progress, 30), shortID(job.ID), job.Progress*100,
				filepath.Base(job.InputPath), len(finished), len(ids))
		}

		select {
		case <-ctx.Done():
			if tty {
				fmt.Fprintln(out)
			}
			for _, job := range running {
				_, _ = orch.Cancel(context.Background(), job.ID)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	jobs := make([]queue.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, finished[id])
	}
	return jobs, nil
}

// failedJobsError summarizes jobs that did not complete.
func failedJobsError(jobs []queue.Job) error {
	var errs []error
	for _, job := range jobs {
		if job.Status == queue.StatusCompleted {
			continue
		}
		reason := job.Error
		if reason == "" {
			reason = string(job.Status)
		}
		errs = append(errs, fmt.Errorf("%s (%s): %s", filepath.Base(job.InputPath), shortID(job.ID), reason))
	}
	return errors.Join(errs...)
}
