package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spool/internal/engine"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
)

// dispatch takes a slot, then hands the FIFO head to a new worker goroutine.
func (o *Orchestrator) dispatch() {
	defer close(o.dispatcherDone)
	for {
		select {
		case o.slots <- struct{}{}:
		case <-o.stop:
			return
		}
		id, ok := o.next()
		if !ok {
			<-o.slots
			return
		}
		o.workers.Add(1)
		go o.work(id)
	}
}

// next pops the FIFO head and marks it live. It blocks until a job is queued
// or the orchestrator stops.
func (o *Orchestrator) next() (string, bool) {
	for {
		o.mu.Lock()
		if o.stopping {
			o.mu.Unlock()
			return "", false
		}
		if el := o.pending.Front(); el != nil {
			id := o.pending.Remove(el).(string)
			delete(o.index, id)
			o.live[id] = &liveJob{}
			o.mu.Unlock()
			return id, true
		}
		o.mu.Unlock()

		select {
		case <-o.wake:
		case <-o.stop:
			return "", false
		}
	}
}

func (o *Orchestrator) work(id string) {
	defer o.workers.Done()
	defer func() { <-o.slots }()
	defer func() {
		o.mu.Lock()
		delete(o.live, id)
		o.mu.Unlock()
		// A slot just freed up; the dispatcher may be waiting on it.
		o.signal()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.failAfterPanic(id, r)
		}
	}()

	ctx := services.WithJobID(context.Background(), id)
	o.runJob(ctx, id)
}

// runJob spawns the encoder, streams its output into the store, and records
// the outcome once the process is gone.
func (o *Orchestrator) runJob(ctx context.Context, id string) {
	logger := logging.WithContext(ctx, o.logger)

	job, err := o.store.Get(id)
	if err != nil {
		logger.Warn("dispatched job vanished", logging.Error(err))
		return
	}

	o.mu.Lock()
	lj := o.live[id]
	stopBeforeStart := lj.stopRequested()
	o.mu.Unlock()
	if stopBeforeStart {
		if err := o.finishQueued(id, queue.StatusCancelled, ""); err != nil {
			logger.Debug("cancel before start", logging.Error(err))
		}
		return
	}

	var (
		parser   = o.parsers()
		sampler  = logging.NewProgressSampler(0.1)
		ready    = make(chan struct{})
		fatal    string
		lastDiag string
	)
	onLine := func(raw string) {
		<-ready
		line := parser.Parse(raw)
		switch line.Kind {
		case engine.LineProgress:
			changed, _ := o.store.UpdateProgress(id, line.Progress)
			if changed && sampler.ShouldLog(line.Progress, line.Pass) {
				attrs := []logging.Attr{logging.Progress(line.Progress)}
				if line.Passes > 1 {
					attrs = append(attrs, logging.Int("pass", line.Pass), logging.Int("passes", line.Passes))
				}
				logger.Info("encode progress", logging.Args(attrs...)...)
			}
		case engine.LineFatal:
			if fatal != "" {
				return
			}
			fatal = line.Text
			logger.Warn("fatal encoder output", logging.String("line", line.Text))
			o.requestFatalStop(id)
		case engine.LineDiagnostic:
			lastDiag = line.Text
			logger.Debug("encoder diagnostic", logging.String("line", line.Text))
		}
	}

	inv := engine.Invocation{
		Input:   job.InputPath,
		Output:  job.OutputPath,
		Preset:  job.Preset,
		Options: job.Options,
	}
	proc, err := o.launcher.Start(inv, onLine)
	if err != nil {
		close(ready)
		o.mu.Lock()
		cancelled := lj.cancelled
		o.mu.Unlock()
		o.recordSpawnFailure(logger, id, cancelled, err)
		return
	}

	prev, running, err := o.store.Transition(id, queue.StatusRunning, func(j *queue.Job) {
		j.PID = proc.PID()
	})
	close(ready)
	if err != nil {
		// Only reachable if the job was mutated behind the orchestrator's back.
		logger.Error("job could not enter running", logging.Error(err))
		o.terminate(id, proc)
		_, _ = proc.Wait()
		return
	}
	o.notify(running, prev, queue.StatusRunning)
	logger.Info("encode started",
		logging.String(logging.FieldPreset, running.Preset),
		logging.PID(proc.PID()),
	)

	o.mu.Lock()
	lj.proc = proc
	stopNow := lj.stopRequested()
	o.mu.Unlock()
	if stopNow {
		go o.terminate(id, proc)
	}

	code, waitErr := proc.Wait()

	o.mu.Lock()
	cancelled, shutdown := lj.cancelled, lj.shutdown
	o.mu.Unlock()

	to, reason := outcome(cancelled, shutdown, fatal, lastDiag, code, waitErr)
	prev, final, err := o.store.Transition(id, to, func(j *queue.Job) {
		j.Error = reason
		if code >= 0 {
			exit := code
			j.ExitCode = &exit
		}
	})
	if err != nil {
		logger.Error("record job outcome", logging.Error(err))
		return
	}
	o.notify(final, prev, to)
	o.logOutcome(logger, final, code)
}

// outcome decides the terminal status. Cancellation wins over shutdown, which
// wins over a fatal marker; otherwise the exit code decides.
func outcome(cancelled, shutdown bool, fatal, lastDiag string, code int, waitErr error) (queue.Status, string) {
	switch {
	case cancelled:
		return queue.StatusCancelled, ""
	case shutdown:
		return queue.StatusFailed, queue.ShutdownReason
	case fatal != "":
		return queue.StatusFailed, fatal
	case waitErr != nil:
		return queue.StatusFailed, waitErr.Error()
	case code == 0:
		return queue.StatusCompleted, ""
	case lastDiag != "":
		return queue.StatusFailed, lastDiag
	case code < 0:
		return queue.StatusFailed, "encoder terminated by signal"
	default:
		return queue.StatusFailed, fmt.Sprintf("encoder exited with status %d", code)
	}
}

func (o *Orchestrator) requestFatalStop(id string) {
	o.mu.Lock()
	lj, ok := o.live[id]
	if !ok || lj.fatal {
		o.mu.Unlock()
		return
	}
	lj.fatal = true
	proc := lj.proc
	o.mu.Unlock()
	// onLine runs on the output pump, which Terminate waits on.
	if proc != nil {
		go o.terminate(id, proc)
	}
}

// spawnFailureOutcome honours a Cancel that was accepted while the process
// was being started.
func spawnFailureOutcome(cancelled bool, err error) (queue.Status, string) {
	if cancelled {
		return queue.StatusCancelled, ""
	}
	return queue.StatusFailed, err.Error()
}

func (o *Orchestrator) recordSpawnFailure(logger *slog.Logger, id string, cancelled bool, err error) {
	to, reason := spawnFailureOutcome(cancelled, err)
	if ferr := o.finishQueued(id, to, reason); ferr != nil {
		logger.Error("record spawn failure", logging.Error(ferr))
		return
	}
	if to == queue.StatusCancelled {
		logger.Info("encode cancelled before the encoder started", logging.Error(err))
		return
	}
	logging.ErrorWithContext(logger, "encoder failed to start", "spawn_failed",
		logging.String(logging.FieldEngine, o.launcher.Binary),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.Error(err),
	)
}

func (o *Orchestrator) logOutcome(logger *slog.Logger, job queue.Job, code int) {
	attrs := []logging.Attr{
		logging.String(logging.FieldStatus, string(job.Status)),
		logging.Duration("elapsed", job.Duration(*job.FinishedAt)),
	}
	switch job.Status {
	case queue.StatusCompleted:
		logger.Info("encode completed", logging.Args(attrs...)...)
	case queue.StatusCancelled:
		logger.Info("encode cancelled", logging.Args(attrs...)...)
	default:
		attrs = append(attrs,
			logging.Int("exit_code", code),
			logging.String("reason", job.Error),
			logging.String(logging.FieldErrorHint, services.Hint(services.ErrEncodingFailure)),
		)
		logging.ErrorWithContext(logger, "encode failed", "job_failed", attrs...)
	}
}

func (o *Orchestrator) failAfterPanic(id string, r any) {
	reason := fmt.Sprintf("internal error: %v", r)
	var proc *engine.Process
	o.mu.Lock()
	if lj := o.live[id]; lj != nil {
		proc = lj.proc
	}
	o.mu.Unlock()
	if proc != nil {
		o.terminate(id, proc)
	}
	prev, job, err := o.store.Transition(id, queue.StatusFailed, func(j *queue.Job) {
		j.Error = reason
	})
	logging.ErrorWithContext(o.logger, "worker panicked", "worker_panic",
		logging.String(logging.FieldJobID, id),
		logging.Any("panic", r),
	)
	if err != nil {
		if !errors.Is(err, queue.ErrInvalidTransition) {
			o.logger.Debug("record panic outcome", logging.Error(err))
		}
		return
	}
	o.notify(job, prev, queue.StatusFailed)
}
