package orchestrator

import (
	"errors"
	"testing"

	"spool/internal/queue"
)

func TestOutcomePrecedence(t *testing.T) {
	waitErr := errors.New("wait: broken pipe")
	tests := []struct {
		name       string
		cancelled  bool
		shutdown   bool
		fatal      string
		lastDiag   string
		code       int
		waitErr    error
		wantStatus queue.Status
		wantReason string
	}{
		{name: "cancel beats everything", cancelled: true, shutdown: true, fatal: "ERROR: x", code: 1, wantStatus: queue.StatusCancelled},
		{name: "shutdown beats fatal", shutdown: true, fatal: "ERROR: x", code: -1, wantStatus: queue.StatusFailed, wantReason: queue.ShutdownReason},
		{name: "fatal beats exit zero", fatal: "ERROR: x", code: 0, wantStatus: queue.StatusFailed, wantReason: "ERROR: x"},
		{name: "wait error", waitErr: waitErr, code: 0, wantStatus: queue.StatusFailed, wantReason: waitErr.Error()},
		{name: "clean exit", code: 0, lastDiag: "noise", wantStatus: queue.StatusCompleted},
		{name: "diagnostic", code: 2, lastDiag: "x264 [error]: nope", wantStatus: queue.StatusFailed, wantReason: "x264 [error]: nope"},
		{name: "signal", code: -1, wantStatus: queue.StatusFailed, wantReason: "encoder terminated by signal"},
		{name: "exit code", code: 3, wantStatus: queue.StatusFailed, wantReason: "encoder exited with status 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := outcome(tt.cancelled, tt.shutdown, tt.fatal, tt.lastDiag, tt.code, tt.waitErr)
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Fatalf("outcome = %s %q, want %s %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestSpawnFailureHonoursCancel(t *testing.T) {
	err := errors.New("exec: \"HandBrakeCLI\": executable file not found in $PATH")
	if status, reason := spawnFailureOutcome(true, err); status != queue.StatusCancelled || reason != "" {
		t.Fatalf("cancelled spawn failure = %s %q, want cancelled", status, reason)
	}
	if status, reason := spawnFailureOutcome(false, err); status != queue.StatusFailed || reason != err.Error() {
		t.Fatalf("spawn failure = %s %q, want failed with the spawn error", status, reason)
	}
}
