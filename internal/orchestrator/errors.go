package orchestrator

import (
	"errors"
	"fmt"

	"spool/internal/services"
)

var (
	// ErrInvalidPreset reports a preset name the registry does not know.
	ErrInvalidPreset = fmt.Errorf("invalid preset: %w", services.ErrInvalidRequest)
	// ErrInvalidPath reports an unusable input or output path.
	ErrInvalidPath = fmt.Errorf("invalid path: %w", services.ErrInvalidRequest)
	// ErrQueueFull is returned when workers.queue_limit jobs are already waiting.
	ErrQueueFull = errors.New("queue full")
	// ErrStopped is returned once Shutdown has begun.
	ErrStopped = errors.New("orchestrator stopped")
)
