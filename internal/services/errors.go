package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrSpawnFailure    = errors.New("spawn failure")
	ErrEncodingFailure = errors.New("encoding failure")
	ErrNotification    = errors.New("notification failure")
	ErrConfiguration   = errors.New("configuration error")
	ErrExternalTool    = errors.New("external tool error")
	ErrTimeout         = errors.New("timeout")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification with errors.Is. The
// marker should be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Hint returns a short operator-facing next step for an error, used as the
// error_hint log field.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "check the input path, output directory, and preset name"
	case errors.Is(err, ErrSpawnFailure):
		return "verify engine.binary points to an executable transcoder"
	case errors.Is(err, ErrEncodingFailure):
		return "inspect the encoder output captured in the job error"
	case errors.Is(err, ErrNotification):
		return "check notification endpoints and credentials"
	case errors.Is(err, ErrConfiguration):
		return "review the spool config file"
	case errors.Is(err, ErrTimeout):
		return "the operation exceeded its deadline; retry or raise the timeout"
	default:
		return "check logs for details"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
