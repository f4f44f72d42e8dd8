package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
)

// prepare resolves the preset and paths of req. The output directory is
// created when missing.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (queue.CreateRequest, error) {
	preset, err := o.resolvePreset(ctx, req.Preset)
	if err != nil {
		return queue.CreateRequest{}, err
	}
	input, err := checkInput(req.InputPath)
	if err != nil {
		return queue.CreateRequest{}, err
	}
	output, err := checkOutput(req.OutputPath, input)
	if err != nil {
		return queue.CreateRequest{}, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "api"
	}
	return queue.CreateRequest{
		InputPath:  input,
		OutputPath: output,
		Preset:     preset,
		Options:    req.Options,
		Source:     source,
	}, nil
}

func (o *Orchestrator) resolvePreset(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = o.defaultPreset
	}
	if name == "" {
		return "", fmt.Errorf("%w: no preset given and engine.default_preset is empty", ErrInvalidPreset)
	}
	if !o.registry.Loaded() {
		if _, err := o.registry.Refresh(ctx); err != nil {
			logging.WarnWithContext(o.logger, "preset discovery failed", "preset_discovery_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "only static presets can be validated"),
			)
		}
	}
	if !o.registry.Validate(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPreset, name)
	}
	return name, nil
}

func checkInput(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: input path required", ErrInvalidPath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve input %q: %v", ErrInvalidPath, path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: input %q: %v", ErrInvalidPath, abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: input %q is not a regular file", ErrInvalidPath, abs)
	}
	return abs, nil
}

func checkOutput(path, input string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: output path required", ErrInvalidPath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve output %q: %v", ErrInvalidPath, path, err)
	}
	if abs == input {
		return "", fmt.Errorf("%w: output %q would overwrite the input", ErrInvalidPath, abs)
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return "", fmt.Errorf("%w: output %q is a directory", ErrInvalidPath, abs)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output directory %q: %v", ErrInvalidPath, dir, err)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return "", fmt.Errorf("%w: output directory %q is not writable: %v", ErrInvalidPath, dir, err)
	}
	return abs, nil
}
