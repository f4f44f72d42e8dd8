package watchfolder

import (
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"spool/internal/config"
)

// Post policies applied to an input after its job completes.
const (
	PolicyKeep   = "keep"
	PolicyMove   = "move"
	PolicyDelete = "delete"
)

const defaultDebounce = 2 * time.Second

var partialSuffixes = []string{".part", ".tmp", ".crdownload", ".partial", ".download"}

// Rule describes one watched directory.
type Rule struct {
	Directory       string
	Patterns        []string
	Recursive       bool
	Preset          string
	Options         map[string]any
	PostPolicy      string
	ProcessedDir    string
	OutputDir       string
	OutputSuffix    string
	OutputExtension string
	ScanExisting    bool
	Debounce        time.Duration
}

// RulesFromConfig converts the [[watch]] tables of a loaded config.
func RulesFromConfig(rules []config.WatchRule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Rule{
			Directory:       r.Directory,
			Patterns:        append([]string(nil), r.Patterns...),
			Recursive:       r.Recursive,
			Preset:          r.Preset,
			Options:         maps.Clone(r.Options),
			PostPolicy:      r.PostPolicy,
			ProcessedDir:    r.ProcessedDir,
			OutputDir:       r.OutputDir,
			OutputSuffix:    r.OutputSuffix,
			OutputExtension: r.OutputExtension,
			ScanExisting:    r.ScanExisting,
			Debounce:        r.Debounce(),
		})
	}
	return out
}

// Source is the job source label for files from this rule.
func (r *Rule) Source() string {
	return "watch:" + r.Directory
}

func (r *Rule) normalize() error {
	dir := strings.TrimSpace(r.Directory)
	if dir == "" {
		return fmt.Errorf("watch directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve watch directory %q: %w", dir, err)
	}
	r.Directory = abs
	if len(r.Patterns) == 0 {
		r.Patterns = []string{"*.mp4", "*.mkv", "*.avi", "*.mov", "*.m4v"}
	}
	for _, pattern := range r.Patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid pattern %q for %s", pattern, abs)
		}
	}
	r.PostPolicy = strings.ToLower(strings.TrimSpace(r.PostPolicy))
	switch r.PostPolicy {
	case "":
		r.PostPolicy = PolicyKeep
	case PolicyKeep, PolicyDelete:
	case PolicyMove:
		if strings.TrimSpace(r.ProcessedDir) == "" {
			return fmt.Errorf("post policy move needs a processed directory for %s", abs)
		}
	default:
		return fmt.Errorf("unknown post policy %q for %s", r.PostPolicy, abs)
	}
	if r.ProcessedDir != "" {
		if r.ProcessedDir, err = filepath.Abs(r.ProcessedDir); err != nil {
			return fmt.Errorf("resolve processed directory: %w", err)
		}
	}
	if r.OutputDir != "" {
		if r.OutputDir, err = filepath.Abs(r.OutputDir); err != nil {
			return fmt.Errorf("resolve output directory: %w", err)
		}
	}
	if r.OutputSuffix == "" {
		r.OutputSuffix = "_converted"
	}
	if r.OutputExtension == "" {
		r.OutputExtension = ".mkv"
	}
	if !strings.HasPrefix(r.OutputExtension, ".") {
		r.OutputExtension = "." + r.OutputExtension
	}
	if r.Debounce <= 0 {
		r.Debounce = defaultDebounce
	}
	return nil
}

// relative returns path relative to the rule directory when the rule covers
// it.
func (r *Rule) relative(path string) (string, bool) {
	rel, err := filepath.Rel(r.Directory, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if !r.Recursive && filepath.Dir(rel) != "." {
		return "", false
	}
	return rel, true
}

// matches reports whether a file at rel (relative to the rule directory)
// should be ingested.
func (r *Rule) matches(rel string) bool {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return false
	}
	lower := strings.ToLower(base)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if r.OutputSuffix != "" && strings.HasSuffix(stem, r.OutputSuffix) {
		return false
	}
	for _, pattern := range r.Patterns {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			return true
		}
	}
	return false
}

// outputFor derives the encode destination for an input file.
func (r *Rule) outputFor(path, rel string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + r.OutputSuffix + r.OutputExtension
	if r.OutputDir == "" {
		return filepath.Join(filepath.Dir(path), name)
	}
	return filepath.Join(r.OutputDir, filepath.Dir(rel), name)
}

// underProcessed reports whether path lives inside the processed directory.
func (r *Rule) underProcessed(path string) bool {
	if r.ProcessedDir == "" {
		return false
	}
	rel, err := filepath.Rel(r.ProcessedDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}
