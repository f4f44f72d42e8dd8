package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"spool/internal/queue"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// jobView is the JSON shape of a job in CLI output.
type jobView struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Progress   float64        `json:"progress"`
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path"`
	Preset     string         `json:"preset"`
	Options    map[string]any `json:"options,omitempty"`
	Source     string         `json:"source,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	ExitCode   *int           `json:"exit_code,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func newJobView(job queue.Job) jobView {
	return jobView{
		ID:         job.ID,
		Status:     string(job.Status),
		Progress:   job.Progress,
		InputPath:  job.InputPath,
		OutputPath: job.OutputPath,
		Preset:     job.Preset,
		Options:    job.Options,
		Source:     job.Source,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		ExitCode:   job.ExitCode,
		Error:      job.Error,
	}
}

func jobViews(jobs []queue.Job) []jobView {
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	return views
}

func renderJobs(jobs []queue.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			string(job.Status),
			fmt.Sprintf("%.0f%%", job.Progress*100),
			job.Preset,
			filepath.Base(job.InputPath),
			formatElapsed(job),
			job.Error,
		})
	}
	return renderTable([]column{
		{title: "ID"},
		{title: "Status"},
		{title: "Progress", right: true},
		{title: "Preset"},
		{title: "Input", width: widthPath},
		{title: "Elapsed", right: true},
		{title: "Error", width: widthError},
	}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatElapsed(job queue.Job) string {
	if job.StartedAt == nil {
		return "-"
	}
	return job.Duration(time.Now()).Round(time.Second).String()
}

// progressBar renders a fixed-width bar for fraction in [0, 1].
func progressBar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// progressWriter keeps stdout clean for JSON consumers.
func progressWriter(cmd *cobra.Command, ctx *commandContext) io.Writer {
	if ctx.jsonOutput() {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}
