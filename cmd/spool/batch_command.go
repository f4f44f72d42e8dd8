package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"spool/internal/orchestrator"
)

// batchManifest is the TOML file accepted by `spool batch`.
type batchManifest struct {
	DefaultPreset string       `toml:"default_preset"`
	Jobs          []batchEntry `toml:"jobs"`
}

type batchEntry struct {
	Input   string         `toml:"input"`
	Output  string         `toml:"output"`
	Preset  string         `toml:"preset"`
	Options map[string]any `toml:"options"`
}

// loadManifest reads path and resolves relative job paths against its
// directory.
func loadManifest(path string) (batchManifest, error) {
	var manifest batchManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest, fmt.Errorf("read manifest: %w", err)
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(manifest.Jobs) == 0 {
		return manifest, fmt.Errorf("manifest %s has no [[jobs]] entries", path)
	}
	base := filepath.Dir(path)
	for i := range manifest.Jobs {
		entry := &manifest.Jobs[i]
		if entry.Input != "" && !filepath.IsAbs(entry.Input) {
			entry.Input = filepath.Join(base, entry.Input)
		}
		if entry.Output != "" && !filepath.IsAbs(entry.Output) {
			entry.Output = filepath.Join(base, entry.Output)
		}
	}
	return manifest, nil
}

func (m batchManifest) requests() []orchestrator.Request {
	reqs := make([]orchestrator.Request, 0, len(m.Jobs))
	for _, entry := range m.Jobs {
		reqs = append(reqs, orchestrator.Request{
			InputPath:  entry.Input,
			OutputPath: entry.Output,
			Preset:     entry.Preset,
			Options:    entry.Options,
		})
	}
	return reqs
}

type batchResultView struct {
	Index int      `json:"index"`
	Input string   `json:"input"`
	JobID string   `json:"job_id,omitempty"`
	Error string   `json:"error,omitempty"`
	Job   *jobView `json:"job,omitempty"`
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "batch MANIFEST",
		Short: "Submit every job in a TOML manifest",
		Long: "Submit every [[jobs]] entry of MANIFEST. Entries are validated independently: " +
			"a rejected entry is reported and the rest still run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			d, err := ctx.oneShotDaemon(cmd)
			if err != nil {
				return err
			}
			defer stopOneShot(cmd, d, cfg.ShutdownTimeout())

			results := d.Orchestrator().BatchSubmit(signalCtx, manifest.requests(), manifest.DefaultPreset)
			views := make([]batchResultView, len(results))
			var ids []string
			rejected := 0
			for i, res := range results {
				views[i] = batchResultView{Index: res.Index, Input: manifest.Jobs[res.Index].Input, JobID: res.JobID}
				if res.Err != nil {
					views[i].Error = res.Err.Error()
					rejected++
					continue
				}
				ids = append(ids, res.JobID)
			}

			if len(ids) > 0 {
				jobs, err := waitForJobs(signalCtx, progressWriter(cmd, ctx), d.Orchestrator(), ids)
				if err != nil {
					return err
				}
				byID := make(map[string]jobView, len(jobs))
				for _, job := range jobs {
					byID[job.ID] = newJobView(job)
				}
				for i := range views {
					if view, ok := byID[views[i].JobID]; ok {
						views[i].Job = &view
						if view.Status != "completed" {
							rejected++
						}
					}
				}
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, views); err != nil {
					return err
				}
			} else {
				printf(cmd.OutOrStdout(), "%s\n", renderBatch(views))
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d batch entries did not complete", rejected, len(views))
			}
			return nil
		},
	}
}

func renderBatch(views []batchResultView) string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		status, detail := "rejected", v.Error
		if v.Job != nil {
			status, detail = v.Job.Status, v.Job.Error
		}
		rows = append(rows, []string{
			strconv.Itoa(v.Index + 1),
			filepath.Base(v.Input),
			shortID(v.JobID),
			status,
			detail,
		})
	}
	return renderTable([]column{
		{title: "#", right: true},
		{title: "Input", width: widthPath},
		{title: "Job"},
		{title: "Status"},
		{title: "Detail", width: widthError},
	}, rows)
}
