package main

import (
	"time"

	"github.com/spf13/cobra"

	"spool/internal/logging"
	"spool/internal/presets"
)

type presetView struct {
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description,omitempty"`
	Defaults    map[string]string `json:"defaults,omitempty"`
}

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the presets the encoder reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry := presets.NewRegistry(
				presets.EngineLister{
					Binary:  cfg.Engine.Binary,
					Args:    cfg.Engine.ListPresetsArgs,
					Timeout: time.Duration(cfg.Engine.ListTimeoutSeconds) * time.Second,
				},
				presets.WithStatic(cfg.Engine.StaticPresets...),
				presets.WithLogger(logging.NewNop()),
			)
			// Static presets are still listed when discovery fails.
			_, refreshErr := registry.Refresh(cmd.Context())
			list := registry.List()
			if refreshErr != nil && len(list) == 0 {
				return refreshErr
			}

			if ctx.jsonOutput() {
				views := make([]presetView, 0, len(list))
				for _, p := range list {
					views = append(views, presetView{Name: p.Name, Category: p.Category, Description: p.Description, Defaults: p.Defaults})
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if refreshErr != nil {
				printf(cmd.ErrOrStderr(), "warning: preset discovery failed: %v\n", refreshErr)
			}
			rows := make([][]string, 0, len(list))
			for _, p := range list {
				marker := ""
				if p.Name == cfg.Engine.DefaultPreset {
					marker = "*"
				}
				rows = append(rows, []string{marker, p.Category, p.Name, p.Description})
			}
			printf(out, "%s\n", renderTable([]column{
				{title: ""},
				{title: "Category"},
				{title: "Name"},
				{title: "Description", width: widthError},
			}, rows))
			printf(out, "%d presets (* default)\n", len(list))
			return nil
		},
	}
}
