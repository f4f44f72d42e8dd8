package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"spool/internal/history"
	"spool/internal/logging"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently recorded jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (set [history] enabled = true)")
			}
			path := cfg.HistoryPath()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				printf(cmd.OutOrStdout(), "No history recorded yet (%s)\n", path)
				return nil
			}

			// A running daemon owns reconciliation; readers never rewrite rows.
			journal, err := history.Open(cmd.Context(), path, 0, logging.NewNop(), history.ReadOnly())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer journal.Close()

			jobs, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, jobViews(jobs))
			}
			if len(jobs) == 0 {
				printf(cmd.OutOrStdout(), "No history recorded yet (%s)\n", path)
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				finished := "-"
				if job.FinishedAt != nil {
					finished = job.FinishedAt.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{
					shortID(job.ID),
					string(job.Status),
					job.Preset,
					job.InputPath,
					finished,
					job.Error,
				})
			}
			printf(cmd.OutOrStdout(), "%s\n", renderTable([]column{
				{title: "ID"},
				{title: "Status"},
				{title: "Preset"},
				{title: "Input", width: widthPath},
				{title: "Finished"},
				{title: "Error", width: widthError},
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show (0 for all)")
	return cmd
}
