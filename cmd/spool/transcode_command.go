package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"spool/internal/daemon"
	"spool/internal/orchestrator"
)

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var preset string
	var optionFlags []string

	cmd := &cobra.Command{
		Use:   "transcode INPUT OUTPUT",
		Short: "Encode one file and wait for it to finish",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := parseOptions(optionFlags)
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

			id, err := d.Orchestrator().Submit(signalCtx, orchestrator.Request{
				InputPath:  args[0],
				OutputPath: args[1],
				Preset:     preset,
				Options:    options,
				Source:     "cli",
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !ctx.jsonOutput() {
				printf(out, "queued %s\n", id)
			}
			jobs, err := waitForJobs(signalCtx, progressWriter(cmd, ctx), d.Orchestrator(), []string{id})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, newJobView(jobs[0])); err != nil {
					return err
				}
			} else {
				printf(out, "%s\n", renderJobs(jobs))
			}
			return failedJobsError(jobs)
		},
	}

	cmd.Flags().StringVarP(&preset, "preset", "p", "", "Encoder preset (defaults to engine.default_preset)")
	cmd.Flags().StringArrayVarP(&optionFlags, "option", "o", nil, "Encoder option as key=value (repeatable)")
	return cmd
}

// stopOneShot shuts down an in-process daemon. A failed stop is reported but
// does not replace the command's own result.
func stopOneShot(cmd *cobra.Command, d *daemon.Daemon, timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Stop(shutdownCtx); err != nil {
		printf(cmd.ErrOrStderr(), "warning: shutdown: %v\n", err)
	}
}
