package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spool/internal/daemon"
	"spool/internal/logging"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the spool daemon in the foreground",
		Long: "Run the worker pool, watch folders, notifications, and history journal " +
			"until interrupted. SIGINT or SIGTERM triggers a graceful shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if ctx.configPath != "" {
		logger.Info("configuration loaded", logging.String("path", ctx.configPath))
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("spool daemon shutting down",
		logging.Duration("timeout", cfg.ShutdownTimeout()),
	)

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer stop()
	if err := d.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown incomplete: %v\n", err)
		return err
	}
	return nil
}
