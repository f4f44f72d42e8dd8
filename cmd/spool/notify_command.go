package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"spool/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test event to every configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dispatcher := notifications.New(cfg, ctx.cliLogger(cfg))
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = dispatcher.Close(closeCtx)
			}()

			timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second * time.Duration(max(dispatcher.Sinks(), 1))
			testCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := dispatcher.Test(testCtx); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Test notification sent to %d sink(s)\n", dispatcher.Sinks())
			return nil
		},
	})
	return notifyCmd
}
