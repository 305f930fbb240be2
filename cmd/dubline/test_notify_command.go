package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dubline/internal/api"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Notifications are disabled (notifications.ntfy_topic is empty)")
				return nil
			}
			return ctx.withClient(func(client *api.Client) error {
				if err := client.TestNotification(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	}
}
