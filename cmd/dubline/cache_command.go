package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dubline/internal/api"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the daemon's cached engine handles",
	}

	var jsonOut bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List cached engine handles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Cache(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				if !status.Enabled {
					fmt.Fprintln(out, "Service cache is disabled (engines.cache_enabled = false)")
					return nil
				}
				if len(status.Entries) == 0 {
					fmt.Fprintln(out, "Service cache is empty")
					return nil
				}
				rows := make([][]string, 0, len(status.Entries))
				for _, entry := range status.Entries {
					rows = append(rows, []string{
						string(entry.Kind),
						entry.Engine,
						entry.Model,
						entry.Device,
						formatBytes(entry.MemoryBytes),
						entry.LastUsed.Local().Format(time.DateTime),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Kind", "Engine", "Model", "Device", "Memory", "Last used"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "\nTotal resident: %s\n", formatBytes(status.TotalMemoryBytes))
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&jsonOut, "json", false, "Print cache status as JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Release every cached engine handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				removed, err := client.ClearCache(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d cached handles\n", removed)
				return nil
			})
		},
	}

	cacheCmd.AddCommand(statusCmd, clearCmd)
	return cacheCmd
}
