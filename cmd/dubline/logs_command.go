package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubline/internal/api"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var jobID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				query := api.LogQuery{
					Limit:  lines,
					Tail:   true,
					Follow: false,
					JobID:  strings.TrimSpace(jobID),
				}
				if query.Limit <= 0 {
					query.Limit = 200
				}
				out := cmd.OutOrStdout()
				printed := false
				for {
					resp, err := client.Logs(cmd.Context(), query)
					if err != nil {
						if follow && cmd.Context().Err() != nil {
							return nil
						}
						return fmt.Errorf("fetch logs: %w", err)
					}
					for _, evt := range resp.Events {
						fmt.Fprintln(out, formatLogEvent(evt))
						printed = true
					}
					if !follow {
						if !printed {
							fmt.Fprintln(out, "No log entries available")
						}
						return nil
					}
					query.Since = resp.Next
					query.Tail = false
					query.Follow = true
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent entries to show")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show entries for this job")
	return cmd
}

func formatLogEvent(evt api.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format(time.DateTime))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(evt.Level))
	b.WriteByte(' ')
	if evt.Component != "" {
		b.WriteString(evt.Component)
		b.WriteString(": ")
	}
	b.WriteString(evt.Message)
	if evt.JobID != "" {
		b.WriteString(" job_id=" + evt.JobID)
	}
	if evt.Stage != "" {
		b.WriteString(" stage=" + evt.Stage)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := evt.Fields[key]
		if strings.ContainsAny(value, " \t\"") {
			value = fmt.Sprintf("%q", value)
		}
		fmt.Fprintf(&b, " %s=%s", key, value)
	}
	return b.String()
}
