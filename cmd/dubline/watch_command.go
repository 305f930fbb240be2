package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubline/internal/api"
	"dubline/internal/jobs"
	"dubline/internal/progress"
)

const watchRetryDelay = 250 * time.Millisecond

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var useRelay bool

	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Stream job progress until it finishes",
		Long: "Stream progress events for a job from the daemon. With --relay, events are\n" +
			"read from the Redis relay instead, and the job id may be omitted to follow\n" +
			"every job.",
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID string
			if len(args) == 1 {
				jobID = strings.TrimSpace(args[0])
			}
			if useRelay {
				return watchRelay(cmd, ctx, jobID)
			}
			if jobID == "" {
				return errors.New("job id is required unless --relay is set")
			}
			return ctx.withClient(func(client *api.Client) error {
				return watchJob(cmd, client, jobID, 0)
			})
		},
	}
	cmd.Flags().BoolVar(&useRelay, "relay", false, "Read events from progress.redis_addr instead of the daemon API")
	return cmd
}

// watchJob streams events for run minRun or later. A stream that replays an
// earlier run's final event is reopened until the newer run shows up.
func watchJob(cmd *cobra.Command, client *api.Client, jobID string, minRun int) error {
	printer := newProgressPrinter(cmd.OutOrStdout(), false)
	defer printer.finish()
	for {
		var final progress.Event
		err := client.Events(cmd.Context(), jobID, func(evt progress.Event) error {
			if evt.Run < minRun {
				return nil
			}
			printer.print(evt)
			if evt.Final {
				final = evt
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !final.Final {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(watchRetryDelay):
				continue
			}
		}
		if final.Status != string(jobs.StatusCompleted) {
			return fmt.Errorf("%w: job %s %s", errJobFailed, jobID, final.Status)
		}
		return nil
	}
}

func watchRelay(cmd *cobra.Command, ctx *commandContext, jobID string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	relay := progress.NewRedisRelay(cfg)
	if relay == nil {
		return errors.New("progress.redis_addr is not configured")
	}
	defer relay.Close()

	events, err := relay.Follow(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	printer := newProgressPrinter(cmd.OutOrStdout(), jobID == "")
	defer printer.finish()
	for evt := range events {
		printer.print(evt)
	}
	return cmd.Context().Err()
}

// progressPrinter rewrites a single status line on terminals and prints one
// line per event otherwise.
type progressPrinter struct {
	out       io.Writer
	tty       bool
	withJobID bool
	lastLen   int
}

func newProgressPrinter(out io.Writer, withJobID bool) *progressPrinter {
	return &progressPrinter{out: out, tty: shouldColorize(out), withJobID: withJobID}
}

func (p *progressPrinter) print(evt progress.Event) {
	line := formatProgress(evt)
	if p.withJobID {
		line = evt.JobID + " " + line
	}
	if !p.tty || evt.Final {
		p.clear()
		fmt.Fprintln(p.out, line)
		return
	}
	pad := ""
	if n := p.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
	p.lastLen = len(line)
}

func (p *progressPrinter) clear() {
	if p.tty && p.lastLen > 0 {
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", p.lastLen))
		p.lastLen = 0
	}
}

func (p *progressPrinter) finish() {
	if p.tty && p.lastLen > 0 {
		fmt.Fprintln(p.out)
		p.lastLen = 0
	}
}

func formatProgress(evt progress.Event) string {
	var b strings.Builder
	switch {
	case evt.Final && evt.Status == string(jobs.StatusCompleted):
		b.WriteString("completed")
		if evt.Output != "" {
			b.WriteString(": " + evt.Output)
		}
		return b.String()
	case evt.Final:
		b.WriteString(evt.Status)
		if evt.Stage != "" {
			b.WriteString(" during " + evt.Stage)
		}
		if evt.Record != nil {
			fmt.Fprintf(&b, " (record %d)", *evt.Record)
		}
		if evt.Error != "" {
			b.WriteString(": " + evt.Error)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "[%5.1f%%]", evt.Percent)
	if evt.Stage != "" {
		b.WriteString(" " + evt.Stage)
	}
	if evt.Message != "" {
		b.WriteString(": " + evt.Message)
	}
	return b.String()
}
