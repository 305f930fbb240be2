package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubline/internal/api"
	"dubline/internal/deps"
	"dubline/internal/jobs"
	"dubline/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker, and job status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	return cmd
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	printSection(out, "Daemon", colorize)
	runningKind := statusOK
	runningDetail := fmt.Sprintf("pid %d", status.PID)
	if !status.Running || !status.Workflow.Running {
		runningKind = statusWarn
		runningDetail = "not running"
	}
	fmt.Fprintln(out, renderStatusLine("Running", runningKind, runningDetail, colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Staging", statusInfo,
		fmt.Sprintf("%d work directories, %s", status.Staging.Directories, formatBytes(status.Staging.Bytes)), colorize))
	fmt.Fprintln(out)

	printSection(out, "Workers", colorize)
	wf := status.Workflow
	fmt.Fprintln(out, renderStatusLine("Pool", statusInfo,
		fmt.Sprintf("%d active of %d, %d queued, %d finished", len(wf.Active), wf.Workers, len(wf.Queued), wf.Finished), colorize))
	for _, active := range wf.Active {
		fmt.Fprintln(out, renderStatusLine(active.JobID, statusInfo,
			fmt.Sprintf("%s run, %s elapsed", active.Mode, active.Elapsed.Round(time.Second)), colorize))
	}
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, fmt.Sprintf("%s (%s)", wf.LastError, wf.LastJob), colorize))
	}
	fmt.Fprintln(out)

	printSection(out, "Dependencies", colorize)
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	printSection(out, "Cache", colorize)
	cacheDetail := "disabled"
	if status.Cache.Enabled {
		cacheDetail = fmt.Sprintf("%d handles, %s resident", len(status.Cache.Entries), formatBytes(status.Cache.TotalMemoryBytes))
	}
	fmt.Fprintln(out, renderStatusLine("Services", statusInfo, cacheDetail, colorize))
	fmt.Fprintln(out)

	printSection(out, "Jobs", colorize)
	rows := buildJobStatusRows(wf.JobStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No jobs")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func buildJobStatusRows(stats map[jobs.Status]int) [][]string {
	order := []jobs.Status{jobs.StatusUploaded, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled}
	rows := make([][]string, 0, len(stats))
	for _, status := range order {
		if count := stats[status]; count > 0 {
			rows = append(rows, []string{string(status), fmt.Sprintf("%d", count)})
		}
	}
	return rows
}

func dependencyLines(statuses []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+1)
	var missing []string
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		if !slices.Contains(missing, dep.Name) {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check local binaries, directories, and engine services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			statuses := preflight.CheckSystemDeps(cfg)
			printSection(out, "Binaries", colorize)
			for _, line := range dependencyLines(api.FromDependencies(statuses), colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			printSection(out, "Environment", colorize)
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			if failed := len(deps.Missing(statuses)) + len(preflight.Failed(results)); failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}
