package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubline/internal/api"
	"dubline/internal/jobs"
	"dubline/internal/storage"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var cfg jobs.Config
	var backgroundVolume float64
	var watch bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <input>",
		Short: "Submit a video for dubbing",
		Long: "Submit a local video file or an s3:// object for dubbing. Local paths must be\n" +
			"readable by the daemon; they are copied into its staging area.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.TrimSpace(args[0])
			if !storage.IsRemote(input) {
				abs, err := filepath.Abs(input)
				if err != nil {
					return fmt.Errorf("resolve input path: %w", err)
				}
				input = abs
			}
			if cmd.Flags().Changed("background-volume") {
				cfg.BackgroundVolume = &backgroundVolume
			}
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Submit(cmd.Context(), api.SubmitRequest{Input: input, Config: cfg})
				if err != nil {
					return err
				}
				if jsonOut {
					if err := writeJSON(cmd, job); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s submitted (%s → %s, queue position %d)\n",
						job.ID, languageLabel(job.SourceName, job.Config.SourceLanguage), languageLabel(job.TargetName, job.Config.TargetLanguage), job.QueuePosition)
				}
				if !watch {
					return nil
				}
				return watchJob(cmd, client, job.ID, 1)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.TargetLanguage, "target", "t", "", "Target language (BCP-47 tag or name)")
	flags.StringVarP(&cfg.SourceLanguage, "source", "s", "auto", "Source language, or auto to detect")
	flags.StringVar(&cfg.Recognition, "recognition", "", "Recognition engine override")
	flags.StringVar(&cfg.Translation, "translation", "", "Translation engine override")
	flags.StringVar(&cfg.Synthesis, "synthesis", "", "Synthesis engine override")
	flags.StringVar(&cfg.Model, "model", "", "Recognition model override")
	flags.StringVar(&cfg.Device, "device", "", "Compute device (cpu or cuda)")
	flags.BoolVar(&cfg.VAD, "vad", false, "Enable voice activity detection during recognition")
	flags.Float64Var(&backgroundVolume, "background-volume", 1, "Background track gain in the final mix (0-2)")
	flags.BoolVarP(&watch, "watch", "w", false, "Stream progress until the job finishes")
	flags.BoolVar(&jsonOut, "json", false, "Print the created job as JSON")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, status := range statuses {
				if _, ok := jobs.ParseStatus(status); !ok {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			return ctx.withClient(func(client *api.Client) error {
				list, err := client.Jobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Target", "Stage", "Progress", "Queue", "Updated"},
					buildJobRows(list),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print jobs as JSON")
	return cmd
}

func buildJobRows(list []api.Job) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		queue := ""
		if job.QueuePosition > 0 {
			queue = fmt.Sprintf("%d", job.QueuePosition)
		}
		rows = append(rows, []string{
			job.ID,
			job.Status,
			languageLabel(job.TargetName, job.Config.TargetLanguage),
			job.Stage,
			fmt.Sprintf("%.0f%%", job.Percent),
			queue,
			job.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, job)
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the job as JSON")
	return cmd
}

func printJob(out io.Writer, job api.Job) {
	line := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(out, "%-14s %s\n", label+":", value)
	}
	line("ID", job.ID)
	line("Status", job.Status)
	line("Source", languageLabel(job.SourceName, job.Config.SourceLanguage))
	line("Target", languageLabel(job.TargetName, job.Config.TargetLanguage))
	line("Input", job.InputPath)
	line("Output", job.OutputPath)
	if job.Status == string(jobs.StatusProcessing) {
		line("Progress", fmt.Sprintf("%s %.0f%%", job.Stage, job.Percent))
	}
	if job.QueuePosition > 0 {
		line("Queue", fmt.Sprintf("%d", job.QueuePosition))
	}
	line("Mode", job.Mode)
	line("Runs", fmt.Sprintf("%d", job.RunCount))
	if job.Error != "" {
		detail := job.Error
		if job.ErrorStage != "" {
			detail = job.ErrorStage + ": " + detail
		}
		if job.ErrorRecord != nil {
			detail += fmt.Sprintf(" (record %d)", *job.ErrorRecord)
		}
		line("Error", detail)
	}
	line("Created", job.CreatedAt.Local().Format(time.DateTime))
	line("Updated", job.UpdatedAt.Local().Format(time.DateTime))
	if job.CompletedAt != nil {
		line("Completed", job.CompletedAt.Local().Format(time.DateTime))
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Cancel(cmd.Context(), args[0])
				if api.StatusCode(err) == http.StatusConflict {
					return fmt.Errorf("job %s cannot be cancelled: %w", args[0], err)
				}
				if err != nil {
					return err
				}
				if job.Status == string(jobs.StatusCancelled) {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", job.ID)
				}
				return nil
			})
		},
	}
}

func languageLabel(name, tag string) string {
	switch {
	case name != "" && tag != "":
		return fmt.Sprintf("%s (%s)", name, tag)
	case tag != "":
		return tag
	default:
		return name
	}
}

var errJobFailed = errors.New("job did not complete")
