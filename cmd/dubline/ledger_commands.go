package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dubline/internal/api"
	"dubline/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Export or edit a job's segment ledger",
	}
	ledgerCmd.AddCommand(newLedgerExportCommand(ctx))
	ledgerCmd.AddCommand(newLedgerApplyCommand(ctx))
	return ledgerCmd
}

func newLedgerExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Print a job's ledger",
		Long: "Print a job's ledger. The yaml format is the editable form accepted by\n" +
			"`dubline ledger apply`; json is the full snapshot.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (use json or yaml)", format)
			}
			return ctx.withClient(func(client *api.Client) error {
				raw, err := client.Ledger(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := renderLedger(raw, format)
				if err != nil {
					return err
				}
				if outputPath == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(outputPath, data, 0o644); err != nil {
					return fmt.Errorf("write ledger: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote ledger for job %s to %s\n", args[0], outputPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml or json)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func renderLedger(raw []byte, format string) ([]byte, error) {
	if format == "json" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, fmt.Errorf("format ledger: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}
	l, err := ledger.Decode(raw)
	if err != nil {
		return nil, err
	}
	return ledger.MarshalEditsYAML(ledger.EditsFrom(l.All()))
}

func newLedgerApplyCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "apply <job-id> <file>",
		Short: "Submit an edited ledger and re-dub the changed records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read ledger edits: %w", err)
			}
			if len(bytes.TrimSpace(data)) == 0 {
				return errors.New("ledger edits file is empty")
			}
			return ctx.withClient(func(client *api.Client) error {
				before, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				job, err := client.ApplyLedger(cmd.Context(), args[0], data, ledgerContentType(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Update queued for job %s\n", job.ID)
				if !watch {
					return nil
				}
				return watchJob(cmd, client, job.ID, before.RunCount+1)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream progress until the update finishes")
	return cmd
}

func ledgerContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/json"
	}
}
