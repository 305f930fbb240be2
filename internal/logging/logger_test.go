package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dubline/internal/config"
	"dubline/internal/logging"
	"dubline/internal/services"
)

func TestNewFromConfigWritesRotatedFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, closer, err := logging.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon started", logging.String(logging.FieldEventType, "daemon_start"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", content, err)
	}
	if line["msg"] != "daemon started" || line["event_type"] != "daemon_start" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writers: []io.Writer{&buf}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "scheduler").Info("job admitted", logging.String("job_id", "abc def"))

	out := buf.String()
	if !strings.Contains(out, "INFO scheduler: job admitted") {
		t.Fatalf("unexpected console line %q", out)
	}
	if !strings.Contains(out, `job_id="abc def"`) {
		t.Fatalf("expected quoted value, got %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writers: []io.Writer{&buf}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")
	if !strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writers: []io.Writer{&buf}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithJobID(context.Background(), "job-9")
	ctx = services.WithStage(ctx, "assembly")
	ctx = services.WithRecordIndex(ctx, 2)
	logging.WithContext(ctx, logger).Info("overlay placed")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["job_id"] != "job-9" || line["stage"] != "assembly" || line["record_index"] != float64(2) {
		t.Fatalf("missing context fields: %v", line)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	hub := logging.NewStreamHub(10)
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writers: []io.Writer{&buf}, Hub: hub})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "cleanup failed", "cleanup_failed")

	events, _ := hub.Tail(1)
	if len(events) != 1 {
		t.Fatalf("expected published event")
	}
	fields := events[0].Fields
	if fields[logging.FieldEventType] != "cleanup_failed" || fields[logging.FieldErrorHint] == "" || fields[logging.FieldImpact] == "" {
		t.Fatalf("expected default fields, got %v", fields)
	}
}
