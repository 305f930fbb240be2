package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dubline/internal/api"
	"dubline/internal/logging"
)

func TestSubmitWatchListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	input := env.writeInput(t, "episode.mp4")

	out, err := env.run(t, "submit", input, "--target", "es", "--watch")
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	requireContains(t, out, "submitted")
	requireContains(t, out, "completed: /output/")

	out, err = env.run(t, "jobs", "--json")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	var list []api.Job
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode jobs: %v\n%s", err, out)
	}
	if len(list) != 1 || list[0].Status != "completed" || list[0].Config.TargetLanguage != "es" {
		t.Fatalf("unexpected jobs %+v", list)
	}
	id := list[0].ID

	out, err = env.run(t, "jobs", "--status", "completed")
	if err != nil {
		t.Fatalf("jobs table: %v", err)
	}
	requireContains(t, out, id)

	out, err = env.run(t, "show", id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Status:")
	requireContains(t, out, "completed")
	requireContains(t, out, "/output/"+id+".mp4")
}

func TestSubmitRequiresTarget(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "submit", env.writeInput(t, "a.mp4")); err == nil {
		t.Fatal("expected missing --target to fail")
	}
}

func TestSubmitSurfacesValidationErrors(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "submit", env.writeInput(t, "a.mp4"), "--target", "es", "--device", "tpu")
	if err == nil || api.StatusCode(err) != 400 {
		t.Fatalf("expected 400 validation error, got %v", err)
	}
}

func TestJobsRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "jobs", "--status", "paused"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestLedgerExportAndApply(t *testing.T) {
	env := setupCLITestEnv(t)
	if out, err := env.run(t, "submit", env.writeInput(t, "clip.mp4"), "--target", "es", "--watch"); err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	out, err := env.run(t, "jobs", "--json")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	var list []api.Job
	if err := json.Unmarshal([]byte(out), &list); err != nil || len(list) != 1 {
		t.Fatalf("decode jobs: %v %q", err, out)
	}
	id := list[0].ID

	edits := filepath.Join(t.TempDir(), "edits.yaml")
	out, err = env.run(t, "ledger", "export", id, "--output", edits)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	requireContains(t, out, "Wrote ledger")
	data, err := os.ReadFile(edits)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	requireContains(t, string(data), "translated_text: hola")

	out, err = env.run(t, "ledger", "export", id, "--format", "json")
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	requireContains(t, out, `"hola"`)

	edited := strings.Replace(string(data), "translated_text: hola", "translated_text: buenas", 1)
	if err := os.WriteFile(edits, []byte(edited), 0o644); err != nil {
		t.Fatalf("write edits: %v", err)
	}
	out, err = env.run(t, "ledger", "apply", id, edits, "--watch")
	if err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}
	requireContains(t, out, "Update queued")
	requireContains(t, out, "completed")

	applied := env.runner.edits(id)
	if len(applied) != 1 || applied[0].TranslatedText != "buenas" {
		t.Fatalf("runner saw edits %+v", applied)
	}
}

func TestLedgerExportRejectsUnknownFormat(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "ledger", "export", "abc", "--format", "xml"); err == nil {
		t.Fatal("expected unsupported format to fail")
	}
}

func TestCancelUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "cancel", "missing")
	if api.StatusCode(err) != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestStatusAndCacheCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, section := range []string{"== Daemon ==", "== Workers ==", "== Dependencies ==", "== Jobs =="} {
		requireContains(t, out, section)
	}
	requireContains(t, out, "No jobs")

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Workflow.Workers != env.cfg.Pipeline.MaxConcurrentJobs {
		t.Fatalf("unexpected status %+v", status)
	}

	out, err = env.run(t, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	requireContains(t, out, "Released 0 cached handles")
}

func TestLogsFiltersByJob(t *testing.T) {
	env := setupCLITestEnv(t)
	env.logger.Info("stage finished", logging.String(logging.FieldJobID, "job-1"), logging.String("stage", "mixing"))
	env.logger.Info("unrelated line", logging.String(logging.FieldJobID, "job-2"))

	out, err := env.run(t, "logs", "--job", "job-1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "stage finished")
	if strings.Contains(out, "unrelated line") {
		t.Fatalf("expected job filter, got %q", out)
	}
}

func TestCommandsReportUnreachableDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := runCLI(t, []string{"--api", "127.0.0.1:1", "--config", env.configPath, "jobs"})
	if err == nil {
		t.Fatal("expected connection error")
	}
	requireContains(t, err.Error(), "dubline daemon")
}

func TestConfigInitAndValidate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HF_TOKEN", "test-token")
	target := filepath.Join(home, "dubline.toml")

	out, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, target)

	if _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected init to refuse to overwrite")
	}

	out, err = runCLI(t, []string{"--config", target, "config", "validate"})
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Paths.APIToken = "s3cret-token"
	writeTestConfig(t, env.configPath, env.cfg)

	out, err := runCLI(t, []string{"--config", env.configPath, "config", "show"})
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "s3cret-token") {
		t.Fatalf("token leaked: %q", out)
	}
	requireContains(t, out, "********")
}

func TestWatchRelayRequiresRedis(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "watch", "--relay")
	if err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Fatalf("expected relay configuration error, got %v", err)
	}
}

func TestSubmitWithoutWatchCompletesInBackground(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "submit", env.writeInput(t, "b.mp4"), "--target", "fr"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		out, err := env.run(t, "jobs", "--status", "completed", "--json")
		return err == nil && strings.Contains(out, `"target_language": "fr"`)
	})
}
