package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dubline/internal/config"
	"dubline/internal/daemon"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/progress"
	"dubline/internal/servicecache"
	"dubline/internal/testsupport"
	"dubline/internal/workflow"
)

// instantRunner completes every run immediately and leaves a one-record
// ledger behind so ledger commands have something to work with.
type instantRunner struct {
	store       *jobs.Store
	broadcaster *progress.Broadcaster

	mu      sync.Mutex
	updates map[string][]ledger.Edit
}

func (r *instantRunner) Run(ctx context.Context, id string) error {
	job, err := r.store.BeginRun(ctx, id, jobs.ModeFull)
	if err != nil {
		return err
	}
	r.broadcaster.Publish(ctx, progress.Event{JobID: id, Run: job.RunCount, Status: string(jobs.StatusProcessing), Stage: "synthesis", Percent: 50})
	l := ledger.New()
	if _, err := l.Append(ledger.Record{Start: 0, End: 1.5, SpeakerID: "SPEAKER_00", SourceText: "hello", TranslatedText: "hola", IncludeInOutput: true}); err != nil {
		return err
	}
	if err := r.store.SaveLedger(ctx, id, l); err != nil {
		return err
	}
	return r.finish(ctx, id, job.RunCount)
}

func (r *instantRunner) Update(ctx context.Context, id string, edits []ledger.Edit) error {
	r.mu.Lock()
	r.updates[id] = edits
	r.mu.Unlock()
	job, err := r.store.BeginRun(ctx, id, jobs.ModeUpdate)
	if err != nil {
		return err
	}
	return r.finish(ctx, id, job.RunCount)
}

func (r *instantRunner) finish(ctx context.Context, id string, run int) error {
	output := filepath.Join("/output", id+".mp4")
	if err := r.store.Complete(ctx, id, output); err != nil {
		return err
	}
	r.broadcaster.Publish(ctx, progress.Event{JobID: id, Run: run, Status: string(jobs.StatusCompleted), Percent: 100, Output: output, Final: true})
	return nil
}

func (r *instantRunner) Abandon(ctx context.Context, id, reason string) error {
	return r.store.Cancel(ctx, id, reason)
}

func (r *instantRunner) edits(id string) []ledger.Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[id]
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	runner     *instantRunner
	logger     *slog.Logger
	configPath string
	apiAddr    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithEngines(func(e *config.Engines) {
		e.Translation.BaseURL = ""
		e.Synthesis.ServerURL = ""
		e.Diarization.Engine = "none"
	}))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	broadcaster := progress.NewBroadcaster(16)
	hub := logging.NewStreamHub(256)
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Writers: []io.Writer{io.Discard}, Hub: hub})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	runner := &instantRunner{store: store, broadcaster: broadcaster, updates: make(map[string][]ledger.Edit)}
	d, err := daemon.New(daemon.Options{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Workflow:    workflow.NewManager(cfg, store, runner, logger),
		Cache:       servicecache.New(servicecache.NewRegistry()),
		Broadcaster: broadcaster,
		LogHub:      hub,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	configPath := filepath.Join(testsupport.BaseDir(cfg), "dubline.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		runner:     runner,
		logger:     logger,
		configPath: configPath,
		apiAddr:    d.APIAddress(),
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--api", e.apiAddr, "--config", e.configPath}, args...))
}

func (e *cliTestEnv) writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(e.cfg), "uploads", name)
	testsupport.WriteFile(t, path, 2048)
	return path
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
