package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"dubline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retries are immediate, intermediate files are kept, and notifications are
// off so tests never touch the network.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Engines.Recognition.CacheDir = filepath.Join(base, "cache", "whisperx")
	cfgVal.Pipeline.RetryBackoffMillis = 0
	cfgVal.Pipeline.CleanIntermediateFiles = false
	cfgVal.Pipeline.MaxInputMB = 0
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Progress.RedisAddr = ""
	cfgVal.Storage.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPipeline lets a test adjust pipeline tuning in place.
func WithPipeline(fn func(*config.Pipeline)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Pipeline)
	}
}

// WithEngines lets a test adjust engine selection in place.
func WithEngines(fn func(*config.Engines)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Engines)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default dubline external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "uvx"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
