package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dubline/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDiskSpace("disk", dir, 1); !result.Passed {
		t.Fatalf("expected pass for 1 byte minimum, got: %s", result.Detail)
	}
	if result := CheckDiskSpace("disk", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure for impossible minimum")
	}
	if result := CheckDiskSpace("disk", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckHTTPService(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	if result := CheckHTTPService(context.Background(), "svc", ok.URL); !result.Passed {
		t.Fatalf("expected pass for reachable server, got: %s", result.Detail)
	}
	if result := CheckHTTPService(context.Background(), "svc", broken.URL); result.Passed {
		t.Fatal("expected failure for 5xx server")
	}
	if result := CheckHTTPService(context.Background(), "svc", " "); result.Passed || result.Detail != "missing url" {
		t.Fatalf("expected missing url failure, got %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_SkipsUnselectedEngines(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Engines.Synthesis.Engine = "none"
	cfg.Engines.Translation.Engine = "none"

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected directory and disk checks only, got %d", len(results))
	}
	for _, r := range results[:3] {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_ChecksTTSServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Engines.Synthesis.Engine = "tts_api"
	cfg.Engines.Synthesis.ServerURL = srv.URL
	cfg.Engines.Translation.Engine = "none"

	found := false
	for _, r := range RunAll(context.Background(), &cfg) {
		if r.Name == "TTS server" {
			found = true
			if !r.Passed {
				t.Errorf("TTS check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected TTS server check in results")
	}
}

func TestCheckSystemDepsFollowsEngines(t *testing.T) {
	cfg := config.Default()
	cfg.Engines.Recognition.Engine = "none"
	cfg.Engines.Diarization.Engine = "none"
	cfg.Engines.Separation.Engine = "none"
	if got := len(CheckSystemDeps(&cfg)); got != 2 {
		t.Fatalf("expected ffmpeg and ffprobe only, got %d", got)
	}
	cfg.Engines.Separation.Engine = "demucs"
	cfg.Engines.Recognition.Engine = "whisperx"
	if got := len(CheckSystemDeps(&cfg)); got != 3 {
		t.Fatalf("expected one deduplicated uvx entry, got %d", got)
	}
}
