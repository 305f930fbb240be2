package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"dubline/internal/config"
	"dubline/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates an uploaded job whose input is a placeholder video file in
// the test base directory.
func NewJob(t testing.TB, store *jobs.Store, cfg *config.Config, jobCfg jobs.Config) *jobs.Job {
	t.Helper()

	input := filepath.Join(BaseDir(cfg), "inputs", "clip.mp4")
	WriteFile(t, input, 1024)
	job, err := store.Create(context.Background(), jobCfg, input)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
