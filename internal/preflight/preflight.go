package preflight

import (
	"context"

	"dubline/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDiskSpace("Staging free space", cfg.Paths.StagingDir, MinFreeBytes),
	}

	if cfg.Engines.Synthesis.Engine == "tts_api" {
		results = append(results, CheckHTTPService(ctx, "TTS server", cfg.Engines.Synthesis.ServerURL))
	}
	if cfg.Engines.Translation.Engine == "llm" {
		results = append(results, CheckHTTPService(ctx, "Translation API", cfg.Engines.Translation.BaseURL))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
