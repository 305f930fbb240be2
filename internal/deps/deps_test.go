package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "another-missing-binary", Optional: true},
		{Name: "Unset"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[3].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[3].Detail)
	}

	missing := Missing(results)
	if len(missing) != 2 || missing[0].Name != "Missing" || missing[1].Name != "Unset" {
		t.Fatalf("expected required gaps only, got %#v", missing)
	}
}

func TestCheckBinariesDeduplicatesCommands(t *testing.T) {
	results := CheckBinaries([]Requirement{
		{Name: "WhisperX", Command: "uvx-missing"},
		{Name: "Demucs", Command: "uvx-missing"},
	})
	if len(results) != 1 || results[0].Name != "WhisperX" {
		t.Fatalf("expected one uvx entry, got %#v", results)
	}
}
