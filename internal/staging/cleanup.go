package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dubline/internal/logging"
)

// InputsDir is the reserved staging subdirectory for fetched inputs.
const InputsDir = "inputs"

// Result contains the outcome of a cleanup pass.
type Result struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes directories under root last modified before now-maxAge.
// Directories whose base name is in keep, and the inputs directory, survive.
// A keep set of every known job id turns this into an orphan sweep.
func CleanStale(ctx context.Context, root string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) Result {
	cutoff := time.Now().Add(-maxAge)
	return sweep(ctx, root, logger, "stale", func(name string, info os.FileInfo) bool {
		if _, ok := keep[name]; ok {
			return false
		}
		return info.ModTime().Before(cutoff)
	})
}

func sweep(ctx context.Context, root string, logger *slog.Logger, reason string, remove func(string, os.FileInfo) bool) Result {
	result := Result{}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || entry.Name() == InputsDir {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !remove(entry.Name(), info) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(logger, "failed to remove "+reason+" staging directory", "staging_cleanup_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed "+reason+" staging directory",
			logging.String("path", dirPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}

// DirInfo contains metadata about a staging directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListDirectories returns all directories under root with their metadata.
func ListDirectories(root string) ([]DirInfo, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

// Usage sums the directories under root.
func Usage(root string) (int, int64, error) {
	dirs, err := ListDirectories(root)
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, dir := range dirs {
		total += dir.Size
	}
	return len(dirs), total, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
