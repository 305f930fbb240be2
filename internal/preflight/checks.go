package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"dubline/internal/config"
	"dubline/internal/deps"
)

// MinFreeBytes is the free space below which the staging check fails. A
// separated, segmented, and resynthesized feature-length job needs a few GiB.
const MinFreeBytes = 4 << 30

// CheckHTTPService verifies that baseURL answers HTTP. Any response below 500
// counts as reachable; auth is the engine's concern.
func CheckHTTPService(ctx context.Context, name, baseURL string) Result {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeHTTPError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies that the filesystem holding path has at least min bytes free.
func CheckDiskSpace(name, path string, min uint64) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s (%.1f GiB free)", path, float64(free)/(1<<30))
	if free < min {
		return Result{Name: name, Detail: detail + fmt.Sprintf(", need %.1f GiB", float64(min)/(1<<30))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// FreeBytes reports the space available to unprivileged users on path's filesystem.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckSystemDeps evaluates the binaries the configured engines need. Both
// the daemon status endpoint and the CLI use it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for audio extraction, time stretching, and muxing",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for media inspection",
		},
	}
	e := cfg.Engines
	if e.Recognition.Engine == "whisperx" || e.Diarization.Engine == "whisperx" {
		requirements = append(requirements, deps.Requirement{
			Name:        "uvx",
			Command:     "uvx",
			Description: "Required for WhisperX transcription and diarization",
		})
	}
	if e.Separation.Engine == "demucs" {
		requirements = append(requirements, deps.Requirement{
			Name:        "uvx",
			Command:     "uvx",
			Description: "Required for Demucs vocal separation",
		})
	}
	return deps.CheckBinaries(requirements)
}

func summarizeHTTPError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (service unreachable)"
	}
	return err.Error()
}
