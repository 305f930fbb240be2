package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"dubline/internal/services"
)

// CommandRunner executes name with args and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// RunCommand is the default CommandRunner backed by os/exec. Standard error is
// folded into the returned error.
func RunCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, services.Wrap(services.ErrConfiguration, "", name, "binary not found", err)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String(), 2048))
	}
	return output, nil
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
