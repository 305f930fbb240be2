// Package deps reports whether the external binaries dubline shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external binary a component relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
// Requirements naming the same command are checked once and reported once.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	seen := make(map[string]struct{}, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		if cmd != "" {
			if _, dup := seen[cmd]; dup {
				continue
			}
			seen[cmd] = struct{}{}
		}
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch resolved, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Command = resolved
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
