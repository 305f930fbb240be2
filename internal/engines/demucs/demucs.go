// Package demucs separates vocals from background audio with Demucs run
// through uvx in two-stem mode.
package demucs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"dubline/internal/media"
	"dubline/internal/services"
)

const (
	// DefaultModel is the Demucs model used when none is configured.
	DefaultModel = "htdemucs"
	uvxCommand   = "uvx"
	vocalsStem   = "vocals.wav"
	otherStem    = "no_vocals.wav"
)

// Separator runs Demucs.
type Separator struct {
	model  string
	device string
	run    media.CommandRunner
}

// New returns a separator for model on device ("cpu" or "cuda").
func New(model, device string, runner media.CommandRunner) *Separator {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if runner == nil {
		runner = media.RunCommand
	}
	return &Separator{model: model, device: device, run: runner}
}

// Separate writes vocals and background stems for audioPath under outDir.
func (s *Separator) Separate(ctx context.Context, audioPath, outDir string) (string, string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", services.Wrap(services.ErrResource, "", "demucs", "create output dir", err)
	}
	args := []string{
		"--from", "demucs",
		"demucs",
		"--two-stems", "vocals",
		"-n", s.model,
		"-o", outDir,
		"--filename", "{track}/{stem}.{ext}",
	}
	if s.device != "" {
		args = append(args, "-d", s.device)
	}
	args = append(args, audioPath)

	if _, err := s.run(ctx, uvxCommand, args...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrConfiguration) {
			return "", "", err
		}
		return "", "", services.Wrap(services.ErrCollaborator, "", "demucs", filepath.Base(audioPath), err)
	}

	track := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	stemDir := filepath.Join(outDir, s.model, track)
	vocals := filepath.Join(stemDir, vocalsStem)
	background := filepath.Join(stemDir, otherStem)
	for _, path := range []string{vocals, background} {
		if _, err := os.Stat(path); err != nil {
			return "", "", services.Wrap(services.ErrCollaborator, "", "demucs", "missing stem", err)
		}
	}
	return vocals, background, nil
}
