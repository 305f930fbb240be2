package whisperx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"dubline/internal/engines"
	"dubline/internal/language"
	"dubline/internal/media"
	"dubline/internal/services"
)

// Service provides WhisperX transcription and diarization.
type Service struct {
	cfg Config
	run media.CommandRunner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg, run: runUVX}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner media.CommandRunner) *Service {
	if runner != nil {
		s.run = runner
	}
	return s
}

// Model returns the configured model name.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// Transcribe returns the text spoken in clipPath. An empty language lets
// WhisperX detect it.
func (s *Service) Transcribe(ctx context.Context, clipPath, lang string) (string, error) {
	payload, err := s.invoke(ctx, clipPath, lang, false)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, seg := range payload.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// DetectLanguage returns the ISO 639-1 code WhisperX detected for audioPath.
func (s *Service) DetectLanguage(ctx context.Context, audioPath string) (string, error) {
	payload, err := s.invoke(ctx, audioPath, "", false)
	if err != nil {
		return "", err
	}
	detected := language.ToISO2(payload.Language)
	if detected == "" {
		return "", services.Wrap(services.ErrCollaborator, "", "whisperx", "language detection returned no language", nil)
	}
	return detected, nil
}

// Diarize returns speaker turns for audioPath ordered by start time.
// Consecutive segments from the same speaker are kept separate so each
// utterance stays a sentence-sized unit.
func (s *Service) Diarize(ctx context.Context, audioPath string) ([]engines.Segment, error) {
	if strings.TrimSpace(s.cfg.HFToken) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "whisperx", "diarization requires a Hugging Face token", nil)
	}
	payload, err := s.invoke(ctx, audioPath, "", true)
	if err != nil {
		return nil, err
	}
	segments := make([]engines.Segment, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		if seg.End <= seg.Start {
			continue
		}
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			speaker = "SPEAKER_00"
		}
		segments = append(segments, engines.Segment{Start: seg.Start, End: seg.End, Speaker: speaker})
	}
	return segments, nil
}

// SupportedLanguages lists the languages WhisperX transcribes well.
func (s *Service) SupportedLanguages() []string {
	return []string{"ar", "ca", "cs", "da", "de", "el", "en", "es", "fa", "fi", "fr", "he", "hi", "hu", "it", "ja", "ko", "nl", "no", "pl", "pt", "ru", "sv", "tr", "uk", "ur", "vi", "zh"}
}

type segment struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

type payload struct {
	Segments []segment `json:"segments"`
	Language string    `json:"language"`
}

func (s *Service) invoke(ctx context.Context, source, lang string, diarize bool) (payload, error) {
	if strings.TrimSpace(source) == "" {
		return payload{}, services.Wrap(services.ErrValidation, "", "whisperx", "source path required", nil)
	}
	outputDir, err := os.MkdirTemp(filepath.Dir(source), "whisperx-")
	if err != nil {
		return payload{}, services.Wrap(services.ErrResource, "", "whisperx", "create scratch dir", err)
	}
	defer os.RemoveAll(outputDir)

	if _, err := s.run(ctx, UVXCommand, s.buildArgs(source, outputDir, lang, diarize)...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return payload{}, err
		}
		if errors.Is(err, services.ErrConfiguration) {
			return payload{}, err
		}
		return payload{}, services.Wrap(services.ErrCollaborator, "", "whisperx", filepath.Base(source), err)
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	data, err := os.ReadFile(filepath.Join(outputDir, base+".json"))
	if err != nil {
		return payload{}, services.Wrap(services.ErrCollaborator, "", "whisperx", "read output", err)
	}
	var parsed payload
	if err := json.Unmarshal(data, &parsed); err != nil {
		return payload{}, services.Wrap(services.ErrCollaborator, "", "whisperx", "parse output", err)
	}
	return parsed, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, lang string, diarize bool) []string {
	args := make([]string, 0, 32)
	cuda := s.cfg.Device == CUDADevice
	if cuda {
		args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
	)
	if s.cfg.CacheDir != "" {
		args = append(args, "--model_dir", s.cfg.CacheDir)
	}

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	if vadMethod == VADMethodNone {
		args = append(args,
			"--vad_method", VADMethodSilero,
			"--vad_onset", PermissiveVADThreshold,
			"--vad_offset", PermissiveVADThreshold,
		)
	} else {
		args = append(args, "--vad_method", vadMethod)
	}

	if iso := language.ToISO2(lang); iso != "" {
		args = append(args, "--language", iso)
	}

	if diarize {
		args = append(args, "--diarize")
		if s.cfg.MinSpeakers > 0 {
			args = append(args, "--min_speakers", strconv.Itoa(s.cfg.MinSpeakers))
		}
		if s.cfg.MaxSpeakers > 0 {
			args = append(args, "--max_speakers", strconv.Itoa(s.cfg.MaxSpeakers))
		}
	}
	if (diarize || vadMethod == VADMethodPyannote) && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if cuda {
		args = append(args, "--device", CUDADevice)
	} else {
		computeType := s.cfg.ComputeType
		if computeType == "" {
			computeType = CPUComputeType
		}
		args = append(args, "--device", CPUDevice, "--compute_type", computeType)
	}
	return args
}

func runUVX(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
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
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 2048 {
			msg = msg[len(msg)-2048:]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return output, nil
}
