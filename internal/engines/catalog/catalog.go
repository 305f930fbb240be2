// Package catalog registers the built-in engine adapters with a service
// cache registry and derives cache keys from a job's engine selection.
package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dubline/internal/config"
	"dubline/internal/engines"
	"dubline/internal/engines/demucs"
	"dubline/internal/engines/gender"
	"dubline/internal/engines/llm"
	"dubline/internal/engines/ttsapi"
	"dubline/internal/engines/whisperx"
	"dubline/internal/media"
	"dubline/internal/servicecache"
)

// Engine ids that need no external process.
const (
	EngineNone   = "none"
	EngineStatic = "static"
)

// Options carries shared collaborators for factories.
type Options struct {
	// Runner executes uvx for WhisperX and Demucs; nil uses the defaults.
	Runner     media.CommandRunner
	HTTPClient *http.Client
	// Media probes durations for the single-speaker diarizer.
	Media  *media.Toolkit
	Logger *slog.Logger
}

// Selection is a job's engine choice. Empty fields fall back to config.
type Selection struct {
	Recognition string
	Translation string
	Synthesis   string
	Model       string
	Device      string
	VAD         bool
}

// Keys returns the cache key for every collaborator kind under sel.
func Keys(cfg *config.Config, sel Selection) map[servicecache.Kind]servicecache.Key {
	e := cfg.Engines
	device := firstNonEmpty(sel.Device, e.Device)
	// A job without VAD gets no speech filtering; with it, the configured
	// method applies.
	vad := whisperx.VADMethodNone
	if sel.VAD {
		vad = firstNonEmpty(e.Recognition.VADMethod, whisperx.VADMethodSilero)
	}
	return map[servicecache.Kind]servicecache.Key{
		servicecache.KindRecognizer: servicecache.NewKey(servicecache.KindRecognizer,
			firstNonEmpty(sel.Recognition, e.Recognition.Engine),
			firstNonEmpty(sel.Model, e.Recognition.Model), device,
			map[string]string{"vad": vad}),
		servicecache.KindTranslator: servicecache.NewKey(servicecache.KindTranslator,
			firstNonEmpty(sel.Translation, e.Translation.Engine), e.Translation.Model, "", nil),
		servicecache.KindSynthesizer: servicecache.NewKey(servicecache.KindSynthesizer,
			firstNonEmpty(sel.Synthesis, e.Synthesis.Engine), "", "", nil),
		servicecache.KindDiarizer: servicecache.NewKey(servicecache.KindDiarizer,
			e.Diarization.Engine, firstNonEmpty(sel.Model, e.Recognition.Model), device, nil),
		servicecache.KindSeparator: servicecache.NewKey(servicecache.KindSeparator,
			e.Separation.Engine, e.Separation.Model, device, nil),
		servicecache.KindGender: servicecache.NewKey(servicecache.KindGender,
			e.Gender.Engine, "", "", nil),
	}
}

// Register installs every built-in factory into reg.
func Register(reg *servicecache.Registry, cfg *config.Config, opts Options) {
	if opts.Media == nil {
		opts.Media = media.NewToolkit(cfg.FFmpegBinary(), cfg.FFprobeBinary(), media.WithLogger(opts.Logger))
	}
	e := cfg.Engines

	newWhisperX := func(key servicecache.Key, vad string) *whisperx.Service {
		svc := whisperx.NewService(whisperx.Config{
			Model:       key.Model,
			Device:      key.Device,
			ComputeType: e.Recognition.ComputeType,
			VADMethod:   vad,
			HFToken:     e.Diarization.HuggingFaceToken,
			CacheDir:    e.Recognition.CacheDir,
			MinSpeakers: e.Diarization.MinSpeakers,
			MaxSpeakers: e.Diarization.MaxSpeakers,
		})
		return svc.WithCommandRunner(opts.Runner)
	}

	reg.Register(servicecache.KindRecognizer, "whisperx", func(_ context.Context, key servicecache.Key) (any, error) {
		return newWhisperX(key, optionValue(key, "vad")), nil
	})
	reg.Register(servicecache.KindDiarizer, "whisperx", func(_ context.Context, key servicecache.Key) (any, error) {
		return newWhisperX(key, e.Recognition.VADMethod), nil
	})
	reg.Register(servicecache.KindDiarizer, EngineNone, func(context.Context, servicecache.Key) (any, error) {
		return singleSpeaker{media: opts.Media}, nil
	})

	reg.Register(servicecache.KindTranslator, "llm", func(_ context.Context, key servicecache.Key) (any, error) {
		client := llm.NewClient(llm.Config{
			APIKey:         e.Translation.APIKey,
			BaseURL:        e.Translation.BaseURL,
			Model:          key.Model,
			TimeoutSeconds: e.Translation.TimeoutSeconds,
		}, llm.WithHTTPClient(opts.HTTPClient))
		return llm.NewTranslator(client, e.Translation.BatchSize), nil
	})

	reg.Register(servicecache.KindSynthesizer, "tts_api", func(context.Context, servicecache.Key) (any, error) {
		timeout := time.Duration(e.Synthesis.TimeoutSeconds) * time.Second
		return ttsapi.New(e.Synthesis.ServerURL, timeout, opts.HTTPClient), nil
	})

	reg.Register(servicecache.KindSeparator, "demucs", func(_ context.Context, key servicecache.Key) (any, error) {
		return demucs.New(key.Model, key.Device, opts.Runner), nil
	})
	reg.Register(servicecache.KindSeparator, EngineNone, func(context.Context, servicecache.Key) (any, error) {
		return passthroughSeparator{}, nil
	})

	reg.Register(servicecache.KindGender, EngineNone, func(context.Context, servicecache.Key) (any, error) {
		return gender.Unknown{}, nil
	})
	reg.Register(servicecache.KindGender, EngineStatic, func(context.Context, servicecache.Key) (any, error) {
		return gender.NewStatic(e.Gender.Speakers), nil
	})
}

// singleSpeaker treats the whole input as one speaker turn.
type singleSpeaker struct {
	media *media.Toolkit
}

func (s singleSpeaker) Diarize(ctx context.Context, audioPath string) ([]engines.Segment, error) {
	duration, err := s.media.Duration(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return []engines.Segment{{Start: 0, End: duration, Speaker: "SPEAKER_00"}}, nil
}

// passthroughSeparator uses the mixed audio as vocals and drops the background.
type passthroughSeparator struct{}

func (passthroughSeparator) Separate(_ context.Context, audioPath, _ string) (string, string, error) {
	return audioPath, "", nil
}

func optionValue(key servicecache.Key, name string) string {
	for _, pair := range strings.Split(key.Options, ",") {
		if k, v, ok := strings.Cut(pair, "="); ok && k == name {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
