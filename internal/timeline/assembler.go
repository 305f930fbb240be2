package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"dubline/internal/ledger"
	"dubline/internal/logging"
)

// Media renders plans and combines tracks. internal/media provides the ffmpeg
// implementation.
type Media interface {
	Duration(ctx context.Context, path string) (float64, error)
	RenderTimeline(ctx context.Context, plan Plan, outPath string) error
	MixTracks(ctx context.Context, vocalsPath, backgroundPath string, backgroundVolume float64, outPath string) error
	MuxAudioVideo(ctx context.Context, videoPath, audioPath, outPath string) error
}

// Output file names inside a job work directory.
const (
	VocalsTrackName = "dubbed_vocals.wav"
	MixedTrackName  = "dubbed_audio.wav"
)

// Assembler rebuilds the dubbed audio track from a ledger.
type Assembler struct {
	media  Media
	logger *slog.Logger
}

// NewAssembler constructs an assembler.
func NewAssembler(media Media, logger *slog.Logger) *Assembler {
	return &Assembler{media: media, logger: logging.NewComponentLogger(logger, "timeline")}
}

// AssembleRequest describes one assembly.
type AssembleRequest struct {
	Ledger           *ledger.Ledger
	Duration         float64
	BackgroundPath   string
	BackgroundVolume float64
	WorkDir          string
}

// Assembly reports what was produced.
type Assembly struct {
	Plan       Plan
	VocalsPath string
	AudioPath  string
}

// PlanFor builds the placement plan for every included record of l.
func (a *Assembler) PlanFor(ctx context.Context, l *ledger.Ledger, duration float64) (Plan, error) {
	var clips []Clip
	for rec := range l.Included() {
		length, err := a.media.Duration(ctx, rec.DubbedPath)
		if err != nil {
			return Plan{}, fmt.Errorf("probe clip %d: %w", rec.Index, err)
		}
		clips = append(clips, Clip{Index: rec.Index, Path: rec.DubbedPath, Start: rec.Start, Length: length})
	}
	return Build(duration, clips)
}

// Assemble renders the vocal timeline and mixes it over the background.
// Without a background track the vocal timeline is the final audio.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (Assembly, error) {
	plan, err := a.PlanFor(ctx, req.Ledger, req.Duration)
	if err != nil {
		return Assembly{}, err
	}
	for _, placement := range plan.Placements {
		if placement.Trimmed {
			a.logger.Debug("clip trimmed by following utterance",
				logging.Int(logging.FieldRecordIndex, placement.Index),
				logging.Float64("offset", placement.Offset),
				logging.Float64("duration", placement.Duration),
			)
		}
	}
	if len(plan.Dropped) > 0 {
		logging.WarnWithContext(a.logger, "clips fall outside the source duration", "timeline_clips_dropped",
			logging.Any("records", plan.Dropped),
			logging.String(logging.FieldImpact, "those utterances are not audible in the output"),
			logging.String(logging.FieldErrorHint, "check record start times in the ledger"),
		)
	}

	result := Assembly{Plan: plan, VocalsPath: filepath.Join(req.WorkDir, VocalsTrackName)}
	if err := a.media.RenderTimeline(ctx, plan, result.VocalsPath); err != nil {
		return Assembly{}, fmt.Errorf("render timeline: %w", err)
	}
	if req.BackgroundPath == "" {
		result.AudioPath = result.VocalsPath
		return result, nil
	}
	result.AudioPath = filepath.Join(req.WorkDir, MixedTrackName)
	if err := a.media.MixTracks(ctx, result.VocalsPath, req.BackgroundPath, req.BackgroundVolume, result.AudioPath); err != nil {
		return Assembly{}, fmt.Errorf("mix background: %w", err)
	}
	a.logger.Info("dubbed audio assembled",
		logging.Int("clips", len(plan.Placements)),
		logging.Float64("duration_seconds", plan.Duration),
		logging.String(logging.FieldEventType, "timeline_assembled"),
	)
	return result, nil
}

// Combine muxes the assembled audio with the audio-stripped video.
func (a *Assembler) Combine(ctx context.Context, videoPath, audioPath, outPath string) error {
	if err := a.media.MuxAudioVideo(ctx, videoPath, audioPath, outPath); err != nil {
		return fmt.Errorf("combine audio and video: %w", err)
	}
	return nil
}
