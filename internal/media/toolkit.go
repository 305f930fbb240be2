package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dubline/internal/logging"
	"dubline/internal/media/ffprobe"
	"dubline/internal/services"
	"dubline/internal/timeline"
)

const (
	// SeparationSampleRate matches what source separation models expect.
	SeparationSampleRate = 44100
	// RecognitionSampleRate matches what speech recognizers expect.
	RecognitionSampleRate = 16000
	// TimelineSampleRate is the rate of rendered dubbed tracks.
	TimelineSampleRate = 44100
)

// Toolkit runs ffmpeg and ffprobe.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	run     CommandRunner
	logger  *slog.Logger
}

// Option customizes a Toolkit.
type Option func(*Toolkit)

// WithRunner overrides process execution.
func WithRunner(runner CommandRunner) Option {
	return func(t *Toolkit) {
		if runner != nil {
			t.run = runner
		}
	}
}

// WithLogger sets the toolkit logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Toolkit) {
		t.logger = logging.NewComponentLogger(logger, "media")
	}
}

// NewToolkit constructs a toolkit using the given binaries.
func NewToolkit(ffmpegBinary, ffprobeBinary string, opts ...Option) *Toolkit {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	t := &Toolkit{ffmpeg: ffmpegBinary, ffprobe: ffprobeBinary, run: RunCommand, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Probe inspects path with ffprobe.
func (t *Toolkit) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	args, err := ffprobe.Args(path)
	if err != nil {
		return ffprobe.Result{}, services.Wrap(services.ErrValidation, "", "ffprobe", "", err)
	}
	output, err := t.run(ctx, t.ffprobe, args...)
	if err != nil {
		return ffprobe.Result{}, wrapProcess("ffprobe", path, err)
	}
	result, err := ffprobe.Parse(output)
	if err != nil {
		return ffprobe.Result{}, services.Wrap(services.ErrCollaborator, "", "ffprobe", path, err)
	}
	return result, nil
}

// Duration returns the media duration of path in seconds.
func (t *Toolkit) Duration(ctx context.Context, path string) (float64, error) {
	result, err := t.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	duration := result.DurationSeconds()
	if duration <= 0 {
		return 0, services.Wrap(services.ErrCollaborator, "", "ffprobe", path, errors.New("duration unavailable"))
	}
	return duration, nil
}

// ExtractAudio writes the first audio stream of videoPath as stereo PCM WAV.
func (t *Toolkit) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	return t.ffmpegRun(ctx, "extract audio", outPath,
		"-i", videoPath,
		"-map", "0:a:0",
		"-vn", "-sn", "-dn",
		"-ac", "2",
		"-ar", strconv.Itoa(SeparationSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	)
}

// StripAudio copies the video stream of videoPath without any audio.
func (t *Toolkit) StripAudio(ctx context.Context, videoPath, outPath string) error {
	return t.ffmpegRun(ctx, "strip audio", outPath,
		"-i", videoPath,
		"-map", "0:v:0",
		"-c:v", "copy",
		"-an", "-sn", "-dn",
		outPath,
	)
}

// CutSegment writes [start, end) of audioPath as mono 16 kHz PCM WAV.
func (t *Toolkit) CutSegment(ctx context.Context, audioPath string, start, end float64, outPath string) error {
	if start < 0 || end <= start {
		return services.Wrap(services.ErrValidation, "", "cut segment", fmt.Sprintf("invalid window [%.3f, %.3f]", start, end), nil)
	}
	return t.ffmpegRun(ctx, "cut segment", outPath,
		"-ss", seconds(start),
		"-t", seconds(end-start),
		"-i", audioPath,
		"-ac", "1",
		"-ar", strconv.Itoa(RecognitionSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	)
}

// TimeStretch changes the tempo of inPath by factor without changing pitch.
// A factor above 1 shortens the clip.
func (t *Toolkit) TimeStretch(ctx context.Context, inPath string, factor float64, outPath string) error {
	chain := timeline.AtempoChain(factor)
	if len(chain) == 0 {
		return services.Wrap(services.ErrValidation, "", "time stretch", fmt.Sprintf("invalid factor %v", factor), nil)
	}
	return t.ffmpegRun(ctx, "time stretch", outPath,
		"-i", inPath,
		"-filter:a", AtempoFilter(chain),
		"-c:a", "pcm_s16le",
		outPath,
	)
}

// AtempoFilter renders an atempo chain as an ffmpeg filter expression.
func AtempoFilter(chain []float64) string {
	parts := make([]string, 0, len(chain))
	for _, stage := range chain {
		parts = append(parts, "atempo="+strconv.FormatFloat(stage, 'f', 6, 64))
	}
	return strings.Join(parts, ",")
}

// RenderTimeline renders plan into a mono WAV of exactly plan.Duration
// seconds: silence with each placement cut from its skip point to its
// duration and delayed to its offset. The filter graph is written next to
// outPath because large plans exceed command line limits.
func (t *Toolkit) RenderTimeline(ctx context.Context, plan timeline.Plan, outPath string) error {
	if plan.Duration <= 0 {
		return services.Wrap(services.ErrValidation, "", "render timeline", "plan has no duration", nil)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return services.Wrap(services.ErrResource, "", "render timeline", "create output dir", err)
	}

	args := []string{
		"-f", "lavfi",
		"-t", seconds(plan.Duration),
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", TimelineSampleRate),
	}
	for _, placement := range plan.Placements {
		args = append(args, "-i", placement.Path)
	}
	scriptPath := outPath + ".filter"
	if err := os.WriteFile(scriptPath, []byte(TimelineFilter(plan)), 0o644); err != nil {
		return services.Wrap(services.ErrResource, "", "render timeline", "write filter script", err)
	}
	defer os.Remove(scriptPath)

	args = append(args,
		"-filter_complex_script", scriptPath,
		"-map", "[out]",
		"-t", seconds(plan.Duration),
		"-c:a", "pcm_s16le",
		outPath,
	)
	return t.ffmpegRun(ctx, "render timeline", outPath, args...)
}

// TimelineFilter builds the filter graph for plan. Input 0 is the silent base
// track and input i+1 is placement i.
func TimelineFilter(plan timeline.Plan) string {
	var b strings.Builder
	labels := []string{"[0:a]"}
	for i, placement := range plan.Placements {
		label := fmt.Sprintf("[c%d]", i+1)
		delay := int64(placement.Offset*1000 + 0.5)
		fmt.Fprintf(&b, "[%d:a]aresample=%d,aformat=channel_layouts=mono,atrim=%s:%s,asetpts=PTS-STARTPTS,adelay=%d:all=1%s;\n",
			i+1, TimelineSampleRate, seconds(placement.Skip), seconds(placement.Skip+placement.Duration), delay, label)
		labels = append(labels, label)
	}
	fmt.Fprintf(&b, "%samix=inputs=%d:duration=first:dropout_transition=0:normalize=0[out]", strings.Join(labels, ""), len(labels))
	return b.String()
}

// MixTracks overlays backgroundPath, scaled by backgroundVolume, under
// vocalsPath. The output has the vocals' duration.
func (t *Toolkit) MixTracks(ctx context.Context, vocalsPath, backgroundPath string, backgroundVolume float64, outPath string) error {
	if backgroundVolume < 0 {
		backgroundVolume = 0
	}
	filter := fmt.Sprintf("[1:a]volume=%s[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[out]",
		strconv.FormatFloat(backgroundVolume, 'f', 3, 64))
	return t.ffmpegRun(ctx, "mix tracks", outPath,
		"-i", vocalsPath,
		"-i", backgroundPath,
		"-filter_complex", filter,
		"-map", "[out]",
		"-c:a", "pcm_s16le",
		outPath,
	)
}

// MuxAudioVideo pairs the video stream of videoPath with audioPath.
func (t *Toolkit) MuxAudioVideo(ctx context.Context, videoPath, audioPath, outPath string) error {
	return t.ffmpegRun(ctx, "mux audio and video", outPath,
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		outPath,
	)
}

func (t *Toolkit) ffmpegRun(ctx context.Context, op, outPath string, args ...string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return services.Wrap(services.ErrResource, "", op, "create output dir", err)
	}
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	t.logger.Debug("running ffmpeg", logging.String("operation", op), logging.String("output", outPath))
	if _, err := t.run(ctx, t.ffmpeg, full...); err != nil {
		return wrapProcess(op, outPath, err)
	}
	return nil
}

func wrapProcess(op, path string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, services.ErrConfiguration) {
		return err
	}
	return services.Wrap(services.ErrCollaborator, "", op, path, err)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
