package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"dubline/internal/media/ffprobe"
	"dubline/internal/timeline"
)

// FakeMedia stands in for the ffmpeg toolkit. Every operation writes a small
// placeholder file at its output path and remembers clip durations so later
// probes agree with earlier stretches.
type FakeMedia struct {
	// InputDuration is the probed length of the source video in seconds.
	InputDuration float64
	// ClipDuration is returned for files the fake never produced.
	ClipDuration float64
	// NoAudio makes Probe report a video-only container.
	NoAudio bool

	mu        sync.Mutex
	durations map[string]float64
	calls     map[string]int
	plans     []timeline.Plan
}

// NewFakeMedia returns a fake reporting a 30 second input.
func NewFakeMedia() *FakeMedia {
	return &FakeMedia{
		InputDuration: 30,
		ClipDuration:  1,
		durations:     map[string]float64{},
		calls:         map[string]int{},
	}
}

// SetDuration fixes the duration Duration reports for path.
func (m *FakeMedia) SetDuration(path string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[path] = seconds
}

// Calls returns how many times op ran.
func (m *FakeMedia) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Plans returns every timeline the fake rendered.
func (m *FakeMedia) Plans() []timeline.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]timeline.Plan(nil), m.plans...)
}

func (m *FakeMedia) record(op, outPath string) error {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
	if outPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(op), 0o644)
}

func (m *FakeMedia) Probe(_ context.Context, path string) (ffprobe.Result, error) {
	if err := m.record("probe", ""); err != nil {
		return ffprobe.Result{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return ffprobe.Result{}, err
	}
	result := ffprobe.Result{
		Streams: []ffprobe.Stream{{Index: 0, CodecType: "video", CodecName: "h264"}},
		Format:  ffprobe.Format{Filename: path, Duration: strconv.FormatFloat(m.InputDuration, 'f', 3, 64)},
	}
	if !m.NoAudio {
		result.Streams = append(result.Streams, ffprobe.Stream{Index: 1, CodecType: "audio", CodecName: "aac"})
	}
	return result, nil
}

func (m *FakeMedia) Duration(_ context.Context, path string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["duration"]++
	if d, ok := m.durations[path]; ok {
		return d, nil
	}
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("fake duration: %w", err)
	}
	return m.ClipDuration, nil
}

func (m *FakeMedia) ExtractAudio(_ context.Context, _, outPath string) error {
	if err := m.record("extract_audio", outPath); err != nil {
		return err
	}
	m.SetDuration(outPath, m.InputDuration)
	return nil
}

func (m *FakeMedia) StripAudio(_ context.Context, _, outPath string) error {
	return m.record("strip_audio", outPath)
}

func (m *FakeMedia) CutSegment(_ context.Context, _ string, start, end float64, outPath string) error {
	if err := m.record("cut_segment", outPath); err != nil {
		return err
	}
	m.SetDuration(outPath, end-start)
	return nil
}

func (m *FakeMedia) TimeStretch(ctx context.Context, inPath string, factor float64, outPath string) error {
	in, err := m.Duration(ctx, inPath)
	if err != nil {
		return err
	}
	if err := m.record("time_stretch", outPath); err != nil {
		return err
	}
	m.SetDuration(outPath, in/factor)
	return nil
}

func (m *FakeMedia) RenderTimeline(_ context.Context, plan timeline.Plan, outPath string) error {
	m.mu.Lock()
	m.plans = append(m.plans, plan)
	m.mu.Unlock()
	return m.record("render_timeline", outPath)
}

func (m *FakeMedia) MixTracks(_ context.Context, _, _ string, _ float64, outPath string) error {
	return m.record("mix_tracks", outPath)
}

func (m *FakeMedia) MuxAudioVideo(_ context.Context, _, _, outPath string) error {
	return m.record("mux", outPath)
}
