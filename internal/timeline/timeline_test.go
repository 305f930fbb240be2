package timeline_test

import (
	"context"
	"math"
	"testing"

	"dubline/internal/ledger"
	"dubline/internal/timeline"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSpeedSyncBoundary(t *testing.T) {
	tests := []struct {
		name      string
		synth     float64
		window    float64
		stretch   bool
		effective float64
	}{
		{name: "inside band", synth: 2.3, window: 2.0, stretch: false, effective: 2.3},
		{name: "too long", synth: 3.0, window: 2.0, stretch: true, effective: 2.0},
		{name: "too short", synth: 1.0, window: 2.0, stretch: true, effective: 2.0},
		{name: "upper edge", synth: 2.4, window: 2.0, stretch: false, effective: 2.4},
		{name: "lower edge", synth: 1.6, window: 2.0, stretch: false, effective: 1.6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sync := timeline.SpeedSync(tc.synth, tc.window, timeline.DefaultTolerance)
			if sync.Stretch != tc.stretch {
				t.Fatalf("stretch = %v, want %v (target %v)", sync.Stretch, tc.stretch, sync.Target)
			}
			if got := sync.EffectiveDuration(tc.synth); !almostEqual(got, tc.effective) {
				t.Fatalf("effective duration = %v, want %v", got, tc.effective)
			}
		})
	}

	sync := timeline.SpeedSync(3.0, 2.0, timeline.DefaultTolerance)
	if !almostEqual(sync.Factor, 1.5) || !almostEqual(1/sync.Factor, 1/1.5) {
		t.Fatalf("expected tempo factor 1.5, got %v", sync.Factor)
	}
}

func TestAtempoChainStaysInRange(t *testing.T) {
	for _, factor := range []float64{0.3, 0.5, 1.5, 2.0, 3.0, 5.0} {
		chain := timeline.AtempoChain(factor)
		product := 1.0
		for _, stage := range chain {
			if stage < 0.5 || stage > 2.0 {
				t.Fatalf("factor %v: stage %v outside atempo range", factor, stage)
			}
			product *= stage
		}
		if !almostEqual(product, factor) {
			t.Fatalf("factor %v: chain %v multiplies to %v", factor, chain, product)
		}
	}
	if timeline.AtempoChain(0) != nil {
		t.Fatal("expected nil chain for zero factor")
	}
}

func TestBuildPlacesClipsOverSilence(t *testing.T) {
	plan, err := timeline.Build(10, []timeline.Clip{
		{Index: 2, Path: "b.wav", Start: 5, Length: 2},
		{Index: 1, Path: "a.wav", Start: 1, Length: 1},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Placements) != 2 || plan.Placements[0].Index != 1 {
		t.Fatalf("unexpected placements %+v", plan.Placements)
	}
	for _, tc := range []struct {
		at    float64
		index int
	}{{0.5, 0}, {1.0, 1}, {1.99, 1}, {2.0, 0}, {4.9, 0}, {5.0, 2}, {6.5, 2}, {7.0, 0}, {9.9, 0}} {
		placement, ok := plan.At(tc.at)
		if tc.index == 0 {
			if ok {
				t.Fatalf("expected silence at %v, got clip %d", tc.at, placement.Index)
			}
			continue
		}
		if !ok || placement.Index != tc.index {
			t.Fatalf("expected clip %d at %v, got %+v (ok=%v)", tc.index, tc.at, placement, ok)
		}
	}
}

func TestBuildLaterStartWinsOnOverlap(t *testing.T) {
	plan, err := timeline.Build(10, []timeline.Clip{
		{Index: 1, Path: "a.wav", Start: 1, Length: 3},
		{Index: 2, Path: "b.wav", Start: 2.5, Length: 1},
		{Index: 3, Path: "c.wav", Start: 9.5, Length: 2},
		{Index: 4, Path: "d.wav", Start: 12, Length: 1},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	first := plan.Placements[0]
	if !first.Trimmed || !almostEqual(first.Duration, 1.5) {
		t.Fatalf("expected first clip trimmed to 1.5s, got %+v", first)
	}
	if p, _ := plan.At(3); p.Index != 2 {
		t.Fatalf("expected later clip audible in overlap, got %d", p.Index)
	}
	if p, _ := plan.At(3.7); p.Index != 1 || !almostEqual(p.Skip, 2.5) {
		t.Fatalf("expected first clip to resume 2.5s in after the overlap, got %+v", p)
	}
	last := plan.Placements[len(plan.Placements)-1]
	if last.Index != 3 || !last.Trimmed || !almostEqual(last.End(), 10) {
		t.Fatalf("expected clip trimmed at track end, got %+v", last)
	}
	if len(plan.Dropped) != 1 || plan.Dropped[0] != 4 {
		t.Fatalf("expected clip 4 dropped, got %v", plan.Dropped)
	}
}

func TestBuildShortLaterClipOverlaysInsideLongerClip(t *testing.T) {
	plan, err := timeline.Build(10, []timeline.Clip{
		{Index: 1, Path: "long.wav", Start: 0, Length: 6},
		{Index: 2, Path: "short.wav", Start: 2, Length: 1},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, tc := range []struct {
		at    float64
		index int
		skip  float64
	}{{1, 1, 0}, {2.5, 2, 0}, {4, 1, 3}, {5.9, 1, 3}} {
		p, ok := plan.At(tc.at)
		if !ok || p.Index != tc.index || !almostEqual(p.Skip, tc.skip) {
			t.Fatalf("at %v: expected clip %d skip %v, got %+v (ok=%v)", tc.at, tc.index, tc.skip, p, ok)
		}
	}
	if !plan.Silent(6.5) {
		t.Fatal("expected silence after the long clip ends")
	}
	if len(plan.Dropped) != 0 {
		t.Fatalf("expected nothing dropped, got %v", plan.Dropped)
	}
}

func TestBuildDropsClipFullyCoveredByLaterClip(t *testing.T) {
	plan, err := timeline.Build(10, []timeline.Clip{
		{Index: 1, Path: "a.wav", Start: 2, Length: 1},
		{Index: 2, Path: "b.wav", Start: 2, Length: 3},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Placements) != 1 || plan.Placements[0].Index != 2 {
		t.Fatalf("expected only clip 2 placed, got %+v", plan.Placements)
	}
	if len(plan.Dropped) != 1 || plan.Dropped[0] != 1 {
		t.Fatalf("expected clip 1 dropped, got %v", plan.Dropped)
	}
}

func TestBuildRejectsInvalidDuration(t *testing.T) {
	if _, err := timeline.Build(0, nil); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

type fakeMedia struct {
	lengths  map[string]float64
	rendered timeline.Plan
	mixed    bool
	muxed    [3]string
}

func (m *fakeMedia) Duration(_ context.Context, path string) (float64, error) {
	return m.lengths[path], nil
}

func (m *fakeMedia) RenderTimeline(_ context.Context, plan timeline.Plan, _ string) error {
	m.rendered = plan
	return nil
}

func (m *fakeMedia) MixTracks(context.Context, string, string, float64, string) error {
	m.mixed = true
	return nil
}

func (m *fakeMedia) MuxAudioVideo(_ context.Context, video, audio, out string) error {
	m.muxed = [3]string{video, audio, out}
	return nil
}

func TestAssemblerUsesIncludedRecordsOnly(t *testing.T) {
	l := ledger.New()
	for _, rec := range []ledger.Record{
		{Start: 1, End: 2, SpeakerID: "A", TranslatedText: "uno", IncludeInOutput: true},
		{Start: 3, End: 4, SpeakerID: "A", TranslatedText: "dos", IncludeInOutput: false},
		{Start: 5, End: 7, SpeakerID: "B", TranslatedText: "tres", IncludeInOutput: true},
	} {
		added, err := l.Append(rec)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := l.Update(added.Index, ledger.Patch{DubbedPath: ledger.Ptr(rec.TranslatedText + ".wav")}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	media := &fakeMedia{lengths: map[string]float64{"uno.wav": 1, "dos.wav": 1, "tres.wav": 2}}
	assembler := timeline.NewAssembler(media, nil)

	result, err := assembler.Assemble(context.Background(), timeline.AssembleRequest{
		Ledger:           l,
		Duration:         10,
		BackgroundPath:   "background.wav",
		BackgroundVolume: 1,
		WorkDir:          t.TempDir(),
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(media.rendered.Placements) != 2 {
		t.Fatalf("expected two placements, got %+v", media.rendered.Placements)
	}
	if !media.mixed || result.AudioPath == result.VocalsPath {
		t.Fatalf("expected background mix, got %+v", result)
	}

	if err := assembler.Combine(context.Background(), "video.mp4", result.AudioPath, "out.mp4"); err != nil {
		t.Fatalf("combine: %v", err)
	}
	if media.muxed[0] != "video.mp4" || media.muxed[2] != "out.mp4" {
		t.Fatalf("unexpected mux call %v", media.muxed)
	}
}
