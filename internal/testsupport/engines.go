package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dubline/internal/engines"
	"dubline/internal/ledger"
	"dubline/internal/servicecache"
)

// ErrFakeEngine is returned by fakes told to fail.
var ErrFakeEngine = errors.New("fake engine failure")

// FakeRecognizer transcribes every clip to the same text unless Texts maps
// the clip's base name to something else.
type FakeRecognizer struct {
	Text      string
	Texts     map[string]string
	Detected  string
	Languages []string

	mu    sync.Mutex
	calls int
}

func (f *FakeRecognizer) Transcribe(_ context.Context, clipPath, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if text, ok := f.Texts[filepath.Base(clipPath)]; ok {
		return text, nil
	}
	if f.Text != "" {
		return f.Text, nil
	}
	return "hello there", nil
}

func (f *FakeRecognizer) DetectLanguage(context.Context, string) (string, error) {
	if f.Detected == "" {
		return "en", nil
	}
	return f.Detected, nil
}

func (f *FakeRecognizer) SupportedLanguages() []string { return f.Languages }

// Calls returns the number of transcriptions performed.
func (f *FakeRecognizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeTranslator prefixes each text with the target language.
type FakeTranslator struct {
	// Failures is the number of leading calls that fail.
	Failures int

	mu      sync.Mutex
	batches int
}

func (f *FakeTranslator) Translate(_ context.Context, texts []string, _, target string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.Failures > 0 {
		f.Failures--
		return nil, ErrFakeEngine
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = target + ": " + text
	}
	return out, nil
}

// Batches returns the number of Translate calls.
func (f *FakeTranslator) Batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// FakeSynthesizer writes a placeholder clip per call.
type FakeSynthesizer struct {
	// Seconds is the reported clip length; zero asks the caller to probe.
	Seconds float64
	// FailText makes any call whose text contains it fail.
	FailText string
	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}
	// Started receives one value per call that reached the gate.
	Started chan struct{}
	Pool    []engines.Voice

	mu    sync.Mutex
	texts []string
}

func (f *FakeSynthesizer) Synthesize(ctx context.Context, text, voiceID, outPath string) (float64, error) {
	if f.Started != nil {
		select {
		case f.Started <- struct{}{}:
		default:
		}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.FailText != "" && strings.Contains(text, f.FailText) {
		return 0, ErrFakeEngine
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(outPath, []byte(voiceID+"|"+text), 0o644); err != nil {
		return 0, err
	}
	return f.Seconds, nil
}

func (f *FakeSynthesizer) Voices(context.Context, string) ([]engines.Voice, error) {
	if f.Pool != nil {
		return f.Pool, nil
	}
	return []engines.Voice{
		{ID: "voice-m1", Gender: ledger.GenderMale},
		{ID: "voice-f1", Gender: ledger.GenderFemale},
		{ID: "voice-m2", Gender: ledger.GenderMale},
	}, nil
}

// Texts returns every text synthesized so far, in call order.
func (f *FakeSynthesizer) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// FakeDiarizer returns fixed segments.
type FakeDiarizer struct {
	Segments []engines.Segment
}

func (f *FakeDiarizer) Diarize(context.Context, string) ([]engines.Segment, error) {
	return append([]engines.Segment(nil), f.Segments...), nil
}

// FakeSeparator writes vocals and background tracks into outDir.
type FakeSeparator struct {
	NoBackground bool
}

func (f *FakeSeparator) Separate(_ context.Context, _, outDir string) (string, string, error) {
	vocals := filepath.Join(outDir, "vocals.wav")
	if err := os.WriteFile(vocals, []byte("vocals"), 0o644); err != nil {
		return "", "", err
	}
	if f.NoBackground {
		return vocals, "", nil
	}
	background := filepath.Join(outDir, "no_vocals.wav")
	if err := os.WriteFile(background, []byte("background"), 0o644); err != nil {
		return "", "", err
	}
	return vocals, background, nil
}

// FakeGender reports fixed genders per speaker.
type FakeGender struct {
	Genders map[string]ledger.Gender
}

func (f *FakeGender) Classify(_ context.Context, speakerID string, _ []string) (ledger.Gender, error) {
	if g, ok := f.Genders[speakerID]; ok {
		return g, nil
	}
	return ledger.GenderUnknown, nil
}

// Engines bundles one fake per collaborator kind.
type Engines struct {
	Recognizer  *FakeRecognizer
	Translator  *FakeTranslator
	Synthesizer *FakeSynthesizer
	Diarizer    *FakeDiarizer
	Separator   *FakeSeparator
	Gender      *FakeGender
}

// NewEngines returns fakes with two speakers alternating over segments
// 2 seconds apart.
func NewEngines(segments int) *Engines {
	diarizer := &FakeDiarizer{}
	for i := 0; i < segments; i++ {
		start := float64(i * 2)
		diarizer.Segments = append(diarizer.Segments, engines.Segment{
			Start:   start,
			End:     start + 1.5,
			Speaker: []string{"SPEAKER_00", "SPEAKER_01"}[i%2],
		})
	}
	return &Engines{
		Recognizer:  &FakeRecognizer{},
		Translator:  &FakeTranslator{},
		Synthesizer: &FakeSynthesizer{Seconds: 1.5},
		Diarizer:    diarizer,
		Separator:   &FakeSeparator{},
		Gender: &FakeGender{Genders: map[string]ledger.Gender{
			"SPEAKER_00": ledger.GenderMale,
			"SPEAKER_01": ledger.GenderFemale,
		}},
	}
}

// Cache registers the fakes under the default engine names and returns a
// service cache over them.
func (e *Engines) Cache() *servicecache.Cache {
	reg := servicecache.NewRegistry()
	fixed := func(handle any) servicecache.Factory {
		return func(context.Context, servicecache.Key) (any, error) { return handle, nil }
	}
	reg.Register(servicecache.KindRecognizer, "whisperx", fixed(e.Recognizer))
	reg.Register(servicecache.KindTranslator, "llm", fixed(e.Translator))
	reg.Register(servicecache.KindSynthesizer, "tts_api", fixed(e.Synthesizer))
	reg.Register(servicecache.KindDiarizer, "whisperx", fixed(e.Diarizer))
	reg.Register(servicecache.KindSeparator, "demucs", fixed(e.Separator))
	reg.Register(servicecache.KindGender, "none", fixed(e.Gender))
	return servicecache.New(reg, servicecache.WithMemoryProbe(nil))
}
