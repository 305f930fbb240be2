// Package engines declares the collaborator contracts the pipeline depends on:
// speech recognition, translation, synthesis, diarization, source separation,
// and gender classification.
//
// Concrete adapters live in subpackages and are registered with the service
// cache by internal/engines/catalog. The pipeline only sees these interfaces.
package engines

import (
	"context"

	"dubline/internal/ledger"
)

// Segment is one diarized speech turn.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Voice is a synthesis voice offered by an engine.
type Voice struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Gender    ledger.Gender `json:"gender"`
	Languages []string      `json:"languages,omitempty"`
}

// Recognizer converts speech to text.
type Recognizer interface {
	Transcribe(ctx context.Context, clipPath, language string) (string, error)
	DetectLanguage(ctx context.Context, audioPath string) (string, error)
}

// Translator translates a batch of texts. The result has the same length and
// order as texts.
type Translator interface {
	Translate(ctx context.Context, texts []string, sourceLanguage, targetLanguage string) ([]string, error)
}

// Synthesizer renders text with a voice into outPath and reports the clip
// length in seconds. A non-positive length means the engine could not tell
// and the caller should probe the file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, outPath string) (float64, error)
	Voices(ctx context.Context, language string) ([]Voice, error)
}

// Diarizer splits audio into speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]Segment, error)
}

// Separator splits audio into a vocals track and a background track.
type Separator interface {
	Separate(ctx context.Context, audioPath, outDir string) (vocalsPath, backgroundPath string, err error)
}

// GenderClassifier estimates a speaker's gender from sample clips.
type GenderClassifier interface {
	Classify(ctx context.Context, speakerID string, clipPaths []string) (ledger.Gender, error)
}

// LanguageLister is implemented by engines that declare the languages they
// support. Validation uses it to reject unsupported language pairs early.
type LanguageLister interface {
	SupportedLanguages() []string
}
