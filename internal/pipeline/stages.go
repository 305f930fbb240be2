package pipeline

import (
	"context"
	"math"
)

// Stage names as persisted in job progress and failure records.
const (
	StageValidation      = "validation"
	StageSeparation      = "separation"
	StageDiarization     = "diarization"
	StageSegmentation    = "segmentation"
	StageTranscription   = "transcription"
	StageGenderDetection = "gender-detection"
	StageTranslation     = "translation"
	StageVoiceAssignment = "voice-assignment"
	StageSynthesis       = "synthesis"
	StageAssembly        = "assembly"
	StageCombination     = "combination"
)

type stageFunc func(ctx context.Context, sc *stageContext) error

type stage struct {
	name   string
	weight float64
	run    stageFunc
}

// stageWeights is the share of overall progress each stage represents.
var stageWeights = map[string]float64{
	StageValidation:      2,
	StageSeparation:      10,
	StageDiarization:     10,
	StageSegmentation:    5,
	StageTranscription:   18,
	StageGenderDetection: 3,
	StageTranslation:     12,
	StageVoiceAssignment: 2,
	StageSynthesis:       25,
	StageAssembly:        8,
	StageCombination:     5,
}

// FullStageOrder lists the stages of a full run.
var FullStageOrder = []string{
	StageValidation,
	StageSeparation,
	StageDiarization,
	StageSegmentation,
	StageTranscription,
	StageGenderDetection,
	StageTranslation,
	StageVoiceAssignment,
	StageSynthesis,
	StageAssembly,
	StageCombination,
}

// Weight returns the progress weight of a stage, or 0 for unknown names.
func Weight(name string) float64 {
	return stageWeights[name]
}

// band is the [start, end] percentage interval a stage reports within.
type band struct {
	start float64
	end   float64
}

func (b band) at(fraction float64) float64 {
	fraction = min(max(fraction, 0), 1)
	return roundPercent(b.start + fraction*(b.end-b.start))
}

// bands splits 0..100 across stages proportionally to their weights. The last
// band always ends at exactly 100.
func bands(stages []stage) []band {
	total := 0.0
	for _, st := range stages {
		total += st.weight
	}
	out := make([]band, len(stages))
	if total <= 0 {
		return out
	}
	cumulative := 0.0
	for i, st := range stages {
		start := 100 * cumulative / total
		cumulative += st.weight
		end := 100 * cumulative / total
		if i == len(stages)-1 {
			end = 100
		}
		out[i] = band{start: start, end: end}
	}
	return out
}

func roundPercent(p float64) float64 {
	return math.Round(p*100) / 100
}
