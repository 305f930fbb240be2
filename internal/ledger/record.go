package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Gender is the perceived gender of a speaker, used to pick voices.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// ParseGender maps free-form labels onto the known genders.
func ParseGender(value string) Gender {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "male", "m", "man":
		return GenderMale
	case "female", "f", "woman":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// Record is one utterance of the source audio and everything derived from it.
type Record struct {
	Index           int     `json:"index" yaml:"index"`
	Start           float64 `json:"start" yaml:"start"`
	End             float64 `json:"end" yaml:"end"`
	SpeakerID       string  `json:"speaker_id" yaml:"speaker_id"`
	SourceText      string  `json:"source_text" yaml:"source_text"`
	TranslatedText  string  `json:"translated_text" yaml:"translated_text"`
	Gender          Gender  `json:"gender,omitempty" yaml:"gender,omitempty"`
	AssignedVoice   string  `json:"assigned_voice" yaml:"assigned_voice"`
	SpeedFactor     float64 `json:"speed_factor,omitempty" yaml:"speed_factor,omitempty"`
	SourceClipPath  string  `json:"source_clip_path,omitempty" yaml:"source_clip_path,omitempty"`
	DubbedPath      string  `json:"dubbed_path,omitempty" yaml:"dubbed_path,omitempty"`
	Fingerprint     string  `json:"fingerprint" yaml:"fingerprint"`
	IncludeInOutput bool    `json:"include_in_output" yaml:"include_in_output"`
}

// Duration returns the length of the source window in seconds.
func (r Record) Duration() float64 {
	return r.End - r.Start
}

// Synthesized reports whether the record has a usable dubbed clip.
func (r Record) Synthesized() bool {
	return r.DubbedPath != ""
}

// Fingerprint hashes the fields that determine synthesized audio.
func Fingerprint(translatedText, assignedVoice string) string {
	payload, _ := json.Marshal(struct {
		AssignedVoice  string `json:"assigned_voice"`
		TranslatedText string `json:"translated_text"`
	}{assignedVoice, translatedText})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (r *Record) refreshFingerprint() bool {
	next := Fingerprint(r.TranslatedText, r.AssignedVoice)
	changed := next != r.Fingerprint
	r.Fingerprint = next
	return changed
}

// Patch holds optional field updates for Ledger.Update. Nil fields are left untouched.
type Patch struct {
	Start           *float64
	End             *float64
	SpeakerID       *string
	SourceText      *string
	TranslatedText  *string
	Gender          *Gender
	AssignedVoice   *string
	SpeedFactor     *float64
	SourceClipPath  *string
	DubbedPath      *string
	IncludeInOutput *bool
}

// Ptr returns a pointer to v; convenient for building patches.
func Ptr[T any](v T) *T { return &v }

func (p Patch) apply(rec *Record) {
	if p.Start != nil {
		rec.Start = *p.Start
	}
	if p.End != nil {
		rec.End = *p.End
	}
	if p.SpeakerID != nil {
		rec.SpeakerID = *p.SpeakerID
	}
	if p.SourceText != nil {
		rec.SourceText = *p.SourceText
	}
	if p.TranslatedText != nil {
		rec.TranslatedText = *p.TranslatedText
	}
	if p.Gender != nil {
		rec.Gender = *p.Gender
	}
	if p.AssignedVoice != nil {
		rec.AssignedVoice = *p.AssignedVoice
	}
	if p.SpeedFactor != nil {
		rec.SpeedFactor = *p.SpeedFactor
	}
	if p.SourceClipPath != nil {
		rec.SourceClipPath = *p.SourceClipPath
	}
	if p.IncludeInOutput != nil {
		rec.IncludeInOutput = *p.IncludeInOutput
	}
}
