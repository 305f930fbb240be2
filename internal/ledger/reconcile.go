package ledger

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Edit is a user-supplied revision of one record. Records are matched to the
// baseline by Index; a zero Index adds a new record.
type Edit struct {
	Index           int     `json:"index" yaml:"index"`
	Start           float64 `json:"start" yaml:"start"`
	End             float64 `json:"end" yaml:"end"`
	SpeakerID       string  `json:"speaker_id" yaml:"speaker_id"`
	SourceText      string  `json:"source_text,omitempty" yaml:"source_text,omitempty"`
	TranslatedText  string  `json:"translated_text" yaml:"translated_text"`
	Gender          Gender  `json:"gender,omitempty" yaml:"gender,omitempty"`
	AssignedVoice   string  `json:"assigned_voice" yaml:"assigned_voice"`
	IncludeInOutput *bool   `json:"include_in_output,omitempty" yaml:"include_in_output,omitempty"`
}

// EditsFrom converts records into edits, the shape produced by exporting a ledger.
func EditsFrom(records []Record) []Edit {
	out := make([]Edit, 0, len(records))
	for _, rec := range records {
		out = append(out, Edit{
			Index:           rec.Index,
			Start:           rec.Start,
			End:             rec.End,
			SpeakerID:       rec.SpeakerID,
			SourceText:      rec.SourceText,
			TranslatedText:  rec.TranslatedText,
			Gender:          rec.Gender,
			AssignedVoice:   rec.AssignedVoice,
			IncludeInOutput: Ptr(rec.IncludeInOutput),
		})
	}
	return out
}

// Plan describes the work an incremental update has to do.
type Plan struct {
	// Dirty lists records needing new synthesis, ascending by index.
	Dirty []int
	// Added lists indices that were not in the baseline.
	Added []int
	// Removed lists baseline indices absent from the edit; they are excluded from output.
	Removed []int
	// ReassignVoices is set when a speaker appeared that the baseline had no
	// voice for, a speaker's gender changed, or an active record lost its
	// voice.
	ReassignVoices bool
}

// windowEpsilon absorbs float noise from edit files when comparing windows.
const windowEpsilon = 1e-6

// Reconcile merges edits onto a copy of baseline and reports which records
// must be resynthesized. A record is dirty when it is new, when its
// fingerprint over (translated text, assigned voice) differs from the
// baseline, when its timing window changed length, or when it is active
// without a dubbed clip. Moving a record without resizing it keeps its clip. Baseline is not
// modified.
func Reconcile(baseline *Ledger, edits []Edit) (*Ledger, Plan, error) {
	merged := baseline.Clone()
	var plan Plan

	baselineGenders := speakerGenders(baseline)

	seen := make(map[int]struct{}, len(edits))
	for _, edit := range edits {
		if edit.Index != 0 {
			if _, dup := seen[edit.Index]; dup {
				return nil, Plan{}, fmt.Errorf("%w: %d appears twice in edit", ErrDuplicateIndex, edit.Index)
			}
		}
		include := strings.TrimSpace(edit.TranslatedText) != ""
		if edit.IncludeInOutput != nil {
			include = include && *edit.IncludeInOutput
		}
		gender := edit.Gender
		if gender == "" {
			gender = GenderUnknown
		}

		before, exists := merged.Get(edit.Index)
		if !exists {
			rec, err := merged.Append(Record{
				Index:           edit.Index,
				Start:           edit.Start,
				End:             edit.End,
				SpeakerID:       edit.SpeakerID,
				SourceText:      edit.SourceText,
				TranslatedText:  edit.TranslatedText,
				Gender:          gender,
				AssignedVoice:   edit.AssignedVoice,
				IncludeInOutput: include,
			})
			if err != nil {
				return nil, Plan{}, fmt.Errorf("add record: %w", err)
			}
			seen[rec.Index] = struct{}{}
			plan.Added = append(plan.Added, rec.Index)
			if include {
				plan.Dirty = append(plan.Dirty, rec.Index)
			}
			continue
		}
		seen[edit.Index] = struct{}{}

		patch := Patch{
			Start:           Ptr(edit.Start),
			End:             Ptr(edit.End),
			SpeakerID:       Ptr(edit.SpeakerID),
			TranslatedText:  Ptr(edit.TranslatedText),
			Gender:          Ptr(gender),
			AssignedVoice:   Ptr(edit.AssignedVoice),
			IncludeInOutput: Ptr(include),
		}
		if edit.SourceText != "" {
			patch.SourceText = Ptr(edit.SourceText)
		}
		after, err := merged.Update(edit.Index, patch)
		if err != nil {
			return nil, Plan{}, fmt.Errorf("update record %d: %w", edit.Index, err)
		}
		if !after.IncludeInOutput {
			continue
		}
		if after.Synthesized() && math.Abs(after.Duration()-before.Duration()) > windowEpsilon {
			// The clip was fitted to the old window; speed sync must be redone.
			if after, err = merged.Update(edit.Index, Patch{DubbedPath: Ptr("")}); err != nil {
				return nil, Plan{}, fmt.Errorf("update record %d: %w", edit.Index, err)
			}
		}
		if after.Fingerprint != before.Fingerprint || !after.Synthesized() {
			plan.Dirty = append(plan.Dirty, edit.Index)
		}
	}

	for _, rec := range baseline.All() {
		if _, ok := seen[rec.Index]; ok {
			continue
		}
		plan.Removed = append(plan.Removed, rec.Index)
		if _, err := merged.Update(rec.Index, Patch{IncludeInOutput: Ptr(false)}); err != nil {
			return nil, Plan{}, fmt.Errorf("exclude record %d: %w", rec.Index, err)
		}
	}

	mergedGenders := speakerGenders(merged)
	for rec := range merged.Active() {
		before, known := baselineGenders[rec.SpeakerID]
		if rec.AssignedVoice == "" || !known || before != mergedGenders[rec.SpeakerID] {
			plan.ReassignVoices = true
			break
		}
	}

	slices.Sort(plan.Dirty)
	slices.Sort(plan.Added)
	slices.Sort(plan.Removed)
	return merged, plan, nil
}

// speakerGenders maps each active speaker to the first known gender among
// its records.
func speakerGenders(l *Ledger) map[string]Gender {
	out := make(map[string]Gender)
	for rec := range l.Active() {
		gender := rec.Gender
		if gender == "" {
			gender = GenderUnknown
		}
		if g, ok := out[rec.SpeakerID]; !ok || g == GenderUnknown {
			out[rec.SpeakerID] = gender
		}
	}
	return out
}
