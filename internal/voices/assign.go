// Package voices maps diarized speakers onto synthesis voices.
package voices

import (
	"errors"
	"fmt"
	"slices"

	"dubline/internal/engines"
	"dubline/internal/ledger"
	"dubline/internal/services"
)

// ErrEmptyPool is returned when the synthesizer offers no voices.
var ErrEmptyPool = errors.New("no synthesis voices available")

// Assignment maps speaker id to voice id.
type Assignment map[string]string

// Assign picks a voice for every speaker with active records, in first-seen
// order. Voices are handed out round-robin within the speaker's gender
// bucket, skipping voices another speaker already holds until the bucket is
// exhausted; an unknown gender or an empty bucket draws from the whole pool.
// A speaker keeps its current voice while the pool still offers it in the
// speaker's bucket.
func Assign(l *ledger.Ledger, pool []engines.Voice) (Assignment, error) {
	if len(pool) == 0 {
		return nil, services.Wrap(services.ErrValidation, "voice-assignment", "assign voices", "", ErrEmptyPool)
	}
	buckets := map[ledger.Gender][]string{}
	for _, voice := range pool {
		buckets[ledger.GenderUnknown] = append(buckets[ledger.GenderUnknown], voice.ID)
		if voice.Gender == ledger.GenderMale || voice.Gender == ledger.GenderFemale {
			buckets[voice.Gender] = append(buckets[voice.Gender], voice.ID)
		}
	}
	bucketFor := func(g ledger.Gender) (ledger.Gender, []string) {
		if bucket := buckets[g]; g != ledger.GenderUnknown && len(bucket) > 0 {
			return g, bucket
		}
		return ledger.GenderUnknown, buckets[ledger.GenderUnknown]
	}

	current := map[string]string{}
	genders := map[string]ledger.Gender{}
	for rec := range l.Active() {
		if g, ok := genders[rec.SpeakerID]; !ok || g == ledger.GenderUnknown {
			genders[rec.SpeakerID] = rec.Gender
		}
		if _, ok := current[rec.SpeakerID]; !ok && rec.AssignedVoice != "" {
			current[rec.SpeakerID] = rec.AssignedVoice
		}
	}

	assignment := Assignment{}
	used := map[string]struct{}{}
	for _, speaker := range l.Speakers() {
		voice, ok := current[speaker]
		if !ok {
			continue
		}
		if _, bucket := bucketFor(genders[speaker]); slices.Contains(bucket, voice) {
			assignment[speaker] = voice
			used[voice] = struct{}{}
		}
	}

	next := map[ledger.Gender]int{}
	for _, speaker := range l.Speakers() {
		if _, ok := assignment[speaker]; ok {
			continue
		}
		gender, bucket := bucketFor(genders[speaker])
		pick := -1
		for i := range bucket {
			candidate := (next[gender] + i) % len(bucket)
			if _, taken := used[bucket[candidate]]; !taken {
				pick = candidate
				break
			}
		}
		if pick < 0 {
			pick = next[gender] % len(bucket)
		}
		voice := bucket[pick]
		assignment[speaker] = voice
		used[voice] = struct{}{}
		next[gender] = pick + 1
	}
	return assignment, nil
}

// Apply writes the assignment onto every active record and returns the
// indices whose voice changed. Changing a voice invalidates the record's
// dubbed clip.
func Apply(l *ledger.Ledger, assignment Assignment) ([]int, error) {
	var changed []int
	for _, rec := range l.All() {
		if !rec.IncludeInOutput {
			continue
		}
		voice, ok := assignment[rec.SpeakerID]
		if !ok || voice == rec.AssignedVoice {
			continue
		}
		if _, err := l.Update(rec.Index, ledger.Patch{AssignedVoice: ledger.Ptr(voice)}); err != nil {
			return changed, fmt.Errorf("assign voice to record %d: %w", rec.Index, err)
		}
		changed = append(changed, rec.Index)
	}
	return changed, nil
}
