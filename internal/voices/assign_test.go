package voices_test

import (
	"errors"
	"testing"

	"dubline/internal/engines"
	"dubline/internal/ledger"
	"dubline/internal/services"
	"dubline/internal/voices"
)

func buildLedger(t *testing.T, speakers []string, genders map[string]ledger.Gender) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	for i, sp := range speakers {
		start := float64(i)
		if _, err := l.Append(ledger.Record{
			Start: start, End: start + 0.5, SpeakerID: sp, TranslatedText: "hola",
			Gender: genders[sp], IncludeInOutput: true,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return l
}

var pool = []engines.Voice{
	{ID: "m1", Gender: ledger.GenderMale},
	{ID: "f1", Gender: ledger.GenderFemale},
	{ID: "m2", Gender: ledger.GenderMale},
	{ID: "n1", Gender: ledger.GenderUnknown},
}

func TestAssignRoundRobinWithinGender(t *testing.T) {
	genders := map[string]ledger.Gender{"A": ledger.GenderMale, "B": ledger.GenderMale, "C": ledger.GenderMale, "D": ledger.GenderFemale}
	l := buildLedger(t, []string{"A", "B", "A", "C", "D"}, genders)
	got, err := voices.Assign(l, pool)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	want := voices.Assignment{"A": "m1", "B": "m2", "C": "m1", "D": "f1"}
	for speaker, voice := range want {
		if got[speaker] != voice {
			t.Fatalf("speaker %s got %q, want %q (all %v)", speaker, got[speaker], voice, got)
		}
	}
}

func TestAssignUnknownGenderAndEmptyBucketUseFullPool(t *testing.T) {
	maleOnly := []engines.Voice{{ID: "m1", Gender: ledger.GenderMale}, {ID: "m2", Gender: ledger.GenderMale}}
	genders := map[string]ledger.Gender{"A": ledger.GenderFemale, "B": ledger.GenderUnknown}
	l := buildLedger(t, []string{"A", "B"}, genders)
	got, err := voices.Assign(l, maleOnly)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got["A"] != "m1" || got["B"] != "m2" {
		t.Fatalf("expected full-pool fallback, got %v", got)
	}
}

func TestAssignKeepsExistingVoices(t *testing.T) {
	genders := map[string]ledger.Gender{"A": ledger.GenderMale, "B": ledger.GenderMale}
	l := buildLedger(t, []string{"A", "B"}, genders)
	if _, err := l.Update(1, ledger.Patch{AssignedVoice: ledger.Ptr("m2")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := l.Update(2, ledger.Patch{AssignedVoice: ledger.Ptr("retired")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := voices.Assign(l, pool)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got["A"] != "m2" {
		t.Fatalf("expected existing voice kept, got %q", got["A"])
	}
	if got["B"] == "retired" || got["B"] == "" {
		t.Fatalf("expected retired voice replaced, got %q", got["B"])
	}

	changed, err := voices.Apply(l, got)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(changed) != 1 || changed[0] != 2 {
		t.Fatalf("expected only record 2 changed, got %v", changed)
	}
}

func TestAssignSkipsVoicesHeldByKeptSpeakers(t *testing.T) {
	femalePool := []engines.Voice{{ID: "f1", Gender: ledger.GenderFemale}, {ID: "f2", Gender: ledger.GenderFemale}}
	genders := map[string]ledger.Gender{"A": ledger.GenderFemale, "B": ledger.GenderFemale, "C": ledger.GenderFemale}
	l := buildLedger(t, []string{"A", "B"}, genders)
	if _, err := l.Update(1, ledger.Patch{AssignedVoice: ledger.Ptr("f1")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := voices.Assign(l, femalePool)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got["A"] != "f1" || got["B"] != "f2" {
		t.Fatalf("expected distinct voices, got %v", got)
	}

	// Once the bucket is exhausted voices are shared again.
	if _, err := l.Append(ledger.Record{Start: 5, End: 5.5, SpeakerID: "C", TranslatedText: "hola", Gender: genders["C"], IncludeInOutput: true}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err = voices.Assign(l, femalePool)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got["A"] != "f1" || got["B"] != "f2" || got["C"] == "" {
		t.Fatalf("unexpected wrapped assignment %v", got)
	}
}

func TestAssignReplacesVoiceAfterGenderChange(t *testing.T) {
	l := buildLedger(t, []string{"A"}, map[string]ledger.Gender{"A": ledger.GenderFemale})
	if _, err := l.Update(1, ledger.Patch{AssignedVoice: ledger.Ptr("m1")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := voices.Assign(l, pool)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got["A"] != "f1" {
		t.Fatalf("expected female voice after reclassification, got %q", got["A"])
	}
}

func TestAssignEmptyPool(t *testing.T) {
	l := buildLedger(t, []string{"A"}, nil)
	_, err := voices.Assign(l, nil)
	if !errors.Is(err, voices.ErrEmptyPool) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected empty pool validation error, got %v", err)
	}
}
