package ledger_test

import (
	"encoding/json"
	"errors"
	"testing"

	"dubline/internal/ledger"
)

func TestParseEditsAcceptsExportAndLists(t *testing.T) {
	l := sampleLedger(t, 3)
	exported, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fromExport, err := ledger.ParseEdits(exported)
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(fromExport) != 3 || fromExport[0].TranslatedText != "hola" {
		t.Fatalf("unexpected edits %+v", fromExport)
	}
	if fromExport[0].IncludeInOutput == nil || !*fromExport[0].IncludeInOutput {
		t.Fatal("expected include flag carried from export")
	}

	list := []byte("- index: 2\n  start: 2\n  end: 3.5\n  speaker_id: SPEAKER_01\n  translated_text: adios\n  assigned_voice: voice-b\n")
	fromList, err := ledger.ParseEdits(list)
	if err != nil {
		t.Fatalf("parse yaml list: %v", err)
	}
	if len(fromList) != 1 || fromList[0].Index != 2 || fromList[0].AssignedVoice != "voice-b" {
		t.Fatalf("unexpected edits %+v", fromList)
	}
	if fromList[0].IncludeInOutput != nil {
		t.Fatal("expected include flag left unset when omitted")
	}
}

func TestParseEditsYAMLRoundTrip(t *testing.T) {
	edits := ledger.EditsFrom(sampleLedger(t, 2).All())
	data, err := ledger.MarshalEditsYAML(edits)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	parsed, err := ledger.ParseEdits(data)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	_, plan, err := ledger.Reconcile(sampleLedger(t, 2), parsed)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.Dirty) != 0 {
		t.Fatalf("expected round-tripped edits to change nothing, got %v", plan.Dirty)
	}
}

func TestParseEditsRejectsEmptyAndScalar(t *testing.T) {
	for _, input := range []string{"", "  \n", "[]", `{"records": []}`} {
		if _, err := ledger.ParseEdits([]byte(input)); !errors.Is(err, ledger.ErrEmptyEdits) {
			t.Fatalf("ParseEdits(%q) expected empty error, got %v", input, err)
		}
	}
	if _, err := ledger.ParseEdits([]byte("just text")); err == nil {
		t.Fatal("expected scalar document rejected")
	}
}
