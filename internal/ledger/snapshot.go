package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotVersion identifies the persisted snapshot layout.
const SnapshotVersion = 1

type snapshot struct {
	Version   int      `json:"version"`
	NextIndex int      `json:"next_index"`
	Records   []Record `json:"records"`
}

// MarshalJSON encodes the ledger as a versioned snapshot document.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	records := l.records
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(snapshot{Version: SnapshotVersion, NextIndex: l.nextIndex, Records: records})
}

// UnmarshalJSON restores a ledger from a snapshot document. Fingerprints are
// recomputed from content rather than trusted from the document.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode ledger snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("decode ledger snapshot: unsupported version %d", snap.Version)
	}
	restored, err := FromRecords(snap.Records)
	if err != nil {
		return fmt.Errorf("decode ledger snapshot: %w", err)
	}
	if snap.NextIndex > restored.nextIndex {
		restored.nextIndex = snap.NextIndex
	}
	*l = *restored
	return nil
}

// Decode parses a snapshot document.
func Decode(data []byte) (*Ledger, error) {
	l := New()
	if err := l.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return l, nil
}

// MetadataFileName is the exported ledger name for a target language.
func MetadataFileName(targetLanguage string) string {
	return fmt.Sprintf("utterance_metadata_%s.json", targetLanguage)
}

// Export writes the ledger as indented JSON next to the job output.
func Export(l *Ledger, dir, targetLanguage string) (string, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode ledger: %w", err)
	}
	path := filepath.Join(dir, MetadataFileName(targetLanguage))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write ledger export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize ledger export: %w", err)
	}
	return path, nil
}
