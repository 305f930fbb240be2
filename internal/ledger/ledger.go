package ledger

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	// ErrRecordNotFound is returned when an index is not present in the ledger.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateIndex is returned when appending an index that already exists.
	ErrDuplicateIndex = errors.New("duplicate record index")
	// ErrInvalidWindow is returned when a record does not satisfy end > start >= 0.
	ErrInvalidWindow = errors.New("invalid record window")
)

// Ledger is the ordered collection of utterance records for one job.
//
// A Ledger has a single writer (the orchestrator); it is not safe for
// concurrent mutation. Records stay sorted ascending by Start, ties broken by
// Index, and indices never change once assigned.
type Ledger struct {
	records   []Record
	nextIndex int
}

// New returns an empty ledger whose first appended record gets index 1.
func New() *Ledger {
	return &Ledger{nextIndex: 1}
}

// FromRecords builds a ledger from existing records, preserving their indices.
func FromRecords(records []Record) (*Ledger, error) {
	l := New()
	for _, rec := range records {
		if _, err := l.Append(rec); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Append inserts rec, assigning the next free index when rec.Index is zero.
// The fingerprint is computed from the record's content.
func (l *Ledger) Append(rec Record) (Record, error) {
	if err := validateWindow(rec); err != nil {
		return Record{}, err
	}
	if rec.Index == 0 {
		rec.Index = l.nextIndex
	}
	if rec.Index < 0 {
		return Record{}, fmt.Errorf("%w: index %d must be positive", ErrInvalidWindow, rec.Index)
	}
	if _, ok := l.position(rec.Index); ok {
		return Record{}, fmt.Errorf("%w: %d", ErrDuplicateIndex, rec.Index)
	}
	if rec.Gender == "" {
		rec.Gender = GenderUnknown
	}
	rec.refreshFingerprint()
	l.insertSorted(rec)
	if rec.Index >= l.nextIndex {
		l.nextIndex = rec.Index + 1
	}
	return rec, nil
}

// All returns a copy of every record in timeline order.
func (l *Ledger) All() []Record {
	return slices.Clone(l.records)
}

// Get returns the record with the given index.
func (l *Ledger) Get(index int) (Record, bool) {
	pos, ok := l.position(index)
	if !ok {
		return Record{}, false
	}
	return l.records[pos], true
}

// Update applies patch to the record at index. When the translated text or
// the assigned voice change the fingerprint is recomputed and any dubbed clip
// is invalidated; an explicit DubbedPath in the same patch is applied after
// invalidation.
func (l *Ledger) Update(index int, patch Patch) (Record, error) {
	pos, ok := l.position(index)
	if !ok {
		return Record{}, fmt.Errorf("%w: %d", ErrRecordNotFound, index)
	}
	rec := l.records[pos]
	patch.apply(&rec)
	if err := validateWindow(rec); err != nil {
		return Record{}, err
	}
	if rec.refreshFingerprint() {
		rec.DubbedPath = ""
		rec.SpeedFactor = 0
	}
	if patch.DubbedPath != nil {
		rec.DubbedPath = *patch.DubbedPath
	}

	startChanged := rec.Start != l.records[pos].Start
	if startChanged {
		l.records = slices.Delete(l.records, pos, pos+1)
		l.insertSorted(rec)
	} else {
		l.records[pos] = rec
	}
	return rec, nil
}

// Filter returns a lazy view over records matching pred. The view reads the
// ledger at iteration time, so ranging over it again reflects later updates.
func (l *Ledger) Filter(pred func(Record) bool) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for i := 0; i < len(l.records); i++ {
			rec := l.records[i]
			if pred != nil && !pred(rec) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Included is the view of records that belong in the output timeline.
func (l *Ledger) Included() iter.Seq[Record] {
	return l.Filter(func(r Record) bool { return r.IncludeInOutput && r.Synthesized() })
}

// Active is the view of records still scheduled for output, synthesized or not.
func (l *Ledger) Active() iter.Seq[Record] {
	return l.Filter(func(r Record) bool { return r.IncludeInOutput })
}

// Speakers returns speaker ids of active records in first-seen timeline order.
func (l *Ledger) Speakers() []string {
	seen := make(map[string]struct{})
	var out []string
	for rec := range l.Active() {
		if _, ok := seen[rec.SpeakerID]; ok {
			continue
		}
		seen[rec.SpeakerID] = struct{}{}
		out = append(out, rec.SpeakerID)
	}
	return out
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{records: slices.Clone(l.records), nextIndex: l.nextIndex}
}

func (l *Ledger) position(index int) (int, bool) {
	for i := range l.records {
		if l.records[i].Index == index {
			return i, true
		}
	}
	return 0, false
}

func (l *Ledger) insertSorted(rec Record) {
	pos, _ := slices.BinarySearchFunc(l.records, rec, compareRecords)
	l.records = slices.Insert(l.records, pos, rec)
}

func compareRecords(a, b Record) int {
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	default:
		return a.Index - b.Index
	}
}

func validateWindow(rec Record) error {
	if rec.Start < 0 || rec.End <= rec.Start {
		return fmt.Errorf("%w: record %d [%.3f, %.3f]", ErrInvalidWindow, rec.Index, rec.Start, rec.End)
	}
	return nil
}
