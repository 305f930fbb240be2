// Package gender provides speaker gender classifiers.
//
// No acoustic model ships with dubline; "none" leaves every speaker unknown
// (voice assignment then draws from the whole pool) and "static" reads
// operator-supplied labels keyed by speaker id.
package gender

import (
	"context"

	"dubline/internal/ledger"
)

// Unknown classifies every speaker as unknown.
type Unknown struct{}

// Classify implements engines.GenderClassifier.
func (Unknown) Classify(context.Context, string, []string) (ledger.Gender, error) {
	return ledger.GenderUnknown, nil
}

// Static returns configured labels.
type Static struct {
	labels map[string]ledger.Gender
}

// NewStatic builds a classifier from speaker id to label.
func NewStatic(labels map[string]string) *Static {
	parsed := make(map[string]ledger.Gender, len(labels))
	for speaker, label := range labels {
		parsed[speaker] = ledger.ParseGender(label)
	}
	return &Static{labels: parsed}
}

// Classify implements engines.GenderClassifier.
func (s *Static) Classify(ctx context.Context, speakerID string, _ []string) (ledger.Gender, error) {
	if err := ctx.Err(); err != nil {
		return ledger.GenderUnknown, err
	}
	if g, ok := s.labels[speakerID]; ok {
		return g, nil
	}
	return ledger.GenderUnknown, nil
}
