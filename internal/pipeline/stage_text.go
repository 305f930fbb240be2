package pipeline

import (
	"context"
	"fmt"
	"strings"

	"dubline/internal/engines"
	"dubline/internal/language"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/servicecache"
	"dubline/internal/services"
)

const (
	genderSampleClips     = 3
	defaultTranslateBatch = 20
)

// transcribe fills SourceText for every active record. Records whose speech
// comes back empty are excluded from the output.
func (o *Orchestrator) transcribe(ctx context.Context, sc *stageContext) error {
	r := sc.run
	recognizer, err := resolve[engines.Recognizer](ctx, sc, servicecache.KindRecognizer)
	if err != nil {
		return err
	}

	if language.IsAuto(r.sourceLanguage) {
		var detected string
		err := sc.retry(ctx, services.NoRecord, func(ctx context.Context) error {
			var err error
			detected, err = recognizer.DetectLanguage(ctx, r.vocalsPath)
			return err
		})
		if err != nil {
			return err
		}
		source, err := language.Normalize(detected)
		if err != nil {
			return invalid(sc.name, "detect language", "", err)
		}
		if language.SameBase(source, r.targetLanguage) {
			return invalid(sc.name, "language pair",
				fmt.Sprintf("detected source is already %s", language.DisplayName(source)), nil)
		}
		r.sourceLanguage = source
		sc.logger.Info("source language detected",
			logging.String("language", source),
			logging.String("language_name", language.DisplayName(source)),
		)
	}

	lang := language.ToISO2(r.sourceLanguage)
	records := activeRecords(r.ledger)
	excluded := 0
	for i, rec := range records {
		var text string
		err := sc.retry(ctx, rec.Index, func(ctx context.Context) error {
			var err error
			text, err = recognizer.Transcribe(ctx, rec.SourceClipPath, lang)
			return err
		})
		if err != nil {
			return err
		}
		patch := ledger.Patch{SourceText: ledger.Ptr(strings.TrimSpace(text))}
		if *patch.SourceText == "" {
			patch.IncludeInOutput = ledger.Ptr(false)
			excluded++
		}
		if _, err := r.ledger.Update(rec.Index, patch); err != nil {
			return services.AtStage(sc.name, rec.Index, err)
		}
		sc.report(ctx, float64(i+1)/float64(len(records)), fmt.Sprintf("transcribed %d/%d", i+1, len(records)))
	}
	if excluded > 0 {
		sc.logger.Info("records without speech excluded", logging.Int("records", excluded))
	}
	return nil
}

// detectGender classifies each speaker from a few of their clips and stamps
// the result on every record of that speaker. A classifier failure leaves
// the speaker's gender unknown.
func (o *Orchestrator) detectGender(ctx context.Context, sc *stageContext) error {
	r := sc.run
	classifier, err := resolve[engines.GenderClassifier](ctx, sc, servicecache.KindGender)
	if err != nil {
		return err
	}

	samples := map[string][]string{}
	for rec := range r.ledger.Active() {
		if rec.SourceClipPath != "" && len(samples[rec.SpeakerID]) < genderSampleClips {
			samples[rec.SpeakerID] = append(samples[rec.SpeakerID], rec.SourceClipPath)
		}
	}
	speakers := r.ledger.Speakers()
	for i, speaker := range speakers {
		var gender ledger.Gender
		err := sc.retry(ctx, services.NoRecord, func(ctx context.Context) error {
			var err error
			gender, err = classifier.Classify(ctx, speaker, samples[speaker])
			return err
		})
		if err != nil {
			if services.IsCancellation(err) {
				return err
			}
			logging.WarnWithContext(sc.logger, "gender classification failed", "gender_classification_failed",
				logging.String("speaker", speaker),
				logging.Error(err),
				logging.String(logging.FieldImpact, "speaker draws from the full voice pool"),
				logging.String(logging.FieldErrorHint, "check the gender engine configuration"),
			)
			gender = ledger.GenderUnknown
		}
		for _, rec := range r.ledger.All() {
			if rec.SpeakerID != speaker || rec.Gender == gender {
				continue
			}
			if _, err := r.ledger.Update(rec.Index, ledger.Patch{Gender: ledger.Ptr(gender)}); err != nil {
				return services.AtStage(sc.name, rec.Index, err)
			}
		}
		sc.logger.Debug("speaker classified", logging.String("speaker", speaker), logging.String("gender", string(gender)))
		sc.report(ctx, float64(i+1)/float64(len(speakers)), "")
	}
	return nil
}

// translate fills TranslatedText for every active record in batches.
func (o *Orchestrator) translate(ctx context.Context, sc *stageContext) error {
	r := sc.run
	translator, err := resolve[engines.Translator](ctx, sc, servicecache.KindTranslator)
	if err != nil {
		return err
	}
	batchSize := o.cfg.Engines.Translation.BatchSize
	if batchSize <= 0 {
		batchSize = defaultTranslateBatch
	}
	source := language.ToISO2(r.sourceLanguage)
	target := language.ToISO2(r.targetLanguage)

	records := activeRecords(r.ledger)
	for start := 0; start < len(records); start += batchSize {
		batch := records[start:min(start+batchSize, len(records))]
		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.SourceText
		}

		var translated []string
		err := sc.retry(ctx, batch[0].Index, func(ctx context.Context) error {
			out, err := translator.Translate(ctx, texts, source, target)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return services.Wrap(services.ErrCollaborator, sc.name, "translate",
					fmt.Sprintf("expected %d translations, got %d", len(texts), len(out)), nil)
			}
			translated = out
			return nil
		})
		if err != nil {
			return err
		}
		for i, rec := range batch {
			text := strings.TrimSpace(translated[i])
			patch := ledger.Patch{TranslatedText: ledger.Ptr(text)}
			if text == "" {
				patch.IncludeInOutput = ledger.Ptr(false)
			}
			if _, err := r.ledger.Update(rec.Index, patch); err != nil {
				return services.AtStage(sc.name, rec.Index, err)
			}
		}
		done := min(start+batchSize, len(records))
		sc.report(ctx, float64(done)/float64(len(records)), fmt.Sprintf("translated %d/%d", done, len(records)))
	}
	return nil
}

func activeRecords(l *ledger.Ledger) []ledger.Record {
	var out []ledger.Record
	for rec := range l.Active() {
		out = append(out, rec)
	}
	return out
}
