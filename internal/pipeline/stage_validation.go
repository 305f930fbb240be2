package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"dubline/internal/engines"
	"dubline/internal/language"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/servicecache"
	"dubline/internal/services"
)

func invalid(stageName, op, message string, err error) error {
	return services.Wrap(services.ErrValidation, stageName, op, message, err)
}

// validate checks the input file and language pair before any expensive work.
func (o *Orchestrator) validate(ctx context.Context, sc *stageContext) error {
	if err := o.inspectInput(ctx, sc); err != nil {
		return err
	}
	sc.report(ctx, 0.4, "input inspected")
	if err := o.resolveLanguages(sc); err != nil {
		return err
	}

	if !language.IsAuto(sc.run.sourceLanguage) {
		recognizer, err := resolve[engines.Recognizer](ctx, sc, servicecache.KindRecognizer)
		if err != nil {
			return err
		}
		if err := checkSupported(recognizer, sc.run.sourceLanguage, "recognizer"); err != nil {
			return err
		}
	}
	translator, err := resolve[engines.Translator](ctx, sc, servicecache.KindTranslator)
	if err != nil {
		return err
	}
	if err := checkSupported(translator, sc.run.targetLanguage, "translator"); err != nil {
		return err
	}
	sc.report(ctx, 0.7, "languages supported")
	return o.loadVoices(ctx, sc)
}

// validateUpdate re-checks what an update run depends on: the input, the
// background track, and the clips of records the edits left untouched.
func (o *Orchestrator) validateUpdate(ctx context.Context, sc *stageContext) error {
	if err := o.inspectInput(ctx, sc); err != nil {
		return err
	}
	if err := o.resolveLanguages(sc); err != nil {
		return err
	}
	r := sc.run
	if _, err := os.Stat(r.paths.background()); err == nil {
		r.backgroundPath = r.paths.background()
	}

	missing := 0
	for _, rec := range r.ledger.All() {
		if !rec.IncludeInOutput || rec.DubbedPath == "" {
			continue
		}
		if _, err := os.Stat(rec.DubbedPath); err == nil {
			continue
		}
		if _, err := r.ledger.Update(rec.Index, ledger.Patch{DubbedPath: ledger.Ptr(""), SpeedFactor: ledger.Ptr(0.0)}); err != nil {
			return services.AtStage(sc.name, rec.Index, err)
		}
		missing++
	}
	if missing > 0 {
		logging.WarnWithContext(sc.logger, "dubbed clips missing; records will be resynthesized", "dubbed_clips_missing",
			logging.Int("records", missing),
			logging.String(logging.FieldImpact, "update takes longer than the edits alone require"),
			logging.String(logging.FieldErrorHint, "avoid cleaning the job staging directory between runs"),
		)
	}
	if r.ledger.Len() == 0 {
		return invalid(sc.name, "validate ledger", "ledger has no records", nil)
	}
	return nil
}

func (o *Orchestrator) inspectInput(ctx context.Context, sc *stageContext) error {
	r := sc.run
	path := r.job.InputPath
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return invalid(sc.name, "stat input", path, services.ErrNotFound)
		}
		return services.Wrap(services.ErrResource, sc.name, "stat input", path, err)
	}
	if info.IsDir() {
		return invalid(sc.name, "stat input", path+" is a directory", nil)
	}
	if !o.cfg.AcceptsFormat(path) {
		return invalid(sc.name, "check format", fmt.Sprintf("unsupported container %q", path), nil)
	}
	if limit := o.cfg.MaxInputBytes(); limit > 0 && info.Size() > limit {
		return invalid(sc.name, "check size",
			fmt.Sprintf("input is %d bytes, limit is %d", info.Size(), limit), nil)
	}

	result, err := o.deps.Media.Probe(ctx, path)
	if err != nil {
		return invalid(sc.name, "probe input", path, err)
	}
	if result.VideoStreamCount() == 0 {
		return invalid(sc.name, "probe input", "no video stream", nil)
	}
	if result.AudioStreamCount() == 0 {
		return invalid(sc.name, "probe input", "no audio stream", nil)
	}
	r.duration = result.DurationSeconds()
	sc.logger.Info("input inspected",
		logging.Int64("size_bytes", info.Size()),
		logging.Float64("duration_seconds", r.duration),
		logging.Int("audio_streams", result.AudioStreamCount()),
	)
	return nil
}

func (o *Orchestrator) resolveLanguages(sc *stageContext) error {
	r := sc.run
	target, err := language.Normalize(r.job.Config.TargetLanguage)
	if err != nil {
		return invalid(sc.name, "target language", "", err)
	}
	r.targetLanguage = target

	source := r.job.Config.SourceLanguage
	if language.IsAuto(source) {
		r.sourceLanguage = language.Auto
		return nil
	}
	source, err = language.Normalize(source)
	if err != nil {
		return invalid(sc.name, "source language", "", err)
	}
	if language.SameBase(source, target) {
		return invalid(sc.name, "language pair",
			fmt.Sprintf("source and target are both %s", language.DisplayName(target)), nil)
	}
	r.sourceLanguage = source
	return nil
}

// checkSupported rejects language when handle declares its languages and
// language is not among them. Engines without a declaration accept anything.
func checkSupported(handle any, lang, role string) error {
	lister, ok := handle.(engines.LanguageLister)
	if !ok {
		return nil
	}
	supported := lister.SupportedLanguages()
	if len(supported) == 0 {
		return nil
	}
	iso := language.ToISO2(lang)
	if slices.ContainsFunc(supported, func(s string) bool { return language.ToISO2(s) == iso }) {
		return nil
	}
	return invalid(StageValidation, "language support",
		fmt.Sprintf("%s does not support %s", role, language.DisplayName(lang)), nil)
}

func (o *Orchestrator) loadVoices(ctx context.Context, sc *stageContext) error {
	r := sc.run
	if len(r.voices) > 0 {
		return nil
	}
	synth, err := resolve[engines.Synthesizer](ctx, sc, servicecache.KindSynthesizer)
	if err != nil {
		return err
	}
	var voices []engines.Voice
	err = sc.retry(ctx, services.NoRecord, func(ctx context.Context) error {
		var err error
		voices, err = synth.Voices(ctx, language.ToISO2(r.targetLanguage))
		return err
	})
	if err != nil {
		return err
	}
	if len(voices) == 0 {
		return invalid(sc.name, "list voices",
			fmt.Sprintf("synthesizer offers no voices for %s", language.DisplayName(r.targetLanguage)), nil)
	}
	r.voices = voices
	sc.logger.Debug("synthesis voices loaded", logging.Int("voices", len(voices)))
	return nil
}
