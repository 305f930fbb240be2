package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dubline/internal/engines"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/servicecache"
	"dubline/internal/services"
)

// separate extracts the soundtrack and splits it into vocals and background.
func (o *Orchestrator) separate(ctx context.Context, sc *stageContext) error {
	r := sc.run
	source := r.paths.sourceAudio()
	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		return services.Wrap(services.ErrResource, sc.name, "create audio dir", "", err)
	}
	if err := o.deps.Media.ExtractAudio(ctx, r.job.InputPath, sc.produce(source)); err != nil {
		return err
	}
	sc.report(ctx, 0.2, "audio extracted")

	separator, err := resolve[engines.Separator](ctx, sc, servicecache.KindSeparator)
	if err != nil {
		return err
	}
	outDir := sc.produce(r.paths.separationDir())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrResource, sc.name, "create separation dir", "", err)
	}
	var vocals, background string
	err = sc.retry(ctx, services.NoRecord, func(ctx context.Context) error {
		var err error
		vocals, background, err = separator.Separate(ctx, source, outDir)
		return err
	})
	if err != nil {
		return err
	}
	r.vocalsPath = vocals
	r.backgroundPath = ""
	if background != "" {
		dest := sc.produce(r.paths.background())
		if err := os.Rename(background, dest); err != nil {
			return services.Wrap(services.ErrResource, sc.name, "store background", dest, err)
		}
		r.backgroundPath = dest
	}

	if r.duration <= 0 {
		duration, err := o.deps.Media.Duration(ctx, source)
		if err != nil {
			return err
		}
		r.duration = duration
	}
	sc.logger.Info("audio separated",
		logging.String("vocals", r.vocalsPath),
		logging.Bool("background", r.backgroundPath != ""),
		logging.Float64("duration_seconds", r.duration),
	)
	return nil
}

// diarize splits the vocals into speaker turns, one ledger record per turn.
func (o *Orchestrator) diarize(ctx context.Context, sc *stageContext) error {
	r := sc.run
	diarizer, err := resolve[engines.Diarizer](ctx, sc, servicecache.KindDiarizer)
	if err != nil {
		return err
	}
	var segments []engines.Segment
	err = sc.retry(ctx, services.NoRecord, func(ctx context.Context) error {
		var err error
		segments, err = diarizer.Diarize(ctx, r.vocalsPath)
		return err
	})
	if err != nil {
		return err
	}

	skipped := 0
	for _, seg := range segments {
		if _, err := r.ledger.Append(ledger.Record{
			Start:           seg.Start,
			End:             seg.End,
			SpeakerID:       seg.Speaker,
			IncludeInOutput: true,
		}); err != nil {
			skipped++
			sc.logger.Debug("diarized segment skipped",
				logging.Float64("start", seg.Start),
				logging.Float64("end", seg.End),
				logging.Error(err),
			)
		}
	}
	if r.ledger.Len() == 0 {
		return invalid(sc.name, "diarize", "no speech detected", nil)
	}
	sc.logger.Info("speakers diarized",
		logging.Int("records", r.ledger.Len()),
		logging.Int("speakers", len(r.ledger.Speakers())),
		logging.Int("skipped", skipped),
	)
	return nil
}

// segment cuts one vocals clip per record.
func (o *Orchestrator) segment(ctx context.Context, sc *stageContext) error {
	r := sc.run
	if err := os.MkdirAll(sc.produce(r.paths.segmentsDir()), 0o755); err != nil {
		return services.Wrap(services.ErrResource, sc.name, "create segments dir", "", err)
	}
	records := r.ledger.All()
	for i, rec := range records {
		clip := r.paths.segment(rec.Index)
		if err := o.deps.Media.CutSegment(ctx, r.vocalsPath, rec.Start, rec.End, clip); err != nil {
			return services.AtStage(sc.name, rec.Index, err)
		}
		if _, err := r.ledger.Update(rec.Index, ledger.Patch{SourceClipPath: ledger.Ptr(clip)}); err != nil {
			return services.AtStage(sc.name, rec.Index, err)
		}
		sc.report(ctx, float64(i+1)/float64(len(records)), fmt.Sprintf("segment %d/%d", i+1, len(records)))
	}
	return nil
}
