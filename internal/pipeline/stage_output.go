package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/services"
	"dubline/internal/timeline"
)

// OutputPath returns where the dubbed video for jobID is written.
func OutputPath(outputDir, jobID, inputPath, targetLanguage string) string {
	name := fmt.Sprintf("dubbed_video_%s%s", targetLanguage, strings.ToLower(filepath.Ext(inputPath)))
	return filepath.Join(outputDir, jobID, name)
}

// assemble places every included clip on the timeline and mixes it over the
// background track.
func (o *Orchestrator) assemble(ctx context.Context, sc *stageContext) error {
	r := sc.run
	included := 0
	for range r.ledger.Included() {
		included++
	}
	if included == 0 {
		return invalid(sc.name, "assemble", "no utterances left to dub", nil)
	}

	volume := o.cfg.Pipeline.BackgroundVolume
	if r.job.Config.BackgroundVolume != nil {
		volume = *r.job.Config.BackgroundVolume
	}
	sc.produce(filepath.Join(r.paths.root, timeline.VocalsTrackName))
	sc.produce(filepath.Join(r.paths.root, timeline.MixedTrackName))
	assembly, err := o.assembler.Assemble(ctx, timeline.AssembleRequest{
		Ledger:           r.ledger,
		Duration:         r.duration,
		BackgroundPath:   r.backgroundPath,
		BackgroundVolume: volume,
		WorkDir:          r.paths.root,
	})
	if err != nil {
		return err
	}
	r.audioPath = assembly.AudioPath
	sc.logger.Info("timeline assembled",
		logging.Int("placed", len(assembly.Plan.Placements)),
		logging.Int("dropped", len(assembly.Plan.Dropped)),
		logging.Float64("background_volume", volume),
	)
	return nil
}

// combine muxes the dubbed audio into the source video. The result is
// written beside its final name and renamed into place, so a failed update
// never clobbers the previous output.
func (o *Orchestrator) combine(ctx context.Context, sc *stageContext) error {
	r := sc.run
	silent := sc.produce(r.paths.silentVideo(r.job.InputPath))
	if err := o.deps.Media.StripAudio(ctx, r.job.InputPath, silent); err != nil {
		return err
	}
	sc.report(ctx, 0.3, "video prepared")

	final := OutputPath(o.cfg.Paths.OutputDir, r.job.ID, r.job.InputPath, r.targetLanguage)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return services.Wrap(services.ErrResource, sc.name, "create output dir", "", err)
	}
	ext := filepath.Ext(final)
	partial := sc.produce(strings.TrimSuffix(final, ext) + ".partial" + ext)
	if err := o.assembler.Combine(ctx, silent, r.audioPath, partial); err != nil {
		return err
	}
	if err := os.Rename(partial, final); err != nil {
		return services.Wrap(services.ErrResource, sc.name, "finalize output", final, err)
	}
	r.outputPath = final
	sc.report(ctx, 0.8, "output written")

	if o.cfg.Pipeline.ExportLedger {
		path, err := ledger.Export(r.ledger, filepath.Dir(final), r.targetLanguage)
		if err != nil {
			return services.Wrap(services.ErrResource, sc.name, "export ledger", "", err)
		}
		sc.logger.Debug("ledger exported", logging.String("path", path))
	}

	if o.deps.Publisher != nil {
		uri, err := o.deps.Publisher.Publish(ctx, r.job.ID, final)
		if err != nil {
			logging.WarnWithContext(sc.logger, "output publish failed", "output_publish_failed",
				logging.String("output", final),
				logging.Error(err),
				logging.String(logging.FieldImpact, "output is only available on local disk"),
				logging.String(logging.FieldErrorHint, "check storage credentials and bucket"),
			)
		} else {
			r.publishedURI = uri
		}
	}
	return nil
}
