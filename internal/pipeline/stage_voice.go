package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dubline/internal/engines"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/servicecache"
	"dubline/internal/services"
	"dubline/internal/timeline"
	"dubline/internal/voices"
)

// assignVoices maps every speaker to a synthesis voice.
func (o *Orchestrator) assignVoices(ctx context.Context, sc *stageContext) error {
	r := sc.run
	if err := o.loadVoices(ctx, sc); err != nil {
		return err
	}
	assignment, err := voices.Assign(r.ledger, r.voices)
	if err != nil {
		return err
	}
	changed, err := voices.Apply(r.ledger, assignment)
	if err != nil {
		return err
	}
	sc.logger.Info("voices assigned",
		logging.Int("speakers", len(assignment)),
		logging.Int("records_changed", len(changed)),
	)
	return nil
}

type synthResult struct {
	index  int
	path   string
	factor float64
}

// synthesize renders every active record that lacks a clip for its current
// fingerprint. Records that already have one are skipped, so repeated runs
// and updates only pay for what changed.
func (o *Orchestrator) synthesize(ctx context.Context, sc *stageContext) error {
	r := sc.run
	var pending []ledger.Record
	for rec := range r.ledger.Active() {
		if !rec.Synthesized() {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		sc.logger.Info("all clips current; nothing to synthesize")
		return nil
	}
	for _, rec := range pending {
		if strings.TrimSpace(rec.AssignedVoice) == "" {
			return services.AtStage(sc.name, rec.Index,
				invalid(sc.name, "synthesize", "record has no assigned voice", nil))
		}
	}

	synth, err := resolve[engines.Synthesizer](ctx, sc, servicecache.KindSynthesizer)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.paths.dubbedDir(), 0o755); err != nil {
		return services.Wrap(services.ErrResource, sc.name, "create dubbed dir", "", err)
	}

	var (
		mu      sync.Mutex
		results []synthResult
		done    atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.Pipeline.SynthesisParallelism, 1))
	for _, rec := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := o.synthesizeRecord(gctx, sc, synth, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			n := done.Add(1)
			sc.report(ctx, float64(n)/float64(len(pending)), fmt.Sprintf("synthesized %d/%d", n, len(pending)))
			return nil
		})
	}
	runErr := g.Wait()

	// Finished clips are kept even when a sibling failed so a retry of the
	// job does not redo them.
	for _, res := range results {
		patch := ledger.Patch{DubbedPath: ledger.Ptr(res.path), SpeedFactor: ledger.Ptr(res.factor)}
		if _, err := r.ledger.Update(res.index, patch); err != nil {
			return services.AtStage(sc.name, res.index, err)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return runErr
	}
	sc.logger.Info("clips synthesized", logging.Int("clips", len(results)))
	return nil
}

func (o *Orchestrator) synthesizeRecord(ctx context.Context, sc *stageContext, synth engines.Synthesizer, rec ledger.Record) (synthResult, error) {
	final := sc.run.paths.dubbed(rec.Index, rec.Fingerprint)
	raw := sc.produce(strings.TrimSuffix(final, ".wav") + ".raw.wav")

	var seconds float64
	err := sc.retry(ctx, rec.Index, func(ctx context.Context) error {
		var err error
		seconds, err = synth.Synthesize(ctx, rec.TranslatedText, rec.AssignedVoice, raw)
		return err
	})
	if err != nil {
		return synthResult{}, err
	}
	if seconds <= 0 {
		seconds, err = o.deps.Media.Duration(ctx, raw)
		if err != nil {
			return synthResult{}, services.AtStage(sc.name, rec.Index, err)
		}
	}

	decision := timeline.SpeedSync(seconds, rec.End-rec.Start, o.cfg.Pipeline.SpeedTolerance)
	if decision.Stretch {
		if err := o.deps.Media.TimeStretch(ctx, raw, decision.Factor, final); err != nil {
			return synthResult{}, services.AtStage(sc.name, rec.Index, err)
		}
		_ = os.Remove(raw)
	} else if err := os.Rename(raw, final); err != nil {
		return synthResult{}, services.AtStage(sc.name, rec.Index,
			services.Wrap(services.ErrResource, sc.name, "store clip", final, err))
	}
	metrics.RecordSynthesis(decision.Stretch)
	sc.logger.Debug("clip synthesized",
		logging.Int(logging.FieldRecordIndex, rec.Index),
		logging.Float64("synth_seconds", seconds),
		logging.Float64("window_seconds", rec.End-rec.Start),
		logging.Float64("speed_factor", decision.Factor),
	)
	return synthResult{index: rec.Index, path: final, factor: decision.Factor}, nil
}
