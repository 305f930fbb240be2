package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dubline/internal/config"
	"dubline/internal/engines/catalog"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/notifications"
	"dubline/internal/progress"
	"dubline/internal/services"
	"dubline/internal/timeline"
)

// ErrShutdown is the cancellation cause used when the daemon stops. A run
// interrupted this way keeps its processing status so restart recovery can
// mark it failed.
var ErrShutdown = errors.New("daemon shutting down")

// Orchestrator executes pipeline runs.
type Orchestrator struct {
	deps      Deps
	cfg       *config.Config
	logger    *slog.Logger
	assembler *timeline.Assembler
	notifier  notifications.Service
}

// New constructs an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger(deps.Logger, "pipeline")
	if deps.Logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	return &Orchestrator{
		deps:      deps,
		cfg:       deps.Config,
		logger:    logger,
		assembler: timeline.NewAssembler(deps.Media, deps.Logger),
		notifier:  notifier,
	}, nil
}

// Run executes every stage for an uploaded job.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.deps.Store.BeginRun(ctx, jobID, jobs.ModeFull)
	if err != nil {
		return err
	}
	r := o.newRun(job, jobs.ModeFull, ledger.New())
	return o.execute(ctx, r, o.fullStages())
}

// Update reconciles edits against the job's persisted ledger and re-runs the
// affected stages. Edits are validated before the job changes status.
func (o *Orchestrator) Update(ctx context.Context, jobID string, edits []ledger.Edit) error {
	baseline, err := o.deps.Store.LoadLedger(ctx, jobID)
	if err != nil {
		return err
	}
	if baseline == nil {
		return services.Wrap(services.ErrValidation, StageValidation, "load ledger",
			fmt.Sprintf("job %s has no ledger to update", jobID), nil)
	}
	merged, plan, err := ledger.Reconcile(baseline, edits)
	if err != nil {
		return services.Wrap(services.ErrValidation, StageValidation, "reconcile ledger", "", err)
	}

	job, err := o.deps.Store.BeginRun(ctx, jobID, jobs.ModeUpdate)
	if err != nil {
		return err
	}
	r := o.newRun(job, jobs.ModeUpdate, merged)
	r.reassignVoices = plan.ReassignVoices
	r.logger.Info("update planned",
		logging.Int("dirty_records", len(plan.Dirty)),
		logging.Int("added_records", len(plan.Added)),
		logging.Int("removed_records", len(plan.Removed)),
		logging.Bool("reassign_voices", plan.ReassignVoices),
		logging.String(logging.FieldEventType, "update_planned"),
	)
	return o.execute(ctx, r, o.updateStages(plan))
}

// Abandon cancels a job that was queued but never started.
func (o *Orchestrator) Abandon(ctx context.Context, jobID, reason string) error {
	job, err := o.deps.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", services.ErrNotFound, jobID)
	}
	if err := o.deps.Store.Cancel(ctx, jobID, reason); err != nil {
		return err
	}
	o.deps.Broadcaster.Publish(ctx, progress.Event{
		JobID:   jobID,
		Run:     job.RunCount,
		Status:  string(jobs.StatusCancelled),
		Stage:   job.ProgressStage,
		Percent: job.ProgressPercent,
		Message: reason,
		Final:   true,
	})
	metrics.RecordJob(string(jobs.StatusCancelled), string(jobs.ModeFull))
	o.notify(ctx, notifications.EventJobCancelled, job, notifications.Payload{})
	return nil
}

// WorkDir returns the staging directory for a job.
func (o *Orchestrator) WorkDir(jobID string) string {
	return filepath.Join(o.cfg.Paths.StagingDir, jobID)
}

func (o *Orchestrator) newRun(job *jobs.Job, mode jobs.Mode, l *ledger.Ledger) *runState {
	sel := catalog.Selection{
		Recognition: job.Config.Recognition,
		Translation: job.Config.Translation,
		Synthesis:   job.Config.Synthesis,
		Model:       job.Config.Model,
		Device:      job.Config.Device,
		VAD:         job.Config.VAD,
	}
	return &runState{
		job:    job,
		mode:   mode,
		ledger: l,
		keys:   catalog.Keys(o.cfg, sel),
		paths:  workPaths{root: o.WorkDir(job.ID)},
		logger: o.logger.With(logging.String(logging.FieldJobID, job.ID), logging.String("run_mode", string(mode))),
	}
}

func (o *Orchestrator) fullStages() []stage {
	return []stage{
		{name: StageValidation, weight: Weight(StageValidation), run: o.validate},
		{name: StageSeparation, weight: Weight(StageSeparation), run: o.separate},
		{name: StageDiarization, weight: Weight(StageDiarization), run: o.diarize},
		{name: StageSegmentation, weight: Weight(StageSegmentation), run: o.segment},
		{name: StageTranscription, weight: Weight(StageTranscription), run: o.transcribe},
		{name: StageGenderDetection, weight: Weight(StageGenderDetection), run: o.detectGender},
		{name: StageTranslation, weight: Weight(StageTranslation), run: o.translate},
		{name: StageVoiceAssignment, weight: Weight(StageVoiceAssignment), run: o.assignVoices},
		{name: StageSynthesis, weight: Weight(StageSynthesis), run: o.synthesize},
		{name: StageAssembly, weight: Weight(StageAssembly), run: o.assemble},
		{name: StageCombination, weight: Weight(StageCombination), run: o.combine},
	}
}

func (o *Orchestrator) updateStages(plan ledger.Plan) []stage {
	stages := []stage{
		{name: StageValidation, weight: Weight(StageValidation), run: o.validateUpdate},
	}
	if plan.ReassignVoices {
		stages = append(stages, stage{name: StageVoiceAssignment, weight: Weight(StageVoiceAssignment), run: o.assignVoices})
	}
	return append(stages,
		stage{name: StageSynthesis, weight: Weight(StageSynthesis), run: o.synthesize},
		stage{name: StageAssembly, weight: Weight(StageAssembly), run: o.assemble},
		stage{name: StageCombination, weight: Weight(StageCombination), run: o.combine},
	)
}

func (o *Orchestrator) execute(ctx context.Context, r *runState, stages []stage) error {
	ctx = services.WithJobID(ctx, r.job.ID)
	started := time.Now()
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	r.logger.Info("job run started",
		logging.String("input", r.job.InputPath),
		logging.Int("run", r.job.RunCount),
		logging.Int("stages", len(stages)),
		logging.String(logging.FieldEventType, "job_start"),
	)
	if err := os.MkdirAll(r.paths.root, 0o755); err != nil {
		return o.finishFailed(ctx, r, StageValidation, services.Wrap(services.ErrResource, StageValidation, "create work dir", r.paths.root, err))
	}

	// Cancellation is observed between stages only. Stage bodies run on
	// workCtx, which keeps in-flight collaborator calls alive after a cancel
	// and ends them only on shutdown.
	workCtx, stopWork := shutdownOnly(ctx)
	defer stopWork()

	for i, st := range stageBands(stages) {
		if err := ctx.Err(); err != nil {
			return o.finishInterrupted(ctx, r, lastStage(stages, i), err)
		}
		sc := &stageContext{
			orch:   o,
			run:    r,
			name:   st.name,
			band:   st.band,
			logger: logging.ForStage(r.logger.With(logging.String(logging.FieldStage, st.name)), o.cfg.Logging.StageOverrides, st.name),
		}
		if err := o.runStage(workCtx, sc, stages[i]); err != nil {
			sc.cleanup()
			if workCtx.Err() != nil || services.IsCancellation(err) {
				return o.finishInterrupted(ctx, r, st.name, err)
			}
			return o.finishFailed(ctx, r, st.name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return o.finishInterrupted(ctx, r, lastStage(stages, len(stages)), err)
	}
	return o.finishCompleted(ctx, r, started)
}

// shutdownOnly derives a context that keeps ctx's values but is cancelled
// only when ctx ends with ErrShutdown.
func shutdownOnly(ctx context.Context) (context.Context, func()) {
	workCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(context.Cause(ctx), ErrShutdown) {
			cancel(ErrShutdown)
		}
	})
	return workCtx, func() {
		stop()
		cancel(nil)
	}
}

// lastStage names the stage that completed before position i.
func lastStage(stages []stage, i int) string {
	if i <= 0 {
		return stages[0].name
	}
	return stages[i-1].name
}

type bandedStage struct {
	name string
	band band
}

func stageBands(stages []stage) []bandedStage {
	b := bands(stages)
	out := make([]bandedStage, len(stages))
	for i, st := range stages {
		out[i] = bandedStage{name: st.name, band: b[i]}
	}
	return out
}

func (o *Orchestrator) runStage(ctx context.Context, sc *stageContext, st stage) error {
	stageCtx := services.WithStage(ctx, st.name)
	logger := sc.logger
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	sc.report(stageCtx, 0, "started")

	start := time.Now()
	err := st.run(stageCtx, sc)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordStage(st.name, services.Classify(err), elapsed)
		return services.AtStage(st.name, services.NoRecord, err)
	}
	metrics.RecordStage(st.name, "success", elapsed)

	sc.run.mu.Lock()
	sc.run.timings = append(sc.run.timings, StageTiming{Stage: st.name, Duration: elapsed})
	sc.run.mu.Unlock()

	if err := o.deps.Store.SaveLedger(context.WithoutCancel(ctx), sc.run.job.ID, sc.run.ledger); err != nil {
		return services.AtStage(st.name, services.NoRecord,
			services.Wrap(services.ErrResource, st.name, "persist ledger", "", err))
	}
	sc.report(stageCtx, 1, "complete")
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
		logging.Int("records", sc.run.ledger.Len()),
	)
	return nil
}

func (o *Orchestrator) finishCompleted(ctx context.Context, r *runState, started time.Time) error {
	persistCtx := context.WithoutCancel(ctx)
	if err := o.deps.Store.Complete(persistCtx, r.job.ID, r.outputPath); err != nil {
		r.logger.Error("failed to persist job completion", logging.Error(err))
		return err
	}
	o.deps.Broadcaster.Publish(persistCtx, progress.Event{
		JobID:   r.job.ID,
		Run:     r.job.RunCount,
		Status:  string(jobs.StatusCompleted),
		Stage:   StageCombination,
		Percent: 100,
		Output:  r.outputPath,
		Final:   true,
	})
	metrics.RecordJob(string(jobs.StatusCompleted), string(r.mode))

	elapsed := time.Since(started)
	attrs := []logging.Attr{
		logging.String("output", r.outputPath),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "job_complete"),
	}
	if r.publishedURI != "" {
		attrs = append(attrs, logging.String("published", r.publishedURI))
	}
	r.logger.Info("job completed", logging.Args(attrs...)...)
	o.logTimingSummary(r)

	if o.cfg.Pipeline.CleanIntermediateFiles {
		o.cleanIntermediates(r)
	}
	o.notify(persistCtx, notifications.EventJobCompleted, r.job, notifications.Payload{
		"output":  r.outputPath,
		"elapsed": elapsed,
	})
	return nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, r *runState, stageName string, runErr error) error {
	persistCtx := context.WithoutCancel(ctx)
	stageLabel, record, cause := stageName, services.NoRecord, runErr
	var stageErr *services.StageError
	if errors.As(runErr, &stageErr) {
		stageLabel, record, cause = stageErr.Stage, stageErr.Record, stageErr.Err
	}
	message := strings.TrimSpace(cause.Error())

	if r.ledger.Len() > 0 {
		if err := o.deps.Store.SaveLedger(persistCtx, r.job.ID, r.ledger); err != nil {
			r.logger.Debug("ledger save after failure failed", logging.Error(err))
		}
	}

	if err := o.deps.Store.Fail(persistCtx, r.job.ID, stageLabel, record, message); err != nil {
		r.logger.Error("failed to persist job failure", logging.Error(err))
	}
	evt := progress.Event{
		JobID:  r.job.ID,
		Run:    r.job.RunCount,
		Status: string(jobs.StatusFailed),
		Stage:  stageLabel,
		Error:  message,
		Final:  true,
	}
	if record != services.NoRecord {
		evt.Record = &record
	}
	o.deps.Broadcaster.Publish(persistCtx, evt)
	metrics.RecordJob(string(jobs.StatusFailed), string(r.mode))

	logging.ErrorWithContext(r.logger, "job failed", "job_failed",
		logging.String(logging.FieldStage, stageLabel),
		logging.Int(logging.FieldRecordIndex, record),
		logging.String("error_kind", services.Classify(runErr)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, failureHint(runErr)),
	)
	o.notify(persistCtx, notifications.EventJobFailed, r.job, notifications.Payload{
		"stage": stageLabel,
		"error": message,
	})
	return runErr
}

func (o *Orchestrator) finishInterrupted(ctx context.Context, r *runState, stageName string, runErr error) error {
	if errors.Is(context.Cause(ctx), ErrShutdown) {
		r.logger.Info("run interrupted by shutdown",
			logging.String(logging.FieldStage, stageName),
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		return context.Cause(ctx)
	}

	persistCtx := context.WithoutCancel(ctx)
	reason := fmt.Sprintf("cancelled during %s", stageName)
	if err := o.deps.Store.Cancel(persistCtx, r.job.ID, reason); err != nil {
		r.logger.Error("failed to persist job cancellation", logging.Error(err))
	}
	r.mu.Lock()
	percent := r.percent
	r.mu.Unlock()
	o.deps.Broadcaster.Publish(persistCtx, progress.Event{
		JobID:   r.job.ID,
		Run:     r.job.RunCount,
		Status:  string(jobs.StatusCancelled),
		Stage:   stageName,
		Percent: percent,
		Message: reason,
		Final:   true,
	})
	metrics.RecordJob(string(jobs.StatusCancelled), string(r.mode))
	r.logger.Info("job cancelled",
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	o.notify(persistCtx, notifications.EventJobCancelled, r.job, notifications.Payload{})
	if services.IsCancellation(runErr) {
		return runErr
	}
	return fmt.Errorf("%w: %w", services.ErrCancelled, runErr)
}

func (o *Orchestrator) notify(ctx context.Context, event notifications.Event, job *jobs.Job, payload notifications.Payload) {
	if payload == nil {
		payload = notifications.Payload{}
	}
	payload["input"] = filepath.Base(job.InputPath)
	payload["targetLanguage"] = job.Config.TargetLanguage
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		o.logger.Debug("job notification failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func (o *Orchestrator) logTimingSummary(r *runState) {
	r.mu.Lock()
	timings := append([]StageTiming(nil), r.timings...)
	r.mu.Unlock()
	attrs := make([]logging.Attr, 0, len(timings)+1)
	for _, t := range timings {
		attrs = append(attrs, logging.Duration(t.Stage, t.Duration))
	}
	attrs = append(attrs, logging.String(logging.FieldEventType, "stage_timing_summary"))
	r.logger.Info("stage timing summary", logging.Args(attrs...)...)
}

// cleanIntermediates removes artifacts no later update needs. Dubbed clips,
// the background track, and the silent video stay so updates can reuse them.
func (o *Orchestrator) cleanIntermediates(r *runState) {
	targets := []string{
		filepath.Dir(r.paths.sourceAudio()),
		r.paths.separationDir(),
		r.paths.segmentsDir(),
		filepath.Join(r.paths.root, timeline.VocalsTrackName),
		filepath.Join(r.paths.root, timeline.MixedTrackName),
	}
	for _, target := range targets {
		if err := os.RemoveAll(target); err != nil {
			r.logger.Debug("intermediate cleanup failed", logging.String("path", target), logging.Error(err))
		}
	}
	// Records keep no dangling references to removed clips.
	for _, rec := range r.ledger.All() {
		if rec.SourceClipPath == "" {
			continue
		}
		if _, err := r.ledger.Update(rec.Index, ledger.Patch{SourceClipPath: ledger.Ptr("")}); err != nil {
			r.logger.Debug("clear source clip path failed", logging.Int(logging.FieldRecordIndex, rec.Index), logging.Error(err))
		}
	}
	if err := o.deps.Store.SaveLedger(context.Background(), r.job.ID, r.ledger); err != nil {
		logging.WarnWithContext(r.logger, "ledger save after cleanup failed", "ledger_save_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the persisted ledger still references removed source clips"),
			logging.String(logging.FieldErrorHint, "check state directory permissions"),
		)
	}
}

func failureHint(err error) string {
	switch services.Classify(err) {
	case "validation":
		return "fix the input or job configuration and submit again"
	case "resource":
		return "free disk space or memory and retry"
	case "not_found":
		return "check that referenced files still exist"
	default:
		return "check the engine service logs and retry"
	}
}
