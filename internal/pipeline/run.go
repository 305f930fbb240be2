package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dubline/internal/engines"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/progress"
	"dubline/internal/servicecache"
	"dubline/internal/services"
)

// StageTiming records how long one stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// workPaths lays out a job's staging directory.
type workPaths struct {
	root string
}

func (w workPaths) sourceAudio() string   { return filepath.Join(w.root, "audio", "source.wav") }
func (w workPaths) separationDir() string { return filepath.Join(w.root, "separation") }
func (w workPaths) background() string    { return filepath.Join(w.root, "background.wav") }
func (w workPaths) segmentsDir() string   { return filepath.Join(w.root, "segments") }
func (w workPaths) dubbedDir() string     { return filepath.Join(w.root, "dubbed") }

func (w workPaths) segment(index int) string {
	return filepath.Join(w.segmentsDir(), fmt.Sprintf("%04d.wav", index))
}

// dubbed names a clip after its fingerprint so a changed record never reuses
// a stale file.
func (w workPaths) dubbed(index int, fingerprint string) string {
	short := fingerprint
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(w.dubbedDir(), fmt.Sprintf("%04d_%s.wav", index, short))
}

func (w workPaths) silentVideo(inputPath string) string {
	return filepath.Join(w.root, "video_noaudio"+filepath.Ext(inputPath))
}

// runState is everything one run of one job carries between stages. The
// ledger is only mutated by the stage currently executing.
type runState struct {
	job    *jobs.Job
	mode   jobs.Mode
	ledger *ledger.Ledger
	keys   map[servicecache.Kind]servicecache.Key
	paths  workPaths
	logger *slog.Logger

	sourceLanguage string
	targetLanguage string
	duration       float64
	vocalsPath     string
	backgroundPath string
	audioPath      string
	voices         []engines.Voice
	reassignVoices bool
	outputPath     string
	publishedURI   string

	mu      sync.Mutex
	percent float64
	timings []StageTiming
}

// stageContext is handed to a stage function for the duration of one stage.
type stageContext struct {
	orch   *Orchestrator
	run    *runState
	name   string
	band   band
	logger *slog.Logger

	mu      sync.Mutex
	pending []string
}

// report publishes progress at fraction of the stage's band.
func (sc *stageContext) report(ctx context.Context, fraction float64, message string) {
	sc.orch.progress(ctx, sc.run, sc.name, sc.band.at(fraction), message)
}

// produce registers path as an artifact of this stage. Registered artifacts
// are removed if the stage fails or the run is cancelled.
func (sc *stageContext) produce(path string) string {
	sc.mu.Lock()
	sc.pending = append(sc.pending, path)
	sc.mu.Unlock()
	return path
}

func (sc *stageContext) cleanup() {
	sc.mu.Lock()
	pending := sc.pending
	sc.pending = nil
	sc.mu.Unlock()
	for _, path := range pending {
		if err := os.RemoveAll(path); err != nil {
			sc.logger.Debug("partial artifact cleanup failed",
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
}

// retry runs op until it succeeds, fails permanently, or exhausts the
// configured per-record retries. Backoff doubles between attempts.
func (sc *stageContext) retry(ctx context.Context, record int, op func(context.Context) error) error {
	cfg := sc.orch.cfg
	attempts := max(cfg.Pipeline.RecordRetries, 0) + 1
	delay := cfg.RetryBackoff()
	if record != services.NoRecord {
		ctx = services.WithRecordIndex(ctx, record)
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !services.Retryable(err) || ctx.Err() != nil {
			return services.AtStage(sc.name, record, err)
		}
		metrics.RecordRetry(sc.name)
		logging.WarnWithContext(logging.WithContext(ctx, sc.logger), "collaborator call failed; retrying", "record_retry",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stage slows down while the collaborator recovers"),
			logging.String(logging.FieldErrorHint, "check the engine service if retries keep failing"),
		)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return services.AtStage(sc.name, record, ctx.Err())
			}
			delay *= 2
		}
	}
}

// resolve looks up the collaborator of kind for this run.
func resolve[T any](ctx context.Context, sc *stageContext, kind servicecache.Kind) (T, error) {
	handle, err := servicecache.Resolve[T](ctx, sc.orch.deps.Cache, sc.run.keys[kind])
	if err != nil {
		var zero T
		return zero, err
	}
	return handle, nil
}

func (o *Orchestrator) progress(ctx context.Context, r *runState, stageName string, percent float64, message string) {
	// Held across persistence and publication so concurrent reporters cannot
	// reorder percentages.
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent < r.percent {
		percent = r.percent
	}
	r.percent = percent

	persistCtx := context.WithoutCancel(ctx)
	if err := o.deps.Store.UpdateProgress(persistCtx, r.job.ID, stageName, percent); err != nil {
		r.logger.Debug("progress persistence failed",
			logging.String(logging.FieldStage, stageName),
			logging.Float64("percent", percent),
			logging.Error(err),
		)
	}
	o.deps.Broadcaster.Publish(persistCtx, progress.Event{
		JobID:   r.job.ID,
		Run:     r.job.RunCount,
		Status:  string(jobs.StatusProcessing),
		Stage:   stageName,
		Percent: percent,
		Message: message,
	})
}
