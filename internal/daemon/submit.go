package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"dubline/internal/api"
	"dubline/internal/fileutil"
	"dubline/internal/jobs"
	"dubline/internal/language"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/progress"
	"dubline/internal/services"
	"dubline/internal/staging"
	"dubline/internal/storage"
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Submit validates req, stages its input, creates the job, and queues its
// full run. A job the scheduler refuses is cancelled before the error is
// returned so it does not linger as uploaded.
func (d *Daemon) Submit(ctx context.Context, req api.SubmitRequest) (*jobs.Job, error) {
	cfg, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	input, err := d.ingest(ctx, strings.TrimSpace(req.Input))
	if err != nil {
		return nil, err
	}
	job, err := d.store.Create(ctx, cfg, input)
	if err != nil {
		_ = os.RemoveAll(filepath.Dir(input))
		return nil, err
	}
	metrics.RecordJob("submitted", string(jobs.ModeFull))

	if err := d.workflow.Submit(ctx, job.ID); err != nil {
		if cancelErr := d.store.Cancel(ctx, job.ID, "not admitted: "+err.Error()); cancelErr != nil {
			logging.WarnWithContext(d.logger, "failed to cancel unadmitted job", "job_cancel_failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(cancelErr),
				logging.String(logging.FieldImpact, "job stays uploaded and will not run"),
			)
		}
		return nil, err
	}

	d.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("input", req.Input),
		logging.String("target_language", cfg.TargetLanguage),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return d.store.Get(ctx, job.ID)
}

// normalizeRequest checks struct tags and language codes and returns the job
// config with canonical language tags.
func normalizeRequest(req api.SubmitRequest) (jobs.Config, error) {
	if err := requestValidator.Struct(req); err != nil {
		return jobs.Config{}, validationError(err)
	}

	cfg := req.Config
	target, err := language.Normalize(cfg.TargetLanguage)
	if err != nil {
		return jobs.Config{}, fmt.Errorf("%w: target_language: %w", services.ErrValidation, err)
	}
	cfg.TargetLanguage = target

	if language.IsAuto(cfg.SourceLanguage) {
		cfg.SourceLanguage = language.Auto
	} else {
		source, err := language.Normalize(cfg.SourceLanguage)
		if err != nil {
			return jobs.Config{}, fmt.Errorf("%w: source_language: %w", services.ErrValidation, err)
		}
		if language.SameBase(source, target) {
			return jobs.Config{}, fmt.Errorf("%w: source and target language are both %s", services.ErrValidation, language.DisplayName(target))
		}
		cfg.SourceLanguage = source
	}
	cfg.Device = strings.ToLower(strings.TrimSpace(cfg.Device))
	return cfg, nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", services.ErrValidation, err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fe.Field()+" is required")
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param()))
		case "gte", "lte":
			messages = append(messages, fmt.Sprintf("%s is out of range (%s %s)", fe.Field(), fe.Tag(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", services.ErrValidation, strings.Join(messages, "; "))
}

// ingest places the input under <staging>/inputs/<id>/ so later update runs
// can reread it regardless of what happens to the original.
func (d *Daemon) ingest(ctx context.Context, ref string) (string, error) {
	dir := filepath.Join(d.cfg.Paths.StagingDir, staging.InputsDir, uuid.NewString())

	var (
		path string
		err  error
	)
	if storage.IsRemote(ref) {
		path, err = d.storage.Fetch(ctx, ref, dir)
	} else {
		path, err = d.copyLocal(ref, dir)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

func (d *Daemon) copyLocal(src, dir string) (string, error) {
	if !filepath.IsAbs(src) {
		return "", fmt.Errorf("%w: input path %q must be absolute", services.ErrValidation, src)
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: input %s does not exist", services.ErrValidation, src)
		}
		return "", services.Wrap(services.ErrResource, "", "stat input", src, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: input %s is a directory", services.ErrValidation, src)
	}
	if !d.cfg.AcceptsFormat(src) {
		return "", fmt.Errorf("%w: unsupported input format %q", services.ErrValidation, filepath.Ext(src))
	}
	if limit := d.cfg.MaxInputBytes(); limit > 0 && info.Size() > limit {
		return "", fmt.Errorf("%w: input is %d bytes, limit is %d", services.ErrValidation, info.Size(), limit)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrResource, "", "create input dir", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	written, err := fileutil.CopyFileVerified(src, dest)
	if err != nil {
		return "", services.Wrap(services.ErrResource, "", "stage input", src, err)
	}
	d.logger.Debug("local input staged",
		logging.String("source", src),
		logging.String("path", dest),
		logging.Int64("bytes", written),
	)
	return dest, nil
}

// Job returns the job with its queue position.
func (d *Daemon) Job(ctx context.Context, id string) (*jobs.Job, int, error) {
	job, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if job == nil {
		return nil, 0, fmt.Errorf("%w: job %s", services.ErrNotFound, id)
	}
	return job, d.workflow.QueuePosition(id), nil
}

// Jobs lists jobs, optionally filtered by status.
func (d *Daemon) Jobs(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error) {
	return d.store.List(ctx, statuses...)
}

// QueuePosition proxies the workflow manager's queue position.
func (d *Daemon) QueuePosition(id string) int {
	return d.workflow.QueuePosition(id)
}

// Ledger returns the job's persisted ledger.
func (d *Daemon) Ledger(ctx context.Context, id string) (*ledger.Ledger, error) {
	if _, _, err := d.Job(ctx, id); err != nil {
		return nil, err
	}
	l, err := d.store.LoadLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: job %s has no ledger yet", services.ErrNotFound, id)
	}
	return l, nil
}

// UpdateLedger queues an update run applying edits to the job's ledger.
func (d *Daemon) UpdateLedger(ctx context.Context, id string, edits []ledger.Edit) (*jobs.Job, error) {
	if err := d.workflow.SubmitUpdate(ctx, id, edits); err != nil {
		return nil, err
	}
	d.logger.Info("ledger update submitted",
		logging.String(logging.FieldJobID, id),
		logging.Int("records", len(edits)),
		logging.String(logging.FieldEventType, "ledger_update_submitted"),
	)
	job, _, err := d.Job(ctx, id)
	return job, err
}

// Cancel cancels a queued or running job.
func (d *Daemon) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	if err := d.workflow.Cancel(ctx, id); err != nil {
		return nil, err
	}
	job, _, err := d.Job(ctx, id)
	return job, err
}

// Subscribe streams progress events for the job. Jobs that finished before
// this process started have no broadcaster history, so their stored state is
// returned as a single final event instead.
func (d *Daemon) Subscribe(ctx context.Context, id string) (<-chan progress.Event, func(), error) {
	job, _, err := d.Job(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := d.broadcaster.Last(id); !ok && job.Status.Terminal() {
		ch := make(chan progress.Event, 1)
		ch <- finalEvent(job)
		close(ch)
		return ch, func() {}, nil
	}
	ch, unsubscribe := d.broadcaster.Subscribe(id)
	return ch, unsubscribe, nil
}

func finalEvent(job *jobs.Job) progress.Event {
	evt := progress.Event{
		JobID:   job.ID,
		Run:     job.RunCount,
		Status:  string(job.Status),
		Stage:   job.ProgressStage,
		Percent: job.ProgressPercent,
		Output:  job.OutputPath,
		Final:   true,
		Time:    job.UpdatedAt,
	}
	switch job.Status {
	case jobs.StatusFailed, jobs.StatusCancelled:
		evt.Error = job.ErrorMessage
		if job.ErrorRecord != services.NoRecord {
			record := job.ErrorRecord
			evt.Record = &record
		}
	}
	return evt
}
