package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dubline/internal/services"
)

const jobColumns = "id, status, config_json, input_path, output_path, progress_stage, progress_percent, run_mode, run_count, error_message, error_stage, error_record, created_at, updated_at, completed_at"

// Create inserts a new uploaded job for inputPath.
func (s *Store) Create(ctx context.Context, cfg Config, inputPath string) (*Job, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, fmt.Errorf("%w: input path is required", services.ErrValidation)
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal job config: %w", err)
	}
	id := uuid.NewString()
	stamp := nowStamp()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, status, config_json, input_path, progress_percent, run_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		id, StatusUploaded, string(configJSON), inputPath, stamp, stamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a job by id. It returns nil without error when the job is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs ordered by creation time, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// BeginRun moves a job into processing for a new run and resets its progress.
// Full runs start from uploaded. Update runs start from completed, or from
// failed when a ledger snapshot exists.
func (s *Store) BeginRun(ctx context.Context, id string, mode Mode) (*Job, error) {
	var (
		query string
		args  []any
	)
	stamp := nowStamp()
	base := `UPDATE jobs
        SET status = ?, run_mode = ?, run_count = run_count + 1,
            progress_stage = NULL, progress_percent = 0,
            error_message = NULL, error_stage = NULL, error_record = NULL, updated_at = ?
        WHERE id = ? AND `
	switch mode {
	case ModeFull:
		query = base + `status = ?`
		args = []any{StatusProcessing, mode, stamp, id, StatusUploaded}
	case ModeUpdate:
		query = base + `(status = ? OR (status = ? AND EXISTS (SELECT 1 FROM ledgers WHERE job_id = jobs.id)))`
		args = []any{StatusProcessing, mode, stamp, id, StatusCompleted, StatusFailed}
	default:
		return nil, fmt.Errorf("%w: unknown run mode %q", services.ErrValidation, mode)
	}

	if err := s.transition(ctx, id, StatusProcessing, query, args...); err != nil {
		if errors.Is(err, errStillProcessing) {
			return nil, fmt.Errorf("%w: job %s is already processing", ErrInvalidTransition, id)
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// UpdateProgress records the current stage and percentage of a processing job.
// Lowering the percentage within a run returns ErrProgressRegression.
func (s *Store) UpdateProgress(ctx context.Context, id, stage string, percent float64) error {
	percent = min(max(percent, 0), 100)
	err := s.transition(ctx, id, StatusProcessing,
		`UPDATE jobs SET progress_stage = ?, progress_percent = ?, updated_at = ?
         WHERE id = ? AND status = ? AND progress_percent <= ?`,
		nullableString(stage), percent, nowStamp(), id, StatusProcessing, percent,
	)
	if errors.Is(err, errStillProcessing) {
		return fmt.Errorf("%w: job %s", ErrProgressRegression, id)
	}
	return err
}

// Complete marks a processing job completed with its output location.
func (s *Store) Complete(ctx context.Context, id, outputPath string) error {
	stamp := nowStamp()
	return s.transition(ctx, id, StatusCompleted,
		`UPDATE jobs SET status = ?, output_path = ?, progress_percent = 100, updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, outputPath, stamp, stamp, id, StatusProcessing,
	)
}

// Fail marks a processing job failed. record is services.NoRecord when the
// failure is not tied to one utterance.
func (s *Store) Fail(ctx context.Context, id, stage string, record int, message string) error {
	var recordValue any
	if record != services.NoRecord {
		recordValue = record
	}
	return s.transition(ctx, id, StatusFailed,
		`UPDATE jobs SET status = ?, error_stage = ?, error_record = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, nullableString(stage), recordValue, message, nowStamp(), id, StatusProcessing,
	)
}

// Cancel marks an uploaded or processing job cancelled.
func (s *Store) Cancel(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, StatusCancelled,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, nullableString(reason), nowStamp(), id, StatusUploaded, StatusProcessing,
	)
}

// RecoverInterrupted fails every job left processing by a previous daemon
// process and returns how many were touched.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_stage = progress_stage, error_record = NULL,
             error_message = ?, updated_at = ?
         WHERE status = ?`,
		StatusFailed, RestartReason, nowStamp(), StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job that is not processing, along with its ledger.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ? AND status != ?`, id, StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

var errStillProcessing = errors.New("job still processing")

// transition runs a conditional update and explains a no-op as not found or
// an invalid transition.
func (s *Store) transition(ctx context.Context, id string, to Status, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var current Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if current == StatusProcessing && to == StatusProcessing {
		return errStillProcessing
	}
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", ErrInvalidTransition, id, current, to)
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		statusStr       string
		configJSON      string
		inputPath       string
		outputPath      sql.NullString
		progressStage   sql.NullString
		progressPercent float64
		runMode         sql.NullString
		runCount        int
		errorMessage    sql.NullString
		errorStage      sql.NullString
		errorRecord     sql.NullInt64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		completedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&statusStr,
		&configJSON,
		&inputPath,
		&outputPath,
		&progressStage,
		&progressPercent,
		&runMode,
		&runCount,
		&errorMessage,
		&errorStage,
		&errorRecord,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Status:          Status(statusStr),
		InputPath:       inputPath,
		OutputPath:      outputPath.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent,
		Mode:            Mode(runMode.String),
		RunCount:        runCount,
		ErrorMessage:    errorMessage.String,
		ErrorStage:      errorStage.String,
		ErrorRecord:     services.NoRecord,
		CreatedAt:       parseTime(createdRaw),
		UpdatedAt:       parseTime(updatedRaw),
	}
	if errorRecord.Valid {
		job.ErrorRecord = int(errorRecord.Int64)
	}
	if completedRaw.Valid {
		completed := parseTime(completedRaw)
		job.CompletedAt = &completed
	}
	if err := json.Unmarshal([]byte(configJSON), &job.Config); err != nil {
		return nil, fmt.Errorf("decode job config: %w", err)
	}
	return job, nil
}

// Age returns how long ago the job was last updated.
func (j *Job) Age(now time.Time) time.Duration {
	if j == nil || j.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(j.UpdatedAt)
}
