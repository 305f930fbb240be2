package jobs

import (
	"errors"
	"fmt"
	"time"

	"dubline/internal/services"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// RestartReason is the error message recorded for runs interrupted by a daemon restart.
const RestartReason = "interrupted by daemon restart"

var allStatuses = []Status{
	StatusUploaded,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// Terminal reports whether no further run is expected without an explicit update.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Mode distinguishes a full pipeline run from an incremental update run.
type Mode string

const (
	ModeFull   Mode = "full"
	ModeUpdate Mode = "update"
)

// CanTransition reports whether the lifecycle allows moving from one status to
// another. Update runs re-enter processing from completed (and from failed when
// a ledger was persisted, which the store checks separately).
func CanTransition(from, to Status, mode Mode) bool {
	switch to {
	case StatusProcessing:
		if mode == ModeUpdate {
			return from == StatusCompleted || from == StatusFailed
		}
		return from == StatusUploaded
	case StatusCompleted, StatusFailed:
		return from == StatusProcessing
	case StatusCancelled:
		return from == StatusUploaded || from == StatusProcessing
	}
	return false
}

var (
	// ErrInvalidTransition marks a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrProgressRegression marks an attempt to lower progress within a run.
	ErrProgressRegression = errors.New("progress may not decrease within a run")
)

func notFound(id string) error {
	return fmt.Errorf("%w: job %s", services.ErrNotFound, id)
}

// Config captures the per-job engine and language selection.
type Config struct {
	SourceLanguage   string   `json:"source_language,omitempty"`
	TargetLanguage   string   `json:"target_language" validate:"required"`
	Recognition      string   `json:"recognition,omitempty"`
	Translation      string   `json:"translation,omitempty"`
	Synthesis        string   `json:"synthesis,omitempty"`
	Model            string   `json:"model,omitempty"`
	Device           string   `json:"device,omitempty" validate:"omitempty,oneof=cpu cuda"`
	VAD              bool     `json:"vad,omitempty"`
	BackgroundVolume *float64 `json:"background_volume,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// Job is a persisted dubbing job.
type Job struct {
	ID              string     `json:"id"`
	Config          Config     `json:"config"`
	Status          Status     `json:"status"`
	InputPath       string     `json:"input_path"`
	OutputPath      string     `json:"output_path,omitempty"`
	ProgressStage   string     `json:"progress_stage,omitempty"`
	ProgressPercent float64    `json:"progress_percent"`
	Mode            Mode       `json:"mode,omitempty"`
	RunCount        int        `json:"run_count"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorStage      string     `json:"error_stage,omitempty"`
	ErrorRecord     int        `json:"error_record"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Failure summarizes the user-visible failure, or "" when the job has not failed.
func (j *Job) Failure() string {
	if j == nil || j.Status != StatusFailed {
		return ""
	}
	if j.ErrorRecord != services.NoRecord {
		return fmt.Sprintf("%s (record %d): %s", j.ErrorStage, j.ErrorRecord, j.ErrorMessage)
	}
	if j.ErrorStage == "" {
		return j.ErrorMessage
	}
	return fmt.Sprintf("%s: %s", j.ErrorStage, j.ErrorMessage)
}
