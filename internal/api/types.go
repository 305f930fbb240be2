package api

import (
	"time"

	"dubline/internal/jobs"
	"dubline/internal/servicecache"
	"dubline/internal/workflow"
)

// SubmitRequest is the payload for creating a job.
type SubmitRequest struct {
	Input  string      `json:"input" validate:"required"`
	Config jobs.Config `json:"config"`
}

// Job describes a job in a transport-friendly format.
type Job struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Config        jobs.Config `json:"config"`
	SourceName    string      `json:"source_name,omitempty"`
	TargetName    string      `json:"target_name,omitempty"`
	InputPath     string      `json:"input_path"`
	OutputPath    string      `json:"output_path,omitempty"`
	Stage         string      `json:"stage,omitempty"`
	Percent       float64     `json:"percent"`
	Mode          string      `json:"mode,omitempty"`
	RunCount      int         `json:"run_count"`
	QueuePosition int         `json:"queue_position"`
	Error         string      `json:"error,omitempty"`
	ErrorStage    string      `json:"error_stage,omitempty"`
	ErrorRecord   *int        `json:"error_record,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// StagingUsage summarizes per-job work directories.
type StagingUsage struct {
	Directories int   `json:"directories"`
	Bytes       int64 `json:"bytes"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	DatabasePath string                 `json:"database_path"`
	LockFilePath string                 `json:"lock_file_path"`
	Workflow     workflow.StatusSummary `json:"workflow"`
	Dependencies []DependencyStatus     `json:"dependencies"`
	Staging      StagingUsage           `json:"staging"`
	Cache        servicecache.Status    `json:"cache"`
}

// CacheClearResponse reports how many handles were released.
type CacheClearResponse struct {
	Removed int `json:"removed"`
}

// LogEvent is one structured log line.
type LogEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp time.Time         `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse is a page of log events plus the cursor for the next fetch.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
