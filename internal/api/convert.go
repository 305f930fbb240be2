package api

import (
	"dubline/internal/deps"
	"dubline/internal/jobs"
	"dubline/internal/language"
	"dubline/internal/logging"
	"dubline/internal/services"
)

// FromJob converts a persisted job. position is the workflow queue position
// (1-based, 0 while running, -1 when not queued).
func FromJob(job *jobs.Job, position int) Job {
	if job == nil {
		return Job{}
	}
	out := Job{
		ID:            job.ID,
		Status:        string(job.Status),
		Config:        job.Config,
		TargetName:    language.DisplayName(job.Config.TargetLanguage),
		InputPath:     job.InputPath,
		OutputPath:    job.OutputPath,
		Stage:         job.ProgressStage,
		Percent:       job.ProgressPercent,
		Mode:          string(job.Mode),
		RunCount:      job.RunCount,
		QueuePosition: position,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
	}
	if src := job.Config.SourceLanguage; src != "" && !language.IsAuto(src) {
		out.SourceName = language.DisplayName(src)
	}
	if job.Status == jobs.StatusFailed || job.Status == jobs.StatusCancelled {
		out.Error = job.ErrorMessage
		out.ErrorStage = job.ErrorStage
		if job.ErrorRecord != services.NoRecord {
			record := job.ErrorRecord
			out.ErrorRecord = &record
		}
	}
	return out
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

// FromLogEvents converts hub events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: evt.Timestamp,
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			JobID:     evt.JobID,
			Stage:     evt.Stage,
			Fields:    evt.Fields,
		})
	}
	return out
}
