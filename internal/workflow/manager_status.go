package workflow

import (
	"context"
	"time"

	"dubline/internal/jobs"
	"dubline/internal/logging"
)

// ActiveJob describes one in-flight run.
type ActiveJob struct {
	JobID   string        `json:"job_id"`
	Mode    jobs.Mode     `json:"mode"`
	Elapsed time.Duration `json:"elapsed"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool                `json:"running"`
	Workers   int                 `json:"workers"`
	Active    []ActiveJob         `json:"active"`
	Queued    []string            `json:"queued"`
	Finished  int                 `json:"finished"`
	LastError string              `json:"last_error,omitempty"`
	LastJob   string              `json:"last_job,omitempty"`
	JobStats  map[jobs.Status]int `json:"job_stats"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	now := time.Now()
	m.mu.Lock()
	summary := StatusSummary{
		Running:  m.running,
		Workers:  m.workers,
		Finished: m.finished,
		LastJob:  m.lastJob,
		Queued:   make([]string, 0, len(m.pending)),
		Active:   make([]ActiveJob, 0, len(m.active)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	for _, req := range m.pending {
		summary.Queued = append(summary.Queued, req.jobID)
	}
	for id, run := range m.active {
		summary.Active = append(summary.Active, ActiveJob{JobID: id, Mode: run.mode, Elapsed: now.Sub(run.started)})
	}
	m.mu.Unlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats
	return summary
}

// QueuePosition returns the 1-based position of jobID in the pending queue,
// 0 when it is running, or -1 when it is neither.
func (m *Manager) QueuePosition(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[jobID]; ok {
		return 0
	}
	for i, req := range m.pending {
		if req.jobID == jobID {
			return i + 1
		}
	}
	return -1
}
