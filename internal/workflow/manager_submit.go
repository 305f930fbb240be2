package workflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/services"
)

// Submit queues a full run for an uploaded job.
func (m *Manager) Submit(ctx context.Context, jobID string) error {
	job, err := m.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != jobs.StatusUploaded {
		return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, jobID, job.Status)
	}
	return m.enqueue(request{jobID: jobID, mode: jobs.ModeFull})
}

// SubmitUpdate checks edits against the job's ledger and queues an update
// run. Edits that cannot be reconciled are rejected here, before queueing.
func (m *Manager) SubmitUpdate(ctx context.Context, jobID string, edits []ledger.Edit) error {
	job, err := m.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	if !jobs.CanTransition(job.Status, jobs.StatusProcessing, jobs.ModeUpdate) {
		return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, jobID, job.Status)
	}
	baseline, err := m.store.LoadLedger(ctx, jobID)
	if err != nil {
		return err
	}
	if baseline == nil {
		return fmt.Errorf("%w: job %s has no ledger to update", services.ErrValidation, jobID)
	}
	if _, _, err := ledger.Reconcile(baseline, edits); err != nil {
		return fmt.Errorf("%w: %w", services.ErrValidation, err)
	}
	return m.enqueue(request{jobID: jobID, mode: jobs.ModeUpdate, edits: edits})
}

// Cancel stops a running job or removes a queued one. A queued full run is
// marked cancelled; a queued update is dropped and the job keeps its
// previous status.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	if run, ok := m.active[jobID]; ok {
		run.cancel(services.ErrCancelled)
		m.mu.Unlock()
		m.logger.Info("cancellation requested",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldEventType, "job_cancel_requested"),
		)
		return nil
	}
	idx := slices.IndexFunc(m.pending, func(r request) bool { return r.jobID == jobID })
	var req request
	if idx >= 0 {
		req = m.pending[idx]
		m.pending = slices.Delete(m.pending, idx, idx+1)
		metrics.QueueDepth.Set(float64(len(m.pending)))
	}
	m.mu.Unlock()

	if idx >= 0 {
		if req.mode == jobs.ModeUpdate {
			m.logger.Info("queued update dropped", logging.String(logging.FieldJobID, jobID))
			return nil
		}
		return m.runner.Abandon(ctx, jobID, "cancelled before start")
	}

	job, err := m.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusUploaded {
		// Not queued because the manager is stopped; cancel it in place.
		return m.runner.Abandon(ctx, jobID, "cancelled before start")
	}
	return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, jobID, job.Status)
}

func (m *Manager) lookup(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", services.ErrNotFound, jobID)
	}
	return job, nil
}

func (m *Manager) enqueue(req request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	if m.busyLocked(req.jobID) {
		return fmt.Errorf("%w: %s", ErrJobBusy, req.jobID)
	}
	if m.capacity > 0 && len(m.pending) >= m.capacity {
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, len(m.pending))
	}
	req.queuedAt = time.Now()
	m.pending = append(m.pending, req)
	metrics.QueueDepth.Set(float64(len(m.pending)))
	m.logger.Info("job queued",
		logging.String(logging.FieldJobID, req.jobID),
		logging.String("run_mode", string(req.mode)),
		logging.Int("position", len(m.pending)),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	m.signal()
	return nil
}
