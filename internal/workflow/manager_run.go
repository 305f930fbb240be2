package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dubline/internal/jobs"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/pipeline"
	"dubline/internal/services"
)

// Start recovers state left by a previous process and launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.mu.Unlock()

	if err := m.recover(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.Int("queued", len(m.pending)),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	return nil
}

// Stop cancels in-flight runs with pipeline.ErrShutdown and waits for the
// workers to exit. Interrupted jobs stay processing until the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	inFlight := len(m.active)
	m.mu.Unlock()

	cancel(pipeline.ErrShutdown)
	m.wg.Wait()
	m.logger.Info("workflow stopped",
		logging.Int("interrupted", inFlight),
		logging.String(logging.FieldEventType, "workflow_stop"),
	)
}

func (m *Manager) recover(ctx context.Context) error {
	interrupted, err := m.store.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if interrupted > 0 {
		logging.WarnWithContext(m.logger, "jobs interrupted by restart marked failed", "jobs_recovered",
			logging.Int64("jobs", interrupted),
			logging.String(logging.FieldImpact, "those jobs need an update run or a new submission"),
			logging.String(logging.FieldErrorHint, "stop the daemon only when no jobs are processing"),
		)
	}

	uploaded, err := m.store.List(ctx, jobs.StatusUploaded)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range uploaded {
		if m.busyLocked(job.ID) {
			continue
		}
		m.pending = append(m.pending, request{jobID: job.ID, mode: jobs.ModeFull, queuedAt: time.Now()})
	}
	metrics.QueueDepth.Set(float64(len(m.pending)))
	if len(uploaded) > 0 {
		m.logger.Info("uploaded jobs re-queued", logging.Int("jobs", len(uploaded)))
		m.signal()
	}
	return nil
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", worker))
	for {
		req, runCtx, cancel, ok := m.next(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}
		m.execute(runCtx, cancel, logger, req)
		// Another worker may have consumed the wake-up for work still queued.
		m.signal()
	}
}

// next pops the oldest request and registers it as active under the same
// lock, so Cancel always finds a job either queued or running.
func (m *Manager) next(parent context.Context) (request, context.Context, context.CancelCauseFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 || parent.Err() != nil {
		return request{}, nil, nil, false
	}
	req := m.pending[0]
	m.pending = m.pending[1:]
	metrics.QueueDepth.Set(float64(len(m.pending)))
	runCtx, cancel := context.WithCancelCause(parent)
	m.active[req.jobID] = &activeRun{mode: req.mode, started: time.Now(), cancel: cancel}
	return req, runCtx, cancel, true
}

func (m *Manager) execute(runCtx context.Context, cancel context.CancelCauseFunc, logger *slog.Logger, req request) {
	defer cancel(nil)

	logger.Info("job dispatched",
		logging.String(logging.FieldJobID, req.jobID),
		logging.String("run_mode", string(req.mode)),
		logging.Duration("queued_for", time.Since(req.queuedAt)),
		logging.String(logging.FieldEventType, "job_dispatched"),
	)

	var err error
	switch req.mode {
	case jobs.ModeUpdate:
		err = m.runner.Update(runCtx, req.jobID, req.edits)
	default:
		err = m.runner.Run(runCtx, req.jobID)
	}

	m.mu.Lock()
	delete(m.active, req.jobID)
	m.finished++
	m.mu.Unlock()

	switch {
	case err == nil:
		return
	case errors.Is(err, pipeline.ErrShutdown), services.IsCancellation(err):
		logger.Debug("job run stopped", logging.String(logging.FieldJobID, req.jobID), logging.Error(err))
	default:
		m.setLastError(req.jobID, err)
		logger.Debug("job run ended with error", logging.String(logging.FieldJobID, req.jobID), logging.Error(err))
	}
}
