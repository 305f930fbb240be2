package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dubline/internal/config"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
)

var (
	// ErrJobBusy is returned when a job is already queued or running.
	ErrJobBusy = errors.New("job is already queued or running")
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrNotRunning is returned when work is submitted to a stopped manager.
	ErrNotRunning = errors.New("workflow is not running")
)

// Runner executes pipeline runs. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID string) error
	Update(ctx context.Context, jobID string, edits []ledger.Edit) error
	Abandon(ctx context.Context, jobID, reason string) error
}

type request struct {
	jobID    string
	mode     jobs.Mode
	edits    []ledger.Edit
	queuedAt time.Time
}

type activeRun struct {
	mode    jobs.Mode
	started time.Time
	cancel  context.CancelCauseFunc
}

// Manager coordinates job execution.
type Manager struct {
	cfg    *config.Config
	store  *jobs.Store
	runner Runner
	logger *slog.Logger

	workers  int
	capacity int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelCauseFunc
	wg       sync.WaitGroup
	wake     chan struct{}
	pending  []request
	active   map[string]*activeRun
	lastErr  error
	lastJob  string
	finished int
}

// NewManager constructs a manager. It does not start workers.
func NewManager(cfg *config.Config, store *jobs.Store, runner Runner, logger *slog.Logger) *Manager {
	workers := cfg.Pipeline.MaxConcurrentJobs
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		workers:  workers,
		capacity: cfg.Pipeline.QueueCapacity,
		wake:     make(chan struct{}, 1),
		active:   make(map[string]*activeRun),
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) busyLocked(jobID string) bool {
	if _, ok := m.active[jobID]; ok {
		return true
	}
	for _, req := range m.pending {
		if req.jobID == jobID {
			return true
		}
	}
	return false
}

func (m *Manager) setLastError(jobID string, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.lastJob = jobID
	m.mu.Unlock()
}
