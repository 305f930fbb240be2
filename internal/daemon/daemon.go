package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dubline/internal/api"
	"dubline/internal/config"
	"dubline/internal/jobs"
	"dubline/internal/logging"
	"dubline/internal/notifications"
	"dubline/internal/preflight"
	"dubline/internal/progress"
	"dubline/internal/servicecache"
	"dubline/internal/staging"
	"dubline/internal/storage"
	"dubline/internal/workflow"
)

const defaultSweepInterval = time.Hour

// Options carries the collaborators a Daemon coordinates. Storage, Notifier
// and LogHub are optional.
type Options struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *jobs.Store
	Workflow    *workflow.Manager
	Cache       *servicecache.Cache
	Broadcaster *progress.Broadcaster
	Storage     *storage.Store
	Notifier    notifications.Service
	LogHub      *logging.StreamHub
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *jobs.Store
	workflow    *workflow.Manager
	cache       *servicecache.Cache
	broadcaster *progress.Broadcaster
	storage     *storage.Store
	notifier    notifications.Service
	hub         *logging.StreamHub

	lockPath      string
	lock          *flock.Flock
	api           *apiServer
	sweepInterval time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Workflow == nil || opts.Cache == nil || opts.Broadcaster == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, service cache, and broadcaster")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(opts.Config)
	}

	lockPath := opts.Config.LockPath()
	d := &Daemon{
		cfg:           opts.Config,
		logger:        logging.NewComponentLogger(logger, "daemon"),
		store:         opts.Store,
		workflow:      opts.Workflow,
		cache:         opts.Cache,
		broadcaster:   opts.Broadcaster,
		storage:       opts.Storage,
		notifier:      notifier,
		hub:           opts.LogHub,
		lockPath:      lockPath,
		lock:          flock.New(lockPath),
		sweepInterval: defaultSweepInterval,
	}
	d.api = newAPIServer(opts.Config, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workflow manager, the staging
// janitor, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dublined instance is already running")
	}

	d.runPreflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.done = make(chan struct{})
	go d.runJanitor(runCtx, d.done)

	d.running.Store(true)
	d.logger.Info("dublined started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. Runs in
// flight are interrupted and resume as failed on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.done != nil {
		<-d.done
		d.done = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale lock file may remain until the process exits"),
		)
	}
	d.running.Store(false)
	d.logger.Info("dublined stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.cache.Clear()
	return d.store.Close()
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the address the API server listens on, or "" before Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(ctx),
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(d.cfg)),
		Cache:        d.cache.Status(),
	}
	dirs, bytes, err := staging.Usage(d.cfg.Paths.StagingDir)
	if err != nil {
		d.logger.Debug("staging usage unavailable", logging.Error(err))
	}
	status.Staging = api.StagingUsage{Directories: dirs, Bytes: bytes}
	return status
}

// CacheStatus reports the loaded collaborator handles.
func (d *Daemon) CacheStatus() servicecache.Status {
	return d.cache.Status()
}

// ClearCache releases every cached collaborator handle.
func (d *Daemon) ClearCache() int {
	return d.cache.Clear()
}

// LogStream exposes the in-memory log hub, or nil when none is configured.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.hub
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{
		"message": "dublined notification test",
	})
}

func (d *Daemon) runPreflight(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, result := range preflight.Failed(preflight.RunAll(checkCtx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "jobs depending on this check will fail until it passes"),
		)
	}
	for _, dep := range preflight.CheckSystemDeps(d.cfg) {
		if dep.Available || dep.Optional {
			continue
		}
		logging.WarnWithContext(d.logger, "required binary missing", "dependency_missing",
			logging.String("dependency", dep.Name),
			logging.String("command", dep.Command),
			logging.String(logging.FieldErrorHint, "install "+dep.Command+" and ensure it is on PATH"),
		)
	}
}
