package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"dubline/internal/config"
	"dubline/internal/daemon"
	"dubline/internal/engines/catalog"
	"dubline/internal/jobs"
	"dubline/internal/logging"
	"dubline/internal/media"
	"dubline/internal/notifications"
	"dubline/internal/pipeline"
	"dubline/internal/preflight"
	"dubline/internal/progress"
	"dubline/internal/servicecache"
	"dubline/internal/storage"
	"dubline/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// PIDFileName is written to paths.state_dir while the daemon runs.
const PIDFileName = "dublined.pid"

const logHubCapacity = 4096

// Run starts the dubline daemon and blocks until SIGINT, SIGTERM, or
// cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logHub := logging.NewStreamHub(logHubCapacity)
	logger, logCloser, err := logging.NewFromConfig(cfg, logHub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	toolkit := media.NewToolkit(cfg.FFmpegBinary(), cfg.FFprobeBinary(), media.WithLogger(logger))
	registry := servicecache.NewRegistry()
	catalog.Register(registry, cfg, catalog.Options{Media: toolkit, Logger: logger})
	cache := servicecache.New(registry,
		servicecache.WithEnabled(cfg.Engines.CacheEnabled),
		servicecache.WithLogger(logger),
	)

	broadcasterOpts := []progress.Option{progress.WithLogger(logger)}
	if relay := progress.NewRedisRelay(cfg); relay != nil {
		if err := relay.Ping(signalCtx); err != nil {
			logger.Warn("progress relay unreachable; events stay in-process",
				logging.Error(err),
				logging.String(logging.FieldEventType, "progress_relay_unavailable"),
				logging.String(logging.FieldErrorHint, "check progress.redis_addr"),
			)
		}
		defer relay.Close()
		broadcasterOpts = append(broadcasterOpts, progress.WithSink(relay))
	}
	broadcaster := progress.NewBroadcaster(cfg.Progress.BufferSize, broadcasterOpts...)

	objectStore, err := storage.New(signalCtx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("init object storage: %w", err)
	}

	notifier := notifications.NewService(cfg)

	deps := pipeline.Deps{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Cache:       cache,
		Broadcaster: broadcaster,
		Media:       toolkit,
		Notifier:    notifier,
	}
	if objectStore != nil && cfg.Storage.PublishOutputs {
		deps.Publisher = objectStore
	}
	orchestrator, err := pipeline.New(deps)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create pipeline: %w", err)
	}

	manager := workflow.NewManager(cfg, store, orchestrator, logger)
	d, err := daemon.New(daemon.Options{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Workflow:    manager,
		Cache:       cache,
		Broadcaster: broadcaster,
		Storage:     objectStore,
		Notifier:    notifier,
		LogHub:      logHub,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration, lock file, and api_bind"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("dubline daemon shutting down", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("recognition_engine", cfg.Engines.Recognition.Engine),
		logging.String("translation_engine", cfg.Engines.Translation.Engine),
		logging.String("synthesis_engine", cfg.Engines.Synthesis.Engine),
		logging.Bool("translation_key_present", strings.TrimSpace(cfg.Engines.Translation.APIKey) != ""),
		logging.Bool("storage_enabled", cfg.Storage.Enabled),
		logging.Bool("progress_relay", strings.TrimSpace(cfg.Progress.RedisAddr) != ""),
	}
	for _, status := range preflight.CheckSystemDeps(cfg) {
		key := strings.ToLower(strings.ReplaceAll(status.Name, " ", "_"))
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", attrs...)
}
