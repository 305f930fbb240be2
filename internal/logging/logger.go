package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"dubline/internal/config"
)

// LogFileName is the daemon log file inside paths.log_dir.
const LogFileName = "dublined.log"

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	Writers     []io.Writer
	Development bool
	Hub         *StreamHub
	// StageOverrides maps stage names to levels applied via ForStage.
	StageOverrides map[string]string
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	floor := floorLevel(level, opts.StageOverrides)
	levelVar := new(slog.LevelVar)
	levelVar.Set(floor)

	var out io.Writer = os.Stdout
	switch len(opts.Writers) {
	case 0:
	case 1:
		out = opts.Writers[0]
	default:
		out = io.MultiWriter(opts.Writers...)
	}

	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	var handler slog.Handler
	switch format {
	case "json":
		handler = newJSONHandler(out, levelVar, addSource)
	case "", "console":
		handler = newConsoleHandler(out, levelVar, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	logger := slog.New(newStreamHandler(handler, opts.Hub))
	if floor < level {
		// The handler accepts the most verbose stage override; everything
		// else stays at the configured level.
		logger = WithLevelOverride(logger, level)
	}
	return logger, nil
}

// NewFromConfig creates the daemon logger: stdout plus a rotated log file under
// paths.log_dir. The returned closer flushes and closes the file.
func NewFromConfig(cfg *config.Config, hub *StreamHub) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		logger, err := New(Options{Level: "info", Format: "console", Hub: hub})
		return logger, nopCloser{}, err
	}

	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, LogFileName),
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.RetentionDays,
			Compress:   true,
		}
		writers = append(writers, rotator)
		closer = rotator
	}

	logger, err := New(Options{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Writers:        writers,
		Hub:            hub,
		StageOverrides: cfg.Logging.StageOverrides,
	})
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &opts)
}
