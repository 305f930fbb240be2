package logging

import (
	"context"
	"log/slog"
	"strings"
)

// levelOverrideHandler enforces a per-logger minimum level while delegating
// output to the wrapped handler (which should be configured with the most
// verbose level needed globally).
type levelOverrideHandler struct {
	next  slog.Handler
	level slog.Level
}

func newLevelOverrideHandler(next slog.Handler, level slog.Level) slog.Handler {
	if next == nil {
		return NoopHandler{}
	}
	return &levelOverrideHandler{next: next, level: level}
}

func (h *levelOverrideHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.level {
		return false
	}
	return h.next.Enabled(ctx, level)
}

func (h *levelOverrideHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *levelOverrideHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h *levelOverrideHandler) WithGroup(name string) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithGroup(name), level: h.level}
}

func (h *levelOverrideHandler) cloneWithLevel(level slog.Level) slog.Handler {
	return &levelOverrideHandler{next: h.next, level: level}
}

// WithLevelOverride returns a logger that enforces the provided minimum level
// while preserving existing attributes and handler wiring.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if h, ok := logger.Handler().(*levelOverrideHandler); ok {
		return slog.New(h.cloneWithLevel(level))
	}
	return slog.New(newLevelOverrideHandler(logger.Handler(), level))
}

// ForStage applies the logging.stage_overrides entry for stage, if any.
func ForStage(logger *slog.Logger, overrides map[string]string, stage string) *slog.Logger {
	if override := stageOverrideLevel(overrides, stage); override != "" {
		return WithLevelOverride(logger, parseLevel(override))
	}
	return logger
}

func stageOverrideLevel(overrides map[string]string, stage string) string {
	if len(overrides) == 0 {
		return ""
	}
	stage = strings.ToLower(strings.TrimSpace(stage))
	if stage == "" {
		return ""
	}
	for key, value := range overrides {
		if strings.ToLower(strings.TrimSpace(key)) == stage {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// floorLevel returns the most verbose of base and every override, which is
// the level the underlying handler must accept.
func floorLevel(base slog.Level, overrides map[string]string) slog.Level {
	floor := base
	for _, value := range overrides {
		floor = min(floor, parseLevel(value))
	}
	return floor
}
