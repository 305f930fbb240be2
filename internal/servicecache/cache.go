package servicecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
	"golang.org/x/sync/singleflight"

	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/services"
)

// ErrUnknownEngine is returned when no factory is registered for a key.
var ErrUnknownEngine = errors.New("unknown engine")

// Entry is a cached handle plus bookkeeping.
type Entry struct {
	Key         Key
	Handle      any
	CreatedAt   time.Time
	LastUsed    time.Time
	MemoryBytes int64
}

// EntryStatus is the externally visible view of an entry.
type EntryStatus struct {
	Key         string    `json:"key"`
	Kind        Kind      `json:"kind"`
	Engine      string    `json:"engine"`
	Model       string    `json:"model,omitempty"`
	Device      string    `json:"device,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
	MemoryBytes int64     `json:"memory_bytes"`
}

// Status summarizes the cache.
type Status struct {
	Enabled          bool          `json:"enabled"`
	Entries          []EntryStatus `json:"entries"`
	TotalMemoryBytes int64         `json:"total_memory_bytes"`
}

// MemoryProbe reports the current resident memory of the process.
type MemoryProbe func() (uint64, error)

// Option customizes a Cache.
type Option func(*Cache)

// WithEnabled toggles caching. A disabled cache creates a fresh handle per lookup.
func WithEnabled(enabled bool) Option {
	return func(c *Cache) { c.enabled = enabled }
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "service-cache")
		}
	}
}

// WithMemoryProbe overrides the resident memory probe used for estimates.
func WithMemoryProbe(probe MemoryProbe) Option {
	return func(c *Cache) { c.probe = probe }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache holds one handle per key.
type Cache struct {
	registry *Registry
	enabled  bool
	logger   *slog.Logger
	probe    MemoryProbe
	now      func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[Key]*Entry
}

// New constructs a cache backed by registry.
func New(registry *Registry, opts ...Option) *Cache {
	c := &Cache{
		registry: registry,
		enabled:  true,
		logger:   logging.NewNop(),
		probe:    processRSS,
		now:      time.Now,
		entries:  make(map[Key]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the handle for key, creating it on first use.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	if c.enabled {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok {
			entry.LastUsed = c.now()
			handle := entry.Handle
			c.mu.Unlock()
			metrics.RecordCacheLookup(string(key.Kind), "hit")
			return handle, nil
		}
		c.mu.Unlock()
	}

	factory, err := c.registry.Lookup(key.Kind, key.Engine)
	if err != nil {
		metrics.RecordCacheLookup(string(key.Kind), "error")
		return nil, services.Wrap(services.ErrConfiguration, "", "resolve service", key.String(), err)
	}

	if !c.enabled {
		metrics.RecordCacheLookup(string(key.Kind), "miss")
		return factory(ctx, key)
	}

	handle, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return entry.Handle, nil
		}
		c.mu.Unlock()

		before := c.sampleMemory()
		started := c.now()
		handle, err := factory(ctx, key)
		if err != nil {
			return nil, err
		}
		after := c.sampleMemory()

		entry := &Entry{
			Key:         key,
			Handle:      handle,
			CreatedAt:   c.now(),
			LastUsed:    c.now(),
			MemoryBytes: max(after-before, 0),
		}
		c.mu.Lock()
		c.entries[key] = entry
		size := len(c.entries)
		c.mu.Unlock()
		metrics.CacheEntries.Set(float64(size))

		c.logger.Info("service handle created",
			logging.String("service", key.String()),
			logging.Duration("elapsed", c.now().Sub(started)),
			logging.Int64("memory_bytes", entry.MemoryBytes),
			logging.String(logging.FieldEventType, "service_cached"),
		)
		return handle, nil
	})
	if err != nil {
		metrics.RecordCacheLookup(string(key.Kind), "error")
		return nil, err
	}
	metrics.RecordCacheLookup(string(key.Kind), "miss")
	return handle, nil
}

// Resolve looks up key and asserts the handle type.
func Resolve[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	handle, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := handle.(T)
	if !ok {
		return zero, services.Wrap(services.ErrConfiguration, "", "resolve service", key.String(),
			fmt.Errorf("handle type %T does not satisfy requested interface", handle))
	}
	return typed, nil
}

// Clear drops every cached handle and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[Key]*Entry)
	c.mu.Unlock()
	metrics.CacheEntries.Set(0)

	for key, entry := range entries {
		closer, ok := entry.Handle.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			logging.WarnWithContext(c.logger, "service handle close failed", "service_close_failed",
				logging.String("service", key.String()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "resources held by the handle may leak until exit"),
			)
		}
	}
	if len(entries) > 0 {
		c.logger.Info("service cache cleared",
			logging.Int("entries", len(entries)),
			logging.String(logging.FieldEventType, "service_cache_cleared"),
		)
	}
	return len(entries)
}

// Status reports current entries sorted by key.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{Enabled: c.enabled, Entries: make([]EntryStatus, 0, len(c.entries))}
	for key, entry := range c.entries {
		status.Entries = append(status.Entries, EntryStatus{
			Key:         key.String(),
			Kind:        key.Kind,
			Engine:      key.Engine,
			Model:       key.Model,
			Device:      key.Device,
			CreatedAt:   entry.CreatedAt,
			LastUsed:    entry.LastUsed,
			MemoryBytes: entry.MemoryBytes,
		})
		status.TotalMemoryBytes += entry.MemoryBytes
	}
	slices.SortFunc(status.Entries, func(a, b EntryStatus) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return status
}

func (c *Cache) sampleMemory() int64 {
	if c.probe == nil {
		return 0
	}
	rss, err := c.probe()
	if err != nil {
		return 0
	}
	return int64(rss)
}

func processRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
