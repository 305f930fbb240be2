package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"dubline/internal/config"
)

// RedisRelay publishes events on a Redis channel so processes other than the
// daemon (dashboards, the CLI on another host) can follow progress.
type RedisRelay struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisRelay returns nil when no Redis address is configured.
func NewRedisRelay(cfg *config.Config) *RedisRelay {
	if cfg == nil || strings.TrimSpace(cfg.Progress.RedisAddr) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Progress.RedisAddr,
		Password: cfg.Progress.RedisPassword,
		DB:       cfg.Progress.RedisDB,
	})
	return NewRedisRelayWithClient(client, cfg.Progress.RedisChannel)
}

// NewRedisRelayWithClient wraps an existing client.
func NewRedisRelayWithClient(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = "dubline:progress"
	}
	return &RedisRelay{client: client, channel: channel, timeout: 2 * time.Second}
}

// Channel returns the Redis channel name.
func (r *RedisRelay) Channel() string { return r.channel }

// Ping checks connectivity.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Deliver publishes evt as JSON.
func (r *RedisRelay) Deliver(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Follow streams relayed events for jobID (all jobs when empty) until ctx is
// done or a final event for jobID arrives.
func (r *RedisRelay) Follow(ctx context.Context, jobID string) (<-chan Event, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				evt, err := DecodeEvent([]byte(msg.Payload))
				if err != nil || (jobID != "" && evt.JobID != jobID) {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
				if jobID != "" && evt.Final {
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// DecodeEvent parses a relayed event payload.
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode progress event: %w", err)
	}
	if evt.JobID == "" {
		return Event{}, fmt.Errorf("decode progress event: missing job id")
	}
	return evt, nil
}
