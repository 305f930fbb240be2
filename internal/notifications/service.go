package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubline/internal/config"
)

const userAgent = "dubline/0.1.0"

// Event enumerates notification types.
type Event string

const (
	EventJobStarted   Event = "job_started"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobCancelled Event = "job_cancelled"
	EventTest         Event = "test"
)

// Payload carries event-specific fields.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobCompleted: cfg.Notifications.JobCompleted,
			EventJobFailed:    cfg.Notifications.JobFailed,
			EventJobCancelled: cfg.Notifications.JobCancelled,
			EventTest:         true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	input := label(data, "input")
	switch event {
	case EventJobCompleted:
		message := fmt.Sprintf("✅ Dub ready: %s", input)
		if lang := label(data, "targetLanguage"); lang != "" {
			message = fmt.Sprintf("✅ Dub ready (%s): %s", lang, input)
		}
		if output := label(data, "output"); output != "" {
			message = fmt.Sprintf("%s\nFile: %s", message, output)
		}
		if elapsed, ok := data["elapsed"].(time.Duration); ok && elapsed > 0 {
			message = fmt.Sprintf("%s\nTook %s", message, elapsed.Round(time.Second))
		}
		return payload{
			title:    "dubline - Complete",
			message:  message,
			tags:     []string{"dubline", "job", "completed"},
			priority: "high",
		}, true
	case EventJobFailed:
		var builder strings.Builder
		builder.WriteString("❌ Dub failed")
		if input != "" {
			builder.WriteString(" for ")
			builder.WriteString(input)
		}
		if stage := label(data, "stage"); stage != "" {
			builder.WriteString(" at ")
			builder.WriteString(stage)
		}
		builder.WriteString(": ")
		if message := label(data, "error"); message != "" {
			builder.WriteString(message)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "dubline - Error",
			message:  builder.String(),
			tags:     []string{"dubline", "error", "alert"},
			priority: "high",
		}, true
	case EventJobCancelled:
		return payload{
			title:   "dubline - Cancelled",
			message: fmt.Sprintf("Job cancelled: %s", input),
			tags:    []string{"dubline", "job", "cancelled"},
		}, true
	case EventTest:
		return payload{
			title:    "dubline - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"dubline", "test"},
			priority: "low",
		}, true
	}
	return payload{}, false
}

func label(data Payload, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
