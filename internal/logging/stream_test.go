package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestStreamHandlerCarriesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).
		With(slog.String(FieldComponent, "pipeline")).
		With(slog.String(FieldJobID, "job-1")).
		With(slog.String(FieldStage, "synthesis"))
	logger.Info("record synthesized", slog.Int(FieldRecordIndex, 4))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.JobID != "job-1" || evt.Stage != "synthesis" || evt.Component != "pipeline" {
		t.Fatalf("unexpected event identity %+v", evt)
	}
	if evt.Fields[FieldRecordIndex] != "4" {
		t.Fatalf("expected record_index field, got %v", evt.Fields)
	}
}

func TestStreamHandlerCallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).With(slog.String(FieldStage, "original"))
	logger.Info("message", slog.String(FieldStage, "overridden"))

	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Stage != "overridden" {
		t.Fatalf("expected overridden stage, got %+v", events)
	}
}

func TestStreamHandlerNilHub(t *testing.T) {
	base := slog.NewTextHandler(discardWriter{}, nil)
	if handler := newStreamHandler(base, nil); handler != base {
		t.Errorf("expected base handler when hub is nil")
	}
}

func TestStreamHubCapacityAndFirstSequence(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	events, next := hub.Tail(10)
	if len(events) != 3 {
		t.Fatalf("expected ring of 3, got %d", len(events))
	}
	if next != 5 {
		t.Fatalf("expected next sequence 5, got %d", next)
	}
	if first := hub.FirstSequence(); first != 3 {
		t.Fatalf("expected first buffered sequence 3, got %d", first)
	}
}

func TestStreamHubFetchFiltersByJob(t *testing.T) {
	hub := NewStreamHub(10)
	hub.Publish(LogEvent{Message: "a", JobID: "one"})
	hub.Publish(LogEvent{Message: "b", JobID: "two"})
	hub.Publish(LogEvent{Message: "c", JobID: "one"})

	events, next, err := hub.Fetch(context.Background(), 0, 10, "one", false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 || events[0].Message != "a" || events[1].Message != "c" {
		t.Fatalf("unexpected events %+v", events)
	}
	if next != 3 {
		t.Fatalf("expected cursor 3, got %d", next)
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(LogEvent{Message: "late"})
	}()

	events, _, err := hub.Fetch(ctx, 0, 10, "", true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Message != "late" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestStreamHubFetchHonoursCancellation(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := hub.Fetch(ctx, 0, 10, "", true); err == nil {
		t.Fatal("expected context error")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
