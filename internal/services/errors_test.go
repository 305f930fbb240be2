package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"dubline/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrCollaborator, "synthesis", "speak", "tts request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"synthesis", "speak", "tts request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestRetryablePolicy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"collaborator", services.Wrap(services.ErrCollaborator, "translation", "", "timeout", nil), true},
		{"plain error", errors.New("io"), true},
		{"validation", services.Wrap(services.ErrValidation, "validation", "", "bad language", nil), false},
		{"resource", services.Wrap(services.ErrResource, "assembly", "", "disk full", nil), false},
		{"cancelled", services.ErrCancelled, false},
		{"context cancelled", fmt.Errorf("call: %w", context.Canceled), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestAtStageKeepsInnermostLocation(t *testing.T) {
	inner := services.AtStage("synthesis", 3, services.Wrap(services.ErrCollaborator, "synthesis", "speak", "", nil))
	outer := services.AtStage("pipeline", services.NoRecord, fmt.Errorf("run: %w", inner))

	var stageErr *services.StageError
	if !errors.As(outer, &stageErr) {
		t.Fatalf("expected StageError in chain, got %v", outer)
	}
	if stageErr.Stage != "synthesis" || stageErr.Record != 3 {
		t.Fatalf("unexpected location %s/%d", stageErr.Stage, stageErr.Record)
	}
	if !strings.Contains(inner.Error(), "record 3") {
		t.Fatalf("expected record index in message, got %q", inner.Error())
	}
	if services.AtStage("x", 0, nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}

func TestClassify(t *testing.T) {
	if got := services.Classify(services.Wrap(services.ErrValidation, "", "", "", nil)); got != "validation" {
		t.Fatalf("unexpected class %q", got)
	}
	if got := services.Classify(context.Canceled); got != "cancelled" {
		t.Fatalf("unexpected class %q", got)
	}
	if got := services.Classify(errors.New("x")); got != "collaborator" {
		t.Fatalf("unexpected class %q", got)
	}
}
