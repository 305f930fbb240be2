package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks bad input or configuration. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrCollaborator marks a failed call to an external engine. Retried per record.
	ErrCollaborator = errors.New("collaborator error")
	// ErrResource marks disk, memory, or device exhaustion. Not retried per record.
	ErrResource = errors.New("resource error")
	// ErrCancelled marks a cooperative cancellation observed at a stage boundary.
	ErrCancelled = errors.New("cancellation requested")

	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// NoRecord is the record index used when a failure is not tied to one utterance.
const NoRecord = -1

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrCollaborator
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// StageError records which stage (and optionally which record) failed.
type StageError struct {
	Stage  string
	Record int
	Err    error
}

func (e *StageError) Error() string {
	if e.Record != NoRecord {
		return fmt.Sprintf("stage %s failed at record %d: %v", e.Stage, e.Record, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage attaches the stage name (and record index, or NoRecord) to err. An
// existing StageError is returned unchanged so the innermost location wins.
func AtStage(stage string, record int, err error) error {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) {
		return err
	}
	return &StageError{Stage: stage, Record: record, Err: err}
}

// Retryable reports whether a per-record retry may help.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrResource) || errors.Is(err, ErrCancelled) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// IsCancellation reports whether err represents a requested cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Classify returns a short label for metrics and logs.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsCancellation(err):
		return "cancelled"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return "validation"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "collaborator"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
