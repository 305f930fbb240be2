// Package services defines shared utilities consumed by the pipeline stages
// and the collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, record indices, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the retry and status policy (validation, collaborator, resource,
//     cancellation).
//   - StageError, which carries the failing stage and record index up to the
//     orchestrator so user-visible failures can name both.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
