// Package daemon coordinates the long-running dublined process.
//
// It wires configuration, the job store, the workflow manager, the service
// cache, and the progress broadcaster into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon admits new
// jobs (validating the request and staging the input), forwards ledger edits
// to the workflow manager, sweeps stale staging directories, and serves the
// HTTP API the dubline CLI talks to.
//
// Keep orchestration logic here: pipeline stages live in internal/pipeline
// and scheduling lives in internal/workflow, while the daemon focuses on
// startup, shutdown, and request handling.
package daemon
