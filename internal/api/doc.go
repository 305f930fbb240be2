// Package api defines the wire-format types shared by the daemon's HTTP API
// and the CLI, plus a small HTTP client for that API.
//
// # Key Types
//
// Job: transport view of a persisted job with its queue position and display
// names for the language pair.
//
// SubmitRequest: the POST /api/jobs payload. Input is a local path on the
// daemon host or an s3://bucket/key reference.
//
// DaemonStatus: workflow summary, dependency availability, staging usage, and
// service cache occupancy.
//
// LogEvent/LogStreamResponse: structured log payloads for live tailing.
//
// # Client
//
// Client wraps the JSON endpoints and reads the per-job progress stream
// (server-sent events) into progress.Event values. Errors returned by the
// daemon decode into *Error, whose Status carries the HTTP code.
package api
