// Package logging assembles structured slog loggers and formatting helpers used
// across dubline services.
//
// It owns the console/JSON handlers, rotates the daemon log file through
// lumberjack, and exposes context-aware helpers so stage code can tag log
// lines with job IDs, stages, record indices, and correlation IDs. The
// StreamHub keeps a sequenced tail of recent events for the /api/logs
// endpoint. A no-op logger is provided for tests and wiring code that cannot
// fail.
package logging
