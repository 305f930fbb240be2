// Package jobs persists dubbing jobs and their utterance ledgers in SQLite.
//
// The Store owns status transitions (uploaded, processing, completed, failed,
// cancelled) and enforces them with conditional updates so a stale caller
// cannot move a job backwards. Progress percentages are monotonic within a
// run; a new run (full or update) resets them to zero.
//
// Ledger snapshots are stored as JSON alongside the job row. Schema changes
// bump schemaVersion in schema.go; operators delete the database to adopt the
// new schema.
package jobs
