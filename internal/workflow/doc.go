// Package workflow schedules dubbing jobs onto a bounded pool of workers.
//
// The Manager keeps a FIFO of pending full runs and update runs, hands them
// to a pipeline runner with at most max_concurrent_jobs in flight, and lets
// callers cancel queued or running jobs. On start it fails jobs a previous
// process left processing and re-queues jobs that were uploaded but never
// started. Stop cancels in-flight runs with a shutdown cause so they stay
// recoverable on the next start.
package workflow
