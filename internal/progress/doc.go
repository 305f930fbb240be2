// Package progress fans job progress events out to any number of
// subscribers.
//
// Each job is a topic. Publishing assigns a per-job sequence number and clamps
// the percentage so it never decreases within a run. A subscriber that joins
// late first receives the last-known event. Final events close every
// subscriber channel for the job. Sinks (such as the Redis relay) receive a
// copy of every published event for consumers outside the daemon process.
package progress
