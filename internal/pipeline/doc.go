// Package pipeline runs a dubbing job through its stages.
//
// The Orchestrator owns the job's utterance ledger for the duration of a run
// and is the only writer of job status. Each stage resolves its collaborators
// through the service cache, mutates the ledger, and reports progress within
// its weight band; after every stage the ledger snapshot and job progress are
// persisted and a progress event is published.
//
// Two entry points exist. Run executes the full stage list for an uploaded
// job. Update reconciles an edited ledger against the persisted one and
// re-runs only synthesis for the dirty records (plus voice assignment when
// speakers lost or gained voices) before always re-running assembly and
// combination.
package pipeline
