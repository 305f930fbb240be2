// Package storage moves media between the job staging area and an
// S3-compatible object store: remote inputs referenced as s3://bucket/key are
// fetched before a job is created, and finished outputs can be published
// back under a per-job prefix.
package storage
