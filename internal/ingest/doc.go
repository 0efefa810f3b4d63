// Package ingest accepts raw change requests from the three entry
// points (interactive forms, the API, and CSV batch files), creates the
// queued submission records that make every request auditable from the
// moment it is accepted, and enqueues work items for the workers.
// Anything beyond that — validation, dedup, committing the change — is
// the worker's job.
package ingest
