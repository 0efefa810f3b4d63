// Package worker consumes work items from the queue and drives each
// row through validation, duplicate detection, and the record store
// commit, writing terminal statuses back to submission records and
// fanning out outcome events.
//
// Error handling follows a closed taxonomy. Each row handler returns a
// RowResult variant instead of letting errors propagate:
//
//   - RowOk: the row completed and its person mutation is committed
//   - RowTerminal: a business rejection (validation failure, duplicate,
//     missing target); the submission is failed with a reason and the
//     item is NOT redelivered — a retry cannot change the verdict
//   - RowRetryable: an infrastructure failure (store unreachable); the
//     whole item is released with backoff, and buried past the attempt
//     ceiling with best-effort failure records so the outcome stays
//     visible
//
// A batch acknowledges exactly once, after every row holds a terminal
// status; a mix of completed and failed rows is an accepted outcome.
package worker
