// Package queue persists pipeline jobs, idempotency records, and provider
// request correlations in SQLite.
//
// The store is the single writer surface for job state. Transitions are
// conditional compare-and-set operations on the current status: two racing
// callers for the same job never both win, while callers touching different
// jobs proceed in parallel. Terminal jobs are retained for audit and never
// mutated again.
package queue
