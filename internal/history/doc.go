// Package history journals job lifecycles to SQLite so completed work
// survives restarts.
//
// The journal is an orchestrator observer: every status transition upserts
// one row keyed by job id. Opening the journal reconciles rows a previous
// process left queued or running, marking them failed, and prunes rows older
// than the retention window. The in-memory queue remains the source of truth
// for live jobs; the journal is read only by `spool history`.
package history
