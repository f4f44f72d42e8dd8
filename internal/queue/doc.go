// Package queue owns the in-memory job model and the store that serializes
// every job mutation.
//
// The Store hands out value snapshots of Job records; callers never hold a
// reference to the live record. Each job carries its own mutex so transitions
// on different jobs never contend, while the store-wide lock only guards the
// id index. Status changes go through Transition, which enforces the
// forward-only state machine and stamps lifecycle timestamps exactly once.
//
// Treat this package as the single source of truth for job semantics; when you
// add a status, update the transition table in models.go.
package queue
