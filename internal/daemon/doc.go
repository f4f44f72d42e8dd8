// Package daemon coordinates the long-running spool process.
//
// It builds the job store, preset registry, orchestrator, notification
// dispatcher, history journal, and watch-folder ingestor from configuration
// and runs them under a flock-based lock so only one daemon owns a state
// directory. Observers are registered here: the orchestrator knows nothing
// about notifications, history, or watch folders.
//
// Keep orchestration logic out of this package: it only starts, stops, and
// reports on the components.
package daemon
