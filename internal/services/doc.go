// Package services defines shared utilities consumed by the orchestrator,
// ingestor, and notification components.
//
// It holds the context helpers that stamp job IDs and correlation identifiers
// for logging, and the structured error markers plus the Wrap helper that keep
// failures classifiable with errors.Is across component boundaries.
package services
