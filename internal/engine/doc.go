// Package engine wraps the external transcoding executable.
//
// It builds argument vectors from job fields, launches the encoder in its own
// process group with stdout and stderr merged into one stream, and exposes a
// Process handle whose lifecycle is live, terminating, then gone. Output is
// split on newlines and carriage returns because HandBrakeCLI redraws its
// progress line in place.
//
// Line interpretation lives behind the Parser interface so the grammar can be
// swapped per engine version without touching process handling.
package engine
