// Package presets discovers the encoder presets the configured engine
// understands and answers membership queries for submissions.
//
// Discovery runs the engine's listing mode and parses the text tolerantly:
// category headers, indented names, descriptions, and the legacy
// "+ Name: flags" format are understood, everything else is skipped. A
// refresh that fails or yields nothing leaves the previous contents intact.
package presets
