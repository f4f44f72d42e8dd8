// Command spool is the command-line entry point for the transcode service.
//
// `spool run` starts the long-running daemon (worker pool, watch folders,
// notifications, history). The remaining commands run in-process against the
// same configuration: `transcode` and `batch` encode and wait, `presets` and
// `history` inspect state, `config` manages the TOML file, and `notify test`
// exercises the notification sinks.
package main
