// Package config loads, normalizes, and validates spool configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SPOOL_ENGINE and SMTP_PASSWORD. The Config type centralizes every knob the daemon
// and CLI need: the engine binary and its preset listing mode, the worker pool
// bound, notification sinks, and the watch-folder rules supplied at startup.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
