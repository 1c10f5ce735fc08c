// Package config loads, normalizes, and validates soundcrate configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and centralizes every knob the daemon and
// CLI need: storage directories, quota limits, transcode worker settings,
// lifecycle sweep timing, and the webhook sink.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
