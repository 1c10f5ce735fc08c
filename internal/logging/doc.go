// Package logging wraps log/slog with soundcrate conventions: console and
// JSON output formats, standardized field names, typed attribute helpers,
// and context-derived fields (account, asset, job, correlation id).
package logging
