// Package services defines shared utilities consumed by the ingest, access,
// and pipeline components and by external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp account IDs, asset IDs, job IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent retry decisions (terminal vs retryable).
//
// Use these helpers when wiring new component logic so operational behaviour
// (error handling, observability, retries) stays uniform across the system.
package services
