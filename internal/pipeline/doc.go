// Package pipeline runs queued transcode jobs through the external encoder
// with leased claims, bounded workers, and retry with backoff.
package pipeline
