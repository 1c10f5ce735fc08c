// Package ingest accepts uploads, deduplicates them by content digest, and
// charges accepted bytes against the owner's storage ledger.
package ingest
