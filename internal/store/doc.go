// Package store manages asset, quota ledger, and transcode job persistence
// backed by a single SQLite database.
//
// All ledger mutations are single-statement conditional updates so that
// concurrent request handlers never race through a read-modify-write window:
// a storage reservation either lands within the limit or affects zero rows.
// Charged asset creation and guarded release run inside one transaction so
// an asset record and its ledger charge can never drift apart.
package store
