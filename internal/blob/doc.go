// Package blob implements the write-once object store that holds asset
// bytes. Writes stream through a temp file with an incremental SHA-256
// digest and byte count, then land under their key with an atomic rename.
package blob
