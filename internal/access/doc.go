// Package access enforces visibility, password, share-token, and expiration
// policy on every delivery path, and owns the asset management surface.
package access
