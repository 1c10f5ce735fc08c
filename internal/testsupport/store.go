package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustOpenBlobStore opens a blob.Store rooted at the configured storage dir.
func MustOpenBlobStore(t testing.TB, cfg *config.Config) *blob.Store {
	t.Helper()

	blobs, err := blob.New(cfg.Paths.StorageDir)
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	return blobs
}

// NewAsset creates and charges an active asset for tests. The digest defaults
// to a unique value so assets do not deduplicate against each other unless
// the test sets one explicitly.
func NewAsset(t testing.TB, st *store.Store, ownerID string, sizeBytes int64, opts ...func(*store.Asset)) *store.Asset {
	t.Helper()

	digest := uuid.NewString()
	asset := &store.Asset{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Title:      "test asset",
		StorageKey: digest,
		SizeBytes:  sizeBytes,
		Digest:     digest,
		MimeType:   "audio/mpeg",
		Visibility: store.VisibilityPrivate,
		Lifecycle:  store.LifecycleActive,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(asset)
	}
	if err := st.CreateAssetCharged(context.Background(), asset, 1<<40); err != nil {
		t.Fatalf("store.CreateAssetCharged: %v", err)
	}
	return asset
}
