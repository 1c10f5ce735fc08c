package ingest_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"soundcrate/internal/accounts"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/ingest"
	"soundcrate/internal/logging"
	"soundcrate/internal/notify"
	"soundcrate/internal/services"
	"soundcrate/internal/store"
	"soundcrate/internal/testsupport"
)

func newIngestor(t *testing.T, cfg *config.Config) (*ingest.Ingestor, *store.Store, *blob.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobStore(t, cfg)
	limits := accounts.NewStaticProvider(cfg.Limits.StorageBytes, cfg.Limits.BandwidthBytesMonth)
	ing := ingest.New(cfg, st, blobs, limits, notify.NewNop(), logging.NewNop())
	return ing, st, blobs
}

func uploadRequest(owner, body string) ingest.Request {
	return ingest.Request{
		OwnerID:      owner,
		Title:        "demo track",
		MimeType:     "audio/mpeg",
		DeclaredSize: int64(len(body)),
		Body:         strings.NewReader(body),
	}
}

func TestIngestStoresAndCharges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ing, st, _ := newIngestor(t, cfg)
	ctx := context.Background()

	body := "pretend this is mpeg audio"
	result, err := ing.Ingest(ctx, uploadRequest("owner", body))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Outcome != ingest.OutcomeStored {
		t.Fatalf("expected stored outcome, got %s", result.Outcome)
	}
	if result.Asset.SizeBytes != int64(len(body)) {
		t.Fatalf("unexpected asset size %d", result.Asset.SizeBytes)
	}
	if result.Asset.Digest == "" || result.Asset.StorageKey != result.Asset.Digest {
		t.Fatalf("expected content-addressed storage key, got %#v", result.Asset)
	}

	used, err := st.StorageUsed(ctx, "owner")
	if err != nil {
		t.Fatalf("StorageUsed failed: %v", err)
	}
	if used != int64(len(body)) {
		t.Fatalf("expected %d bytes charged, got %d", len(body), used)
	}
}

func TestIngestDeduplicatesWithoutSecondCharge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ing, st, _ := newIngestor(t, cfg)
	ctx := context.Background()

	body := "identical bytes both times"
	first, err := ing.Ingest(ctx, uploadRequest("owner", body))
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	second, err := ing.Ingest(ctx, uploadRequest("owner", body))
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	if second.Outcome != ingest.OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %s", second.Outcome)
	}
	if second.Asset.ID != first.Asset.ID {
		t.Fatal("duplicate must resolve to the existing asset")
	}

	used, _ := st.StorageUsed(ctx, "owner")
	if used != int64(len(body)) {
		t.Fatalf("duplicate charged the ledger again: %d", used)
	}

	// A different owner uploading the same bytes gets their own asset and
	// their own charge.
	other, err := ing.Ingest(ctx, uploadRequest("other", body))
	if err != nil {
		t.Fatalf("other owner Ingest failed: %v", err)
	}
	if other.Outcome != ingest.OutcomeStored {
		t.Fatalf("expected stored outcome across owners, got %s", other.Outcome)
	}
	if other.Asset.ID == first.Asset.ID {
		t.Fatal("assets must not be shared across owners")
	}
}

func TestIngestRefusesOverQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStorageLimit(10))
	ing, st, blobs := newIngestor(t, cfg)
	ctx := context.Background()

	body := "this body is longer than ten bytes"
	_, err := ing.Ingest(ctx, uploadRequest("owner", body))
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	used, _ := st.StorageUsed(ctx, "owner")
	if used != 0 {
		t.Fatalf("refused upload left %d bytes charged", used)
	}
	// The refused reservation reclaims the just-written bytes too.
	if blobs.Exists(digestOf(body)) {
		t.Fatal("refused upload left an unreferenced object in storage")
	}
}

func TestIngestQuotaRefusalKeepsSharedObjects(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStorageLimit(40))
	ing, _, blobs := newIngestor(t, cfg)
	ctx := context.Background()

	body := "same bytes, two owners, one object"
	if _, err := ing.Ingest(ctx, uploadRequest("first", body)); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if _, err := ing.Ingest(ctx, uploadRequest("second", "eats most of the quota")); err != nil {
		t.Fatalf("filler Ingest failed: %v", err)
	}

	// The second owner's quota refuses the shared bytes, but the object is
	// shared with the first owner's asset and must survive the cleanup.
	if _, err := ing.Ingest(ctx, uploadRequest("second", body)); !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if !blobs.Exists(digestOf(body)) {
		t.Fatal("shared object removed by a refused upload")
	}
}

func digestOf(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

func TestIngestRejectsDisallowedType(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ing, _, _ := newIngestor(t, cfg)

	req := uploadRequest("owner", "an executable, honest")
	req.MimeType = "application/octet-stream"
	_, err := ing.Ingest(context.Background(), req)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestAcceptsTypeParameters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ing, _, _ := newIngestor(t, cfg)

	req := uploadRequest("owner", "audio with charset")
	req.MimeType = "audio/mpeg; charset=binary"
	result, err := ing.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Outcome != ingest.OutcomeStored {
		t.Fatalf("expected stored outcome, got %s", result.Outcome)
	}
}

func TestIngestRejectsDeclaredSizeMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ing, _, _ := newIngestor(t, cfg)

	req := uploadRequest("owner", "actual body")
	req.DeclaredSize = 9999
	_, err := ing.Ingest(context.Background(), req)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestRejectsOversizedBody(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxUpload(8))
	ing, _, _ := newIngestor(t, cfg)

	req := ingest.Request{
		OwnerID:  "owner",
		MimeType: "audio/mpeg",
		Body:     bytes.NewReader(bytes.Repeat([]byte{0x42}, 64)),
	}
	_, err := ing.Ingest(context.Background(), req)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestChecksContainerOwnership(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ing, st, _ := newIngestor(t, cfg)
	ctx := context.Background()

	if err := st.CreateContainer(ctx, &store.Container{
		ID:      "crate-1",
		OwnerID: "someone-else",
		Title:   "their crate",
	}); err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}

	req := uploadRequest("owner", "body")
	req.ContainerID = "crate-1"
	_, err := ing.Ingest(ctx, req)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for foreign container, got %v", err)
	}

	req = uploadRequest("owner", "body")
	req.ContainerID = "missing"
	_, err = ing.Ingest(ctx, req)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error for missing container, got %v", err)
	}
}
