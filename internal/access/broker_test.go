package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"soundcrate/internal/access"
	"soundcrate/internal/accounts"
	"soundcrate/internal/config"
	"soundcrate/internal/logging"
	"soundcrate/internal/services"
	"soundcrate/internal/store"
	"soundcrate/internal/testsupport"
)

func newBroker(t *testing.T, cfg *config.Config) (*access.Broker, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobStore(t, cfg)
	limits := accounts.NewStaticProvider(cfg.Limits.StorageBytes, cfg.Limits.BandwidthBytesMonth)
	return access.NewBroker(cfg, st, blobs, limits, logging.NewNop()), st
}

func TestResolvePublicAssetByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100, func(a *store.Asset) {
		a.Visibility = store.VisibilityPublic
	})

	decision, err := broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allow, got reason %s", decision.Reason)
	}
}

func TestResolvePrivateAssetForbidden(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)

	decision, err := broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if decision.Allowed || decision.Reason != access.DenyForbidden {
		t.Fatalf("private asset must deny as forbidden, got %#v", decision)
	}

	// The owner still resolves it.
	decision, err = broker.Resolve(ctx, access.Request{Ref: asset.ID, CallerID: "owner", Usage: store.UsageStream})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("owner denied: %#v", decision)
	}
}

func TestResolveShareTokenBypassesVisibility(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	link, err := broker.IssueShareLink(ctx, "owner", asset.ID)
	if err != nil {
		t.Fatalf("IssueShareLink failed: %v", err)
	}

	decision, err := broker.Resolve(ctx, access.Request{Ref: link.Token, Usage: store.UsageDownload})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !decision.Allowed || !decision.ViaToken {
		t.Fatalf("token access denied: %#v", decision)
	}

	// Issuance is idempotent.
	again, err := broker.IssueShareLink(ctx, "owner", asset.ID)
	if err != nil {
		t.Fatalf("second IssueShareLink failed: %v", err)
	}
	if again.Token != link.Token {
		t.Fatalf("token changed across issuances: %s vs %s", again.Token, link.Token)
	}

	if err := broker.RevokeShareLink(ctx, "owner", asset.ID); err != nil {
		t.Fatalf("RevokeShareLink failed: %v", err)
	}
	decision, err = broker.Resolve(ctx, access.Request{Ref: link.Token, Usage: store.UsageDownload})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("revoked token still resolves")
	}
}

func TestResolvePasswordGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	asset := testsupport.NewAsset(t, st, "owner", 100, func(a *store.Asset) {
		a.Visibility = store.VisibilityPublic
	})
	if err := st.UpdateAssetPasswordHash(ctx, asset.ID, string(hash)); err != nil {
		t.Fatalf("UpdateAssetPasswordHash failed: %v", err)
	}

	decision, _ := broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if decision.Allowed || decision.Reason != access.DenyPasswordRequired {
		t.Fatalf("expected password challenge, got %#v", decision)
	}

	// A mismatched password re-issues the same challenge as an absent one.
	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, Password: "wrong", Usage: store.UsageStream})
	if decision.Allowed || decision.Reason != access.DenyPasswordRequired {
		t.Fatalf("expected password challenge for wrong password, got %#v", decision)
	}

	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, Password: "letmein", Usage: store.UsageStream})
	if !decision.Allowed {
		t.Fatalf("correct password denied: %#v", decision)
	}

	// Owners skip the password gate entirely.
	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, CallerID: "owner", Usage: store.UsageStream})
	if !decision.Allowed {
		t.Fatalf("owner challenged for password: %#v", decision)
	}
}

func TestPasswordGateOutranksVisibility(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	asset := testsupport.NewAsset(t, st, "owner", 100)
	if err := st.UpdateAssetPasswordHash(ctx, asset.ID, string(hash)); err != nil {
		t.Fatalf("UpdateAssetPasswordHash failed: %v", err)
	}

	// A private passworded asset challenges before it refuses on visibility.
	decision, _ := broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if decision.Allowed || decision.Reason != access.DenyPasswordRequired {
		t.Fatalf("expected password challenge, got %#v", decision)
	}

	// The correct password alone is not enough for a private asset.
	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, Password: "letmein", Usage: store.UsageStream})
	if decision.Allowed || decision.Reason != access.DenyForbidden {
		t.Fatalf("expected visibility denial, got %#v", decision)
	}

	// A share token clears visibility but never the password gate.
	link, err := broker.IssueShareLink(ctx, "owner", asset.ID)
	if err != nil {
		t.Fatalf("IssueShareLink failed: %v", err)
	}
	decision, _ = broker.Resolve(ctx, access.Request{Ref: link.Token, Usage: store.UsageDownload})
	if decision.Allowed || decision.Reason != access.DenyPasswordRequired {
		t.Fatalf("expected password challenge via token, got %#v", decision)
	}
	decision, _ = broker.Resolve(ctx, access.Request{Ref: link.Token, Password: "letmein", Usage: store.UsageDownload})
	if !decision.Allowed {
		t.Fatalf("token plus password denied: %#v", decision)
	}
}

func TestExpiryOutranksEveryCredential(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100, func(a *store.Asset) {
		a.Visibility = store.VisibilityPublic
	})
	link, err := broker.IssueShareLink(ctx, "owner", asset.ID)
	if err != nil {
		t.Fatalf("IssueShareLink failed: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if err := st.UpdateAssetExpiration(ctx, asset.ID, &past); err != nil {
		t.Fatalf("UpdateAssetExpiration failed: %v", err)
	}

	// Token, public visibility, and anonymity all lose to expiry.
	decision, _ := broker.Resolve(ctx, access.Request{Ref: link.Token, Usage: store.UsageDownload})
	if decision.Allowed || decision.Reason != access.DenyNotFound {
		t.Fatalf("expired asset served via token: %#v", decision)
	}
	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if decision.Allowed {
		t.Fatalf("expired asset served by id: %#v", decision)
	}

	// The owner sees the asset exists but cannot fetch it either.
	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, CallerID: "owner", Usage: store.UsageStream})
	if decision.Allowed || decision.Reason != access.DenyForbidden {
		t.Fatalf("expected owner-visible denial, got %#v", decision)
	}
}

func TestTrashedAssetUnreachable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100, func(a *store.Asset) {
		a.Visibility = store.VisibilityPublic
	})
	if err := broker.Trash(ctx, "owner", asset.ID); err != nil {
		t.Fatalf("Trash failed: %v", err)
	}

	decision, _ := broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if decision.Allowed {
		t.Fatal("trashed asset served")
	}

	if err := broker.Restore(ctx, "owner", asset.ID); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	decision, _ = broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageStream})
	if !decision.Allowed {
		t.Fatalf("restored asset denied: %#v", decision)
	}
}

func TestBandwidthLimitDeniesAndMetersAfter(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBandwidthLimit(500))
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100, func(a *store.Asset) {
		a.Visibility = store.VisibilityPublic
	})

	decision, err := broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageDownload})
	if err != nil || !decision.Allowed {
		t.Fatalf("Resolve: %#v err=%v", decision, err)
	}
	broker.RecordServe(ctx, asset, store.UsageDownload, 600)

	decision, err = broker.Resolve(ctx, access.Request{Ref: asset.ID, Usage: store.UsageDownload})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if decision.Allowed || decision.Reason != access.DenyQuotaExceeded {
		t.Fatalf("expected bandwidth denial, got %#v", decision)
	}

	fetched, _ := st.GetAsset(ctx, asset.ID)
	if fetched.DownloadCount != 1 {
		t.Fatalf("expected 1 download recorded, got %d", fetched.DownloadCount)
	}
}

func TestOwnerMutationsRequireOwnership(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)

	if err := broker.Rename(ctx, "intruder", asset.ID, "mine now"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for foreign caller, got %v", err)
	}
	if _, err := broker.IssueShareLink(ctx, "intruder", asset.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for foreign share, got %v", err)
	}
	if err := broker.Rename(ctx, "owner", asset.ID, "renamed"); err != nil {
		t.Fatalf("owner rename failed: %v", err)
	}
	fetched, _ := st.GetAsset(ctx, asset.ID)
	if fetched.Title != "renamed" {
		t.Fatalf("rename not applied: %q", fetched.Title)
	}
}

func TestSetPasswordStoresHashNotPlaintext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	if err := broker.SetPassword(ctx, "owner", asset.ID, "hunter2"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	fetched, _ := st.GetAsset(ctx, asset.ID)
	if fetched.PasswordHash == "" || fetched.PasswordHash == "hunter2" {
		t.Fatalf("plaintext or empty hash stored: %q", fetched.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(fetched.PasswordHash), []byte("hunter2")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}

	if err := broker.SetPassword(ctx, "owner", asset.ID, ""); err != nil {
		t.Fatalf("clear password failed: %v", err)
	}
	fetched, _ = st.GetAsset(ctx, asset.ID)
	if fetched.PasswordHash != "" {
		t.Fatal("expected password protection cleared")
	}
}

func TestDeleteReleasesChargeImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 100)
	if err := broker.Delete(ctx, "owner", asset.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	used, _ := st.StorageUsed(ctx, "owner")
	if used != 0 {
		t.Fatalf("expected charge released, ledger shows %d", used)
	}
	fetched, _ := st.GetAsset(ctx, asset.ID)
	if fetched != nil {
		t.Fatal("expected asset row gone")
	}
}

func TestUsageRollup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broker, st := newBroker(t, cfg)
	ctx := context.Background()

	asset := testsupport.NewAsset(t, st, "owner", 2048)
	broker.RecordServe(ctx, asset, store.UsageStream, 512)

	usage, err := broker.Usage(ctx, "owner")
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage.StorageUsedBytes != 2048 {
		t.Fatalf("expected 2048 storage bytes, got %d", usage.StorageUsedBytes)
	}
	if usage.BandwidthUsedBytes != 512 {
		t.Fatalf("expected 512 bandwidth bytes, got %d", usage.BandwidthUsedBytes)
	}
	if len(usage.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(usage.History))
	}
}
