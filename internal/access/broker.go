package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"soundcrate/internal/accounts"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/logging"
	"soundcrate/internal/services"
	"soundcrate/internal/store"
)

// DenyReason classifies why a resolve request was refused.
type DenyReason string

const (
	DenyNotFound         DenyReason = "not_found"
	DenyForbidden        DenyReason = "forbidden"
	DenyPasswordRequired DenyReason = "password_required"
	DenyQuotaExceeded    DenyReason = "quota_exceeded"
)

// Request identifies an asset to resolve and the caller's credentials.
// Ref is either an asset identifier or a share token; share tokens are
// tried first so the two namespaces never collide for callers.
type Request struct {
	Ref      string
	CallerID string
	Password string
	Usage    store.UsageType
}

// Decision is the outcome of resolving an access request. When Allowed is
// true the asset may be served; otherwise Reason explains the refusal.
// Trashed and expired assets present as absent to non-owners so a prober
// cannot distinguish retired from never-existed.
type Decision struct {
	Allowed  bool
	Reason   DenyReason
	Asset    *store.Asset
	ViaToken bool
}

// Broker enforces the visibility, password, token, and expiration policy on
// every delivery path, and meters bandwidth after bytes move.
type Broker struct {
	cfg    *config.Config
	store  *store.Store
	blobs  *blob.Store
	limits accounts.Provider
	logger *slog.Logger
}

// NewBroker builds a Broker.
func NewBroker(cfg *config.Config, st *store.Store, blobs *blob.Store, limits accounts.Provider, logger *slog.Logger) *Broker {
	return &Broker{
		cfg:    cfg,
		store:  st,
		blobs:  blobs,
		limits: limits,
		logger: logging.NewComponentLogger(logger, "access"),
	}
}

// Resolve evaluates the access policy for one request. It never moves bytes;
// callers serve the blob themselves and then call RecordServe.
func (b *Broker) Resolve(ctx context.Context, req Request) (*Decision, error) {
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return &Decision{Reason: DenyNotFound}, nil
	}

	asset, viaToken, err := b.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return &Decision{Reason: DenyNotFound}, nil
	}

	ctx = services.WithAssetID(ctx, asset.ID)
	now := time.Now().UTC()
	isOwner := req.CallerID != "" && req.CallerID == asset.OwnerID

	// Lifecycle gates come before everything else. Trashed and expired
	// assets are unreachable on every path, including a valid share token,
	// and present as absent to non-owners.
	if !asset.Servable(now) {
		if isOwner {
			return &Decision{Reason: DenyForbidden, Asset: asset}, nil
		}
		return &Decision{Reason: DenyNotFound}, nil
	}

	// Owners bypass visibility and password gates but never the lifecycle
	// gates above.
	if isOwner {
		return b.allow(ctx, asset, viaToken, req)
	}

	// The password gate comes before visibility: an absent or mismatched
	// password re-issues the same challenge, and a valid share token does
	// not stand in for the password.
	if asset.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(asset.PasswordHash), []byte(req.Password)) != nil {
			return &Decision{Reason: DenyPasswordRequired, Asset: asset}, nil
		}
	}

	if !viaToken && asset.Visibility != store.VisibilityPublic {
		return &Decision{Reason: DenyForbidden, Asset: asset}, nil
	}

	return b.allow(ctx, asset, viaToken, req)
}

// allow runs the owner's bandwidth pre-check before admitting the transfer.
// The check is advisory: concurrent transfers may still push the ledger past
// the limit, and RecordServe settles the true total afterwards.
func (b *Broker) allow(ctx context.Context, asset *store.Asset, viaToken bool, req Request) (*Decision, error) {
	limits, err := b.limits.LimitsFor(ctx, asset.OwnerID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "resolve", "resolve account limits", err)
	}
	if limits.BandwidthBytesMonth > 0 {
		used, err := b.store.BandwidthPeriodTotal(ctx, asset.OwnerID, store.Period(time.Now().UTC()))
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "access", "resolve", "read bandwidth ledger", err)
		}
		if used >= limits.BandwidthBytesMonth {
			return &Decision{Reason: DenyQuotaExceeded, Asset: asset}, nil
		}
	}
	return &Decision{Allowed: true, Asset: asset, ViaToken: viaToken}, nil
}

func (b *Broker) lookup(ctx context.Context, ref string) (*store.Asset, bool, error) {
	asset, err := b.store.GetAssetByShareToken(ctx, ref)
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "access", "resolve", "look up share token", err)
	}
	if asset != nil {
		return asset, true, nil
	}
	asset, err = b.store.GetAsset(ctx, ref)
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "access", "resolve", "look up asset", err)
	}
	return asset, false, nil
}

// RecordServe meters transferred bytes against the owner's bandwidth ledger
// and bumps the matching counter. Called after the transfer completes with
// the byte count that actually moved, which may be less than the asset size
// for aborted or ranged transfers.
func (b *Broker) RecordServe(ctx context.Context, asset *store.Asset, usage store.UsageType, transferred int64) {
	if asset == nil || transferred <= 0 {
		return
	}
	period := store.Period(time.Now().UTC())
	total, err := b.store.MeterBandwidth(ctx, asset.OwnerID, usage, period, transferred)
	if err != nil {
		b.logger.ErrorContext(ctx, "bandwidth metering failed",
			logging.Args(
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String(logging.FieldAccountID, asset.OwnerID),
				logging.Error(err),
			)...)
		return
	}

	var counterErr error
	switch usage {
	case store.UsageDownload:
		counterErr = b.store.IncrementDownloadCount(ctx, asset.ID)
	case store.UsageStream:
		counterErr = b.store.IncrementViewCount(ctx, asset.ID)
	}
	if counterErr != nil {
		b.logger.WarnContext(ctx, "serve counter update failed",
			logging.Args(logging.String(logging.FieldAssetID, asset.ID), logging.Error(counterErr))...)
	}

	b.logger.DebugContext(ctx, "serve recorded",
		logging.Args(
			logging.String(logging.FieldAssetID, asset.ID),
			logging.String("usage", string(usage)),
			logging.Int64("bytes", transferred),
			logging.Int64("period_total", total),
		)...)
}

// ShareLink is the public address pair for one shared asset.
type ShareLink struct {
	Token    string
	URL      string
	EmbedURL string
}

// IssueShareLink mints or returns the asset's share token and builds the
// public URLs for it. Repeated calls return the same token.
func (b *Broker) IssueShareLink(ctx context.Context, callerID, assetID string) (*ShareLink, error) {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Lifecycle != store.LifecycleActive {
		return nil, services.Wrap(services.ErrValidation, "access", "share", "cannot share a trashed asset", nil)
	}

	candidate, err := newShareToken()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "share", "generate share token", err)
	}
	token, err := b.store.EnsureShareToken(ctx, asset.ID, candidate)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "share", "persist share token", err)
	}

	base := strings.TrimRight(b.cfg.Paths.PublicBaseURL, "/")
	return &ShareLink{
		Token:    token,
		URL:      fmt.Sprintf("%s/d/%s", base, token),
		EmbedURL: fmt.Sprintf("%s/e/%s", base, token),
	}, nil
}

// RevokeShareLink removes the asset's share token. Existing links stop
// resolving immediately.
func (b *Broker) RevokeShareLink(ctx context.Context, callerID, assetID string) error {
	asset, err := b.ownedAsset(ctx, callerID, assetID)
	if err != nil {
		return err
	}
	if err := b.store.RevokeShareToken(ctx, asset.ID); err != nil {
		return services.Wrap(services.ErrTransient, "access", "share", "revoke share token", err)
	}
	return nil
}

func newShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Usage summarizes one account's ledger state for the current period.
type Usage struct {
	AccountID           string
	StorageUsedBytes    int64
	StorageLimitBytes   int64
	BandwidthUsedBytes  int64
	BandwidthLimitBytes int64
	Period              string
	History             []store.BandwidthEntry
}

// Usage reads the account's storage and bandwidth ledgers.
func (b *Broker) Usage(ctx context.Context, accountID string) (*Usage, error) {
	limits, err := b.limits.LimitsFor(ctx, accountID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "usage", "resolve account limits", err)
	}
	storageUsed, err := b.store.StorageUsed(ctx, accountID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "usage", "read storage ledger", err)
	}
	period := store.Period(time.Now().UTC())
	bandwidthUsed, err := b.store.BandwidthPeriodTotal(ctx, accountID, period)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "usage", "read bandwidth ledger", err)
	}
	history, err := b.store.BandwidthHistory(ctx, accountID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "usage", "read bandwidth history", err)
	}
	return &Usage{
		AccountID:           accountID,
		StorageUsedBytes:    storageUsed,
		StorageLimitBytes:   limits.StorageBytes,
		BandwidthUsedBytes:  bandwidthUsed,
		BandwidthLimitBytes: limits.BandwidthBytesMonth,
		Period:              period,
		History:             history,
	}, nil
}

// ownedAsset fetches an asset and verifies the caller owns it. Assets the
// caller does not own present as absent.
func (b *Broker) ownedAsset(ctx context.Context, callerID, assetID string) (*store.Asset, error) {
	asset, err := b.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "access", "lookup", "look up asset", err)
	}
	if asset == nil || asset.OwnerID != callerID {
		return nil, services.Wrap(services.ErrNotFound, "access", "lookup",
			fmt.Sprintf("asset %s not found", assetID), nil)
	}
	return asset, nil
}
