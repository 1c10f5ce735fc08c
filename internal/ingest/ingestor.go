package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"soundcrate/internal/accounts"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/logging"
	"soundcrate/internal/notify"
	"soundcrate/internal/services"
	"soundcrate/internal/store"
)

// Outcome reports how an upload was resolved.
type Outcome string

const (
	// OutcomeStored means a new object was written and a new charge recorded.
	OutcomeStored Outcome = "stored"
	// OutcomeDuplicate means an identical object already existed for the
	// owner; no new bytes were stored and no new charge was recorded.
	OutcomeDuplicate Outcome = "duplicate"
)

// Request carries one upload into the ingestor.
type Request struct {
	OwnerID      string
	ContainerID  string
	Title        string
	MimeType     string
	DeclaredSize int64
	Body         io.Reader
}

// Result reports the accepted asset and how it was resolved.
type Result struct {
	Outcome Outcome
	Asset   *store.Asset
}

// Ingestor validates uploads, streams them into blob storage, deduplicates
// against the owner's existing assets, and records quota charges.
type Ingestor struct {
	cfg      *config.Config
	store    *store.Store
	blobs    *blob.Store
	limits   accounts.Provider
	notifier notify.Service
	logger   *slog.Logger
}

// New builds an Ingestor.
func New(cfg *config.Config, st *store.Store, blobs *blob.Store, limits accounts.Provider, notifier notify.Service, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		store:    st,
		blobs:    blobs,
		limits:   limits,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "ingest"),
	}
}

// Ingest runs the full upload path. The body is streamed to a temporary blob
// while its digest accumulates, so validation failures after the stream starts
// still leave no committed object behind.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := i.validate(ctx, req); err != nil {
		return nil, err
	}

	ctx = services.WithAccountID(ctx, req.OwnerID)

	limits, err := i.limits.LimitsFor(ctx, req.OwnerID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "limits", "resolve account limits", err)
	}

	b, err := i.blobs.NewBlob()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "stage", "create staging blob", err)
	}
	defer b.Discard()

	// Read one byte past the cap so oversized bodies are detected without
	// trusting the declared size.
	written, err := io.Copy(b, io.LimitReader(req.Body, i.cfg.Ingest.MaxUploadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "stage", "stream upload body", err)
	}
	if written > i.cfg.Ingest.MaxUploadBytes {
		return nil, services.Wrap(services.ErrValidation, "ingest", "stage",
			fmt.Sprintf("upload exceeds maximum size of %d bytes", i.cfg.Ingest.MaxUploadBytes), nil)
	}
	if req.DeclaredSize > 0 && written != req.DeclaredSize {
		return nil, services.Wrap(services.ErrValidation, "ingest", "stage",
			fmt.Sprintf("declared size %d does not match received %d bytes", req.DeclaredSize, written), nil)
	}
	if written == 0 {
		return nil, services.Wrap(services.ErrValidation, "ingest", "stage", "upload body is empty", nil)
	}

	digest := b.Digest()

	// Content-identical uploads by the same owner resolve to the existing
	// asset. The staged bytes are discarded and nothing new is charged.
	if existing, err := i.store.FindDuplicate(ctx, req.OwnerID, digest, written); err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "dedup", "look up duplicate", err)
	} else if existing != nil {
		i.logger.InfoContext(ctx, "upload deduplicated",
			logging.Args(
				logging.String(logging.FieldAssetID, existing.ID),
				logging.String("digest", digest),
				logging.Int64("size_bytes", written),
			)...)
		return &Result{Outcome: OutcomeDuplicate, Asset: existing}, nil
	}

	now := time.Now().UTC()
	asset := &store.Asset{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		ContainerID: req.ContainerID,
		Title:       req.Title,
		StorageKey:  digest,
		SizeBytes:   written,
		Digest:      digest,
		MimeType:    req.MimeType,
		Visibility:  store.VisibilityPrivate,
		Lifecycle:   store.LifecycleActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if asset.Title == "" {
		asset.Title = "untitled"
	}

	if err := b.Commit(digest); err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "commit", "commit blob", err)
	}

	if err := i.store.CreateAssetCharged(ctx, asset, limits.StorageBytes); err != nil {
		i.reclaimObject(ctx, asset)
		if errors.Is(err, store.ErrQuotaExceeded) {
			return nil, services.Wrap(services.ErrQuotaExceeded, "ingest", "charge",
				"storage quota exceeded", err)
		}
		return nil, services.Wrap(services.ErrTransient, "ingest", "charge", "create asset record", err)
	}

	i.logger.InfoContext(ctx, "asset ingested",
		logging.Args(
			logging.String(logging.FieldAssetID, asset.ID),
			logging.String("digest", digest),
			logging.Int64("size_bytes", written),
			logging.String("mime_type", asset.MimeType),
		)...)

	if err := i.notifier.AssetCreated(ctx, asset.ID, asset.OwnerID, asset.Title, asset.SizeBytes); err != nil {
		i.logger.WarnContext(ctx, "asset created notification failed", logging.Args(logging.Error(err))...)
	}

	return &Result{Outcome: OutcomeStored, Asset: asset}, nil
}

// reclaimObject removes a freshly committed object after the asset record
// failed to persist. Objects are content addressed, so the object stays when
// another asset already shares the same key.
func (i *Ingestor) reclaimObject(ctx context.Context, asset *store.Asset) {
	referenced, err := i.store.StorageKeyReferenced(ctx, asset.StorageKey, asset.ID)
	if err != nil {
		i.logger.WarnContext(ctx, "storage key reference check failed",
			logging.Args(logging.String("storage_key", asset.StorageKey), logging.Error(err))...)
		return
	}
	if referenced {
		return
	}
	if err := i.blobs.Remove(asset.StorageKey); err != nil {
		i.logger.WarnContext(ctx, "reclaiming staged object failed",
			logging.Args(logging.String("storage_key", asset.StorageKey), logging.Error(err))...)
	}
}

func (i *Ingestor) validate(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return services.Wrap(services.ErrValidation, "ingest", "validate", "owner required", nil)
	}
	if req.Body == nil {
		return services.Wrap(services.ErrValidation, "ingest", "validate", "upload body required", nil)
	}
	if req.DeclaredSize > i.cfg.Ingest.MaxUploadBytes {
		return services.Wrap(services.ErrValidation, "ingest", "validate",
			fmt.Sprintf("declared size %d exceeds maximum of %d bytes", req.DeclaredSize, i.cfg.Ingest.MaxUploadBytes), nil)
	}
	if !i.typeAllowed(req.MimeType) {
		return services.Wrap(services.ErrValidation, "ingest", "validate",
			fmt.Sprintf("content type %q is not accepted", req.MimeType), nil)
	}
	if req.ContainerID != "" {
		container, err := i.store.GetContainer(ctx, req.ContainerID)
		if err != nil {
			return services.Wrap(services.ErrTransient, "ingest", "validate", "look up container", err)
		}
		if container == nil {
			return services.Wrap(services.ErrNotFound, "ingest", "validate",
				fmt.Sprintf("container %s does not exist", req.ContainerID), nil)
		}
		if container.OwnerID != req.OwnerID {
			return services.Wrap(services.ErrValidation, "ingest", "validate",
				"container belongs to a different owner", nil)
		}
	}
	return nil
}

func (i *Ingestor) typeAllowed(mimeType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if normalized == "" {
		return false
	}
	// Strip parameters such as charset before matching.
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	for _, allowed := range i.cfg.Ingest.AllowedTypes {
		if normalized == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}
